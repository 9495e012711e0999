package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultFreeCurrencyAPIURL = "https://api.freecurrencyapi.com"

// FreeCurrencyAPI reads rates from api.freecurrencyapi.com
type FreeCurrencyAPI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Backend = (*FreeCurrencyAPI)(nil)

// NewFreeCurrencyAPI creates the backend; an API key is required
func NewFreeCurrencyAPI(cfg Config) (*FreeCurrencyAPI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("freecurrencyapi: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFreeCurrencyAPIURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &FreeCurrencyAPI{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

func (f *FreeCurrencyAPI) Name() string { return BackendFreeCurrencyAPI }

type latestResponse struct {
	Data map[string]json.RawMessage `json:"data"`
}

// FetchRates calls GET /v1/latest. Pairs the API omits are simply absent
// from the result.
func (f *FreeCurrencyAPI) FetchRates(ctx context.Context, base string, targets []string) ([]Rate, error) {
	q := url.Values{}
	q.Set("apikey", f.apiKey)
	q.Set("base_currency", base)
	if len(targets) > 0 {
		q.Set("currencies", strings.Join(targets, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v1/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("freecurrencyapi request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("freecurrencyapi returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("freecurrencyapi: malformed response: %w", err)
	}

	codes := make([]string, 0, len(payload.Data))
	for code := range payload.Data {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	rates := make([]Rate, 0, len(codes))
	for _, code := range codes {
		// unparsable values come back as zero; the caller rejects them per pair
		var d decimal.Decimal
		if err := d.UnmarshalJSON(payload.Data[code]); err != nil {
			d = decimal.Zero
		}
		rates = append(rates, Rate{Target: code, Rate: d})
	}
	return rates, nil
}
