// Package currency contains the exchange-rate sources the service can be
// configured with.
package currency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownBackend = errors.New("unknown currency backend")
	ErrTimeout        = errors.New("currency backend timeout")
)

// Rate is the value of one base unit in Target
type Rate struct {
	Target string
	Rate   decimal.Decimal
}

// Backend fetches current rates for a base currency
type Backend interface {
	Name() string
	FetchRates(ctx context.Context, base string, targets []string) ([]Rate, error)
}

// Config holds what any backend may need
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	StaticRates map[string]decimal.Decimal
	HTTPClient  *http.Client
}

// Backend names
const (
	BackendFreeCurrencyAPI = "freecurrencyapi"
	BackendStatic          = "static"
)

// Lookup builds the backend registered under name
func Lookup(name string, cfg Config) (Backend, error) {
	switch name {
	case BackendFreeCurrencyAPI:
		return NewFreeCurrencyAPI(cfg)
	case BackendStatic:
		return NewStatic(cfg.StaticRates), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
