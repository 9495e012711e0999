package currency

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Static serves a fixed rate table
type Static struct {
	rates map[string]decimal.Decimal
}

var _ Backend = (*Static)(nil)

func NewStatic(rates map[string]decimal.Decimal) *Static {
	cp := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &Static{rates: cp}
}

func (s *Static) Name() string { return BackendStatic }

// FetchRates returns the configured rates, limited to targets when given
func (s *Static) FetchRates(_ context.Context, _ string, targets []string) ([]Rate, error) {
	codes := targets
	if len(codes) == 0 {
		for code := range s.rates {
			codes = append(codes, code)
		}
		sort.Strings(codes)
	}

	out := make([]Rate, 0, len(codes))
	for _, code := range codes {
		if r, ok := s.rates[code]; ok {
			out = append(out, Rate{Target: code, Rate: r})
		}
	}
	return out, nil
}
