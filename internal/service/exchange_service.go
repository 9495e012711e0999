package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"payment-service/internal/cache"
	"payment-service/internal/currency"
	"payment-service/internal/models"
	"payment-service/internal/money"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultRateCacheTTL is used when no TTL is configured
const DefaultRateCacheTTL = 7 * 24 * time.Hour

// RateCacheKey is the cache key of one base/target pair
func RateCacheKey(base, target string) string {
	return fmt.Sprintf("exchange_rate:%s:%s", base, target)
}

// BackendSource picks the rate backend to use for a refresh
type BackendSource interface {
	Backend(ctx context.Context) (currency.Backend, error)
}

// BackendFunc adapts a function to BackendSource
type BackendFunc func(ctx context.Context) (currency.Backend, error)

func (f BackendFunc) Backend(ctx context.Context) (currency.Backend, error) { return f(ctx) }

// PluginBackendSource uses the active CURRENCY_BACKEND plugin, or the
// configured default when none is active
type PluginBackendSource struct {
	plugins  PluginStore
	cfg      currency.Config
	fallback string
}

func NewPluginBackendSource(plugins PluginStore, cfg currency.Config, fallback string) *PluginBackendSource {
	return &PluginBackendSource{plugins: plugins, cfg: cfg, fallback: fallback}
}

func (s *PluginBackendSource) Backend(ctx context.Context) (currency.Backend, error) {
	name := s.fallback
	p, err := s.plugins.ActivePlugin(ctx, models.PluginTypeCurrencyBackend)
	switch {
	case err == nil:
		name = p.Name
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to load active currency backend: %w", err)
	}
	return currency.Lookup(name, s.cfg)
}

// ExchangeConfig configures the exchange service
type ExchangeConfig struct {
	BaseCurrency string
	Targets      []string
	CacheTTL     time.Duration
}

// RefreshResult reports which pairs a refresh stored and which it rejected
type RefreshResult struct {
	Backend string            `json:"backend"`
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed"`
}

// ExchangeService serves exchange rates from a read-through cache over the
// rates table
type ExchangeService struct {
	rates     RateStore
	cache     cache.Cache
	backends  BackendSource
	publisher RateEventPublisher
	cfg       ExchangeConfig
	logger    *zap.Logger
}

// NewExchangeService creates a new exchange service
func NewExchangeService(rates RateStore, c cache.Cache, backends BackendSource, publisher RateEventPublisher, cfg ExchangeConfig) *ExchangeService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultRateCacheTTL
	}
	return &ExchangeService{
		rates:     rates,
		cache:     c,
		backends:  backends,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// BaseCurrency returns the currency all rates are quoted against
func (es *ExchangeService) BaseCurrency() string { return es.cfg.BaseCurrency }

// GetExchangeRate returns how many target units one base unit buys
func (es *ExchangeService) GetExchangeRate(ctx context.Context, target string) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "ExchangeService.GetExchangeRate")
	defer span.End()

	target, err := money.ParseCurrency(target)
	if err != nil {
		return decimal.Zero, err
	}
	if target == es.cfg.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}

	key := RateCacheKey(es.cfg.BaseCurrency, target)
	cached, ok, err := es.cache.Get(ctx, key)
	if err != nil {
		es.logger.Warn("Rate cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			util.RateCacheHits.Inc()
			return rate, nil
		}
		es.logger.Warn("Discarding malformed cached rate", zap.String("key", key))
	}
	util.RateCacheMisses.Inc()

	rec, err := es.rates.GetExchangeRate(ctx, es.cfg.BaseCurrency, target)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrRateNotFound, es.cfg.BaseCurrency, target)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load exchange rate: %w", err)
	}

	es.cacheRate(ctx, target, rec.Rate)
	return rec.Rate, nil
}

// Convert converts a base-currency amount into target, quantized to the
// target's precision
func (es *ExchangeService) Convert(ctx context.Context, amount decimal.Decimal, target string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative amount", money.ErrInvalidAmount)
	}
	rate, err := es.GetExchangeRate(ctx, target)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Normalize(amount.Mul(rate), target)
}

// RefreshRates pulls current rates from the active backend. Bad pairs are
// reported in the result and do not stop the others from being stored.
func (es *ExchangeService) RefreshRates(ctx context.Context) (*RefreshResult, error) {
	ctx, span := util.StartSpan(ctx, "ExchangeService.RefreshRates")
	defer span.End()

	backend, err := es.backends.Backend(ctx)
	if err != nil {
		return nil, err
	}

	fetched, err := backend.FetchRates(ctx, es.cfg.BaseCurrency, es.cfg.Targets)
	if err != nil {
		util.RateRefreshTotal.WithLabelValues("backend_error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("fetch rates from %s: %w", backend.Name(), err)
	}

	result := &RefreshResult{Backend: backend.Name(), Updated: []string{}, Failed: map[string]string{}}
	seen := make(map[string]bool, len(fetched))
	for _, r := range fetched {
		code, err := money.ParseCurrency(r.Target)
		if err != nil {
			result.Failed[r.Target] = err.Error()
			continue
		}
		seen[code] = true
		if err := es.validatePair(es.cfg.BaseCurrency, code, r.Rate); err != nil {
			result.Failed[code] = err.Error()
			continue
		}
		if _, err := es.store(ctx, code, r.Rate); err != nil {
			result.Failed[code] = err.Error()
			continue
		}
		result.Updated = append(result.Updated, code)
	}
	for _, t := range es.cfg.Targets {
		if t != es.cfg.BaseCurrency && !seen[t] {
			result.Failed[t] = "not returned by backend"
		}
	}
	sort.Strings(result.Updated)

	util.RateRefreshTotal.WithLabelValues("updated").Add(float64(len(result.Updated)))
	util.RateRefreshTotal.WithLabelValues("failed").Add(float64(len(result.Failed)))

	es.logger.Info("Exchange rates refreshed",
		zap.String("backend", backend.Name()),
		zap.Int("updated", len(result.Updated)),
		zap.Int("failed", len(result.Failed)))

	if es.publisher != nil {
		event := &models.RatesRefreshedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRatesRefreshed,
				Timestamp: time.Now(),
			},
			BaseCurrency: es.cfg.BaseCurrency,
			Backend:      backend.Name(),
			Updated:      result.Updated,
			Failed:       result.Failed,
		}
		if err := es.publisher.PublishRatesRefreshed(ctx, event); err != nil {
			es.logger.Error("Failed to publish RatesRefreshed event", zap.Error(err))
		}
	}
	return result, nil
}

// SetRate stores a rate by hand. base must be the configured base currency.
func (es *ExchangeService) SetRate(ctx context.Context, base, target string, rate decimal.Decimal) (*models.ExchangeRate, error) {
	ctx, span := util.StartSpan(ctx, "ExchangeService.SetRate")
	defer span.End()

	base, err := money.ParseCurrency(base)
	if err != nil {
		return nil, err
	}
	target, err = money.ParseCurrency(target)
	if err != nil {
		return nil, err
	}
	if err := es.validatePair(base, target, rate); err != nil {
		return nil, err
	}
	return es.store(ctx, target, rate)
}

// Invalidate drops the cached rate so the next read goes to the database
func (es *ExchangeService) Invalidate(ctx context.Context, target string) error {
	target, err := money.ParseCurrency(target)
	if err != nil {
		return err
	}
	return es.cache.Delete(ctx, RateCacheKey(es.cfg.BaseCurrency, target))
}

// ListRates returns every stored rate for the base currency
func (es *ExchangeService) ListRates(ctx context.Context) ([]models.ExchangeRate, error) {
	return es.rates.ListExchangeRates(ctx, es.cfg.BaseCurrency)
}

func (es *ExchangeService) validatePair(base, target string, rate decimal.Decimal) error {
	if base != es.cfg.BaseCurrency {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidBaseCurrency, base, es.cfg.BaseCurrency)
	}
	if target == base {
		return fmt.Errorf("%w: target equals base currency", ErrInvalidRate)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: rate must be positive, got %s", ErrInvalidRate, rate)
	}
	return nil
}

func (es *ExchangeService) store(ctx context.Context, target string, rate decimal.Decimal) (*models.ExchangeRate, error) {
	rec, err := es.rates.UpsertExchangeRate(ctx, es.cfg.BaseCurrency, target, rate)
	if err != nil {
		return nil, fmt.Errorf("failed to store exchange rate: %w", err)
	}
	es.cacheRate(ctx, target, rec.Rate)
	return rec, nil
}

func (es *ExchangeService) cacheRate(ctx context.Context, target string, rate decimal.Decimal) {
	key := RateCacheKey(es.cfg.BaseCurrency, target)
	if err := es.cache.Set(ctx, key, rate.String(), es.cfg.CacheTTL); err != nil {
		es.logger.Warn("Rate cache write failed", zap.String("key", key), zap.Error(err))
	}
}
