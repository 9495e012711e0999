package service

import (
	"context"
	"time"

	"payment-service/internal/models"

	"github.com/shopspring/decimal"
)

// PaymentRepository persists payment records.
// Missing rows are reported as store.ErrNotFound.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePayment(ctx context.Context, payment *models.Payment, from models.PaymentStatus) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, pluginID, transactionID string) (*models.Payment, error)
}

// OrderReader is the read-only view of orders
type OrderReader interface {
	GetOrderByAlias(ctx context.Context, alias string) (*models.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
}

// EventLedger records which webhook deliveries were already applied
type EventLedger interface {
	ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

// Locker serializes mutations of one payment
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// IdempotencyKeys guards client retries of the same request
type IdempotencyKeys interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// EventPublisher publishes payment lifecycle events
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error
}

// PluginEventPublisher publishes plugin registry changes
type PluginEventPublisher interface {
	PublishPluginChanged(ctx context.Context, event *models.PluginChangedEvent) error
}

// RateEventPublisher publishes exchange rate refreshes
type RateEventPublisher interface {
	PublishRatesRefreshed(ctx context.Context, event *models.RatesRefreshedEvent) error
}

// RateStore persists exchange rates
type RateStore interface {
	UpsertExchangeRate(ctx context.Context, base, target string, rate decimal.Decimal) (*models.ExchangeRate, error)
	GetExchangeRate(ctx context.Context, base, target string) (*models.ExchangeRate, error)
	ListExchangeRates(ctx context.Context, base string) ([]models.ExchangeRate, error)
}

// PluginStore persists plugin registrations
type PluginStore interface {
	CreatePlugin(ctx context.Context, p *models.Plugin) error
	GetPluginByName(ctx context.Context, name string) (*models.Plugin, error)
	ListPlugins(ctx context.Context, pluginType string) ([]models.Plugin, error)
	ActivePlugin(ctx context.Context, pluginType string) (*models.Plugin, error)
	SetPluginActive(ctx context.Context, name string, active bool) (*models.Plugin, error)
	DeletePlugin(ctx context.Context, name string) error
}

// PathInvalidator drops cached plugin resolutions
type PathInvalidator interface {
	Invalidate(ctx context.Context, pluginID string) error
}
