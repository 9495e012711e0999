package models

import "time"

// Event types
const (
	EventTypePaymentAuthorized = "PAYMENT_AUTHORIZED"
	EventTypePaymentCaptured   = "PAYMENT_CAPTURED"
	EventTypePaymentCanceled   = "PAYMENT_CANCELED"
	EventTypePaymentRefunded   = "PAYMENT_REFUNDED"
	EventTypePaymentFailed     = "PAYMENT_FAILED"
	EventTypePluginChanged     = "PLUGIN_CHANGED"
	EventTypeRatesRefreshed    = "RATES_REFRESHED"
)

// Plugin change actions
const (
	PluginActionRegistered  = "registered"
	PluginActionActivated   = "activated"
	PluginActionDeactivated = "deactivated"
	PluginActionDeleted     = "deleted"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type, used as the Kafka message header
func (e BaseEvent) Type() string { return e.EventType }

// PaymentEvent published on every payment record transition
type PaymentEvent struct {
	BaseEvent
	OrderID       int64         `json:"order_id"`
	OrderAlias    string        `json:"order_alias"`
	PaymentID     int64         `json:"payment_id"`
	PluginID      string        `json:"plugin_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Status        PaymentStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
}

// PluginChangedEvent published when a plugin registration changes
type PluginChangedEvent struct {
	BaseEvent
	Name       string `json:"name"`
	PluginType string `json:"plugin_type"`
	Action     string `json:"action"`
}

// RatesRefreshedEvent published after an exchange-rate refresh
type RatesRefreshedEvent struct {
	BaseEvent
	BaseCurrency string            `json:"base_currency"`
	Backend      string            `json:"backend"`
	Updated      []string          `json:"updated"`
	Failed       map[string]string `json:"failed,omitempty"`
}

// PaymentEventType maps a resulting status to its event type
func PaymentEventType(status PaymentStatus) string {
	switch status {
	case PaymentStatusAuthorized:
		return EventTypePaymentAuthorized
	case PaymentStatusCaptured:
		return EventTypePaymentCaptured
	case PaymentStatusCanceled:
		return EventTypePaymentCanceled
	case PaymentStatusRefunded:
		return EventTypePaymentRefunded
	default:
		return EventTypePaymentFailed
	}
}
