package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment record
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
)

// IsTerminal reports whether no further transition is allowed from the status
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefunded || s == PaymentStatusCanceled
}

// Payment methods
const (
	PaymentMethodCreditCard     = "CREDIT_CARD"
	PaymentMethodPaypal         = "PAYPAL"
	PaymentMethodBankTransfer   = "BANK_TRANSFER"
	PaymentMethodCashOnDelivery = "CASH_ON_DELIVERY"
)

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusReturned   = "RETURNED"
)

// Order is the read-only view of an order this service needs
type Order struct {
	ID        int64     `db:"id" json:"id"`
	Alias     string    `db:"alias" json:"alias"`
	Status    string    `db:"status" json:"status"`
	Total     int64     `db:"total_subunits" json:"total_subunits"`
	Currency  string    `db:"currency" json:"currency"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsReturned reports whether the order has been returned by the customer
func (o *Order) IsReturned() bool {
	return o.Status == OrderStatusReturned
}

// Payment represents the payment attached to one order
type Payment struct {
	ID                 int64         `db:"id" json:"id"`
	OrderID            int64         `db:"order_id" json:"order_id"`
	PaymentPluginID    string        `db:"payment_plugin_id" json:"payment_plugin_id"`
	PaymentMethod      string        `db:"payment_method" json:"payment_method"`
	Currency           string        `db:"currency" json:"currency"`
	PaymentAmount      int64         `db:"payment_amount" json:"payment_amount"`
	Status             PaymentStatus `db:"status" json:"status"`
	TransactionID      *string       `db:"transaction_id" json:"transaction_id,omitempty"`
	GatewayResponseRaw RawPayload    `db:"gateway_response_raw" json:"gateway_response_raw,omitempty"`
	PaidAt             *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// TxID returns the gateway transaction id or an empty string
func (p *Payment) TxID() string {
	if p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}

// ExchangeRate is the persisted rate for one (base, target) pair
type ExchangeRate struct {
	ID             int64           `db:"id" json:"id"`
	BaseCurrency   string          `db:"base_currency" json:"base_currency"`
	TargetCurrency string          `db:"target_currency" json:"target_currency"`
	Rate           decimal.Decimal `db:"rate" json:"rate"`
	LastModified   time.Time       `db:"last_modified" json:"last_modified"`
}

// Plugin types
const (
	PluginTypePaymentProcessor = "PAYMENT_PROCESSOR"
	PluginTypeCurrencyBackend  = "CURRENCY_BACKEND"
	PluginTypeSMSService       = "SMS_SERVICE"
	PluginTypeEmailService     = "EMAIL_SERVICE"
	PluginTypeGeneral          = "GENERAL"
)

// SingletonPluginTypes may have at most one active registration at a time
var SingletonPluginTypes = []string{
	PluginTypeCurrencyBackend,
	PluginTypeSMSService,
	PluginTypeEmailService,
}

// IsSingletonPluginType reports whether pluginType allows a single active plugin
func IsSingletonPluginType(pluginType string) bool {
	for _, t := range SingletonPluginTypes {
		if t == pluginType {
			return true
		}
	}
	return false
}

// Plugin is a plugin registration
type Plugin struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	PluginType string    `db:"plugin_type" json:"plugin_type"`
	Path       string    `db:"path" json:"path"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// RawPayload is an opaque JSON document stored in a JSONB column
type RawPayload json.RawMessage

// Value implements driver.Valuer
func (r RawPayload) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return []byte(r), nil
}

// Scan implements sql.Scanner
func (r *RawPayload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawPayload(v)
	default:
		return fmt.Errorf("cannot scan %T into RawPayload", src)
	}
	return nil
}

// MarshalJSON keeps the stored document as-is
func (r RawPayload) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (r *RawPayload) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}
