// Package gateway defines the capability surface payment providers implement
// and the registry that turns a plugin identifier into a provider.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"payment-service/internal/models"
)

// Request carries the order context of one gateway call.
// Amount is always in subunits of Currency.
type Request struct {
	OrderID       int64
	OrderAlias    string
	TransactionID string
	Amount        int64
	Currency      string
	Options       map[string]any
	// IdempotencyKey is the caller's retry key, forwarded to providers that support one
	IdempotencyKey string
}

// Response is the only shape a provider hands back to callers.
// Provider specific fields belong in RawData or MetaData.
type Response struct {
	Success       bool            `json:"success"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Message       string          `json:"message,omitempty"`
	RawData       json.RawMessage `json:"raw_data,omitempty"`
	MetaData      map[string]any  `json:"meta_data,omitempty"`
}

// Gateway is implemented by every payment provider
type Gateway interface {
	Authorize(ctx context.Context, req Request) (*Response, error)
	Capture(ctx context.Context, req Request) (*Response, error)
	Cancel(ctx context.Context, req Request) (*Response, error)
	Refund(ctx context.Context, req Request) (*Response, error)

	// NormalizeResponse converts a provider-native response into a Response
	NormalizeResponse(raw any) (*Response, error)

	// PublicKeys returns configuration safe to hand to browsers. Never secrets.
	PublicKeys() map[string]string

	// SpecialSerializer declares the extra checkout options the provider accepts
	SpecialSerializer() Schema
}

// Redirect is the result of starting a hosted payment page
type Redirect struct {
	URL  string         `json:"url"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Redirector is implemented by providers with a hosted payment page
type Redirector interface {
	PaymentURLWithMeta(ctx context.Context, req Request) (*Redirect, error)
}

// WebhookPayload is an inbound webhook delivery as received over HTTP
type WebhookPayload struct {
	Body   []byte
	Header http.Header
	Query  map[string]string
}

// WebhookEvent is a verified webhook translated into a payment transition.
// Status is empty for events that do not move a payment.
type WebhookEvent struct {
	ID            string
	Type          string
	TransactionID string
	OrderAlias    string
	Amount        int64
	Currency      string
	Status        models.PaymentStatus
	Response      *Response
}

// WebhookHandler is implemented by providers that push state changes
type WebhookHandler interface {
	HandleWebhookEvent(ctx context.Context, payload WebhookPayload) (*WebhookEvent, error)
}

// SupportsRedirect reports whether g offers a hosted payment page
func SupportsRedirect(g Gateway) bool {
	_, ok := g.(Redirector)
	return ok
}

// SupportsWebhook reports whether g accepts webhooks
func SupportsWebhook(g Gateway) bool {
	_, ok := g.(WebhookHandler)
	return ok
}
