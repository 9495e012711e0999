// Package stripecard is the Stripe card provider, built on PaymentIntents with
// manual capture so authorization and capture stay separate steps.
package stripecard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// Path is the module path the provider is registered under
const Path = "payment/stripe_card"

// Settings keys
const (
	SettingSecretKey      = "secret_key"
	SettingPublishableKey = "publishable_key"
	SettingWebhookSecret  = "webhook_secret"
	SettingSuccessURL     = "success_url"
	SettingCancelURL      = "cancel_url"
	SettingAPIURL         = "api_url"
	SettingTimeoutSeconds = "timeout_seconds"
)

const defaultTimeout = 30 * time.Second

type Gateway struct {
	plugin         string
	api            *client.API
	publishableKey string
	webhookSecret  string
	successURL     string
	cancelURL      string
	logger         *zap.Logger
}

var (
	_ gateway.Gateway        = (*Gateway)(nil)
	_ gateway.Redirector     = (*Gateway)(nil)
	_ gateway.WebhookHandler = (*Gateway)(nil)
)

// New is the gateway.Factory for Stripe
func New(opts gateway.Options) (gateway.Gateway, error) {
	secret := opts.Settings[SettingSecretKey]
	if secret == "" {
		return nil, fmt.Errorf("stripe: %s is not configured", SettingSecretKey)
	}

	timeout := defaultTimeout
	if v := opts.Settings[SettingTimeoutSeconds]; v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("stripe: invalid %s %q", SettingTimeoutSeconds, v)
		}
		timeout = time.Duration(secs) * time.Second
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if u := opts.Settings[SettingAPIURL]; u != "" {
		cfg.URL = stripe.String(u)
	}

	api := &client.API{}
	api.Init(secret, stripe.NewBackendsWithConfig(cfg))

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		plugin:         opts.PluginID,
		api:            api,
		publishableKey: opts.Settings[SettingPublishableKey],
		webhookSecret:  opts.Settings[SettingWebhookSecret],
		successURL:     opts.Settings[SettingSuccessURL],
		cancelURL:      opts.Settings[SettingCancelURL],
		logger:         logger,
	}, nil
}

func (g *Gateway) Authorize(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Metadata:      orderMetadata(req),
	}
	params.Context = ctx
	pm, _ := req.Options["payment_method"].(string)
	if pm != "" {
		params.PaymentMethod = stripe.String(pm)
		params.Confirm = stripe.Bool(true)
	}
	params.SetIdempotencyKey(authorizeKey(req, pm))

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return g.declineOrError("authorize", err)
	}
	return g.intentResponse(pi,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusSucceeded)
}

// authorizeKey prefers the caller's key; otherwise a retried authorization for
// the same order, amount and card reuses the intent Stripe already created
func authorizeKey(req gateway.Request, paymentMethod string) string {
	if req.IdempotencyKey != "" {
		return "authorize-" + req.IdempotencyKey
	}
	return fmt.Sprintf("authorize-%s-%d-%s-%s", req.OrderAlias, req.Amount, strings.ToLower(req.Currency), paymentMethod)
}

func (g *Gateway) Capture(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if err := g.requireTransaction("capture", req); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(req.Amount)}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("capture-%s-%d", req.TransactionID, req.Amount))

	pi, err := g.api.PaymentIntents.Capture(req.TransactionID, params)
	if err != nil {
		return g.declineOrError("capture", err)
	}
	return g.intentResponse(pi, stripe.PaymentIntentStatusSucceeded)
}

func (g *Gateway) Cancel(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if err := g.requireTransaction("cancel", req); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(req.TransactionID, params)
	if err != nil {
		return g.declineOrError("cancel", err)
	}
	return g.intentResponse(pi, stripe.PaymentIntentStatusCanceled)
}

func (g *Gateway) Refund(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if err := g.requireTransaction("refund", req); err != nil {
		return nil, err
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.Amount),
		Metadata:      orderMetadata(req),
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("refund-%s-%d", req.TransactionID, req.Amount))

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return g.declineOrError("refund", err)
	}
	return g.NormalizeResponse(r)
}

// NormalizeResponse accepts PaymentIntents, Refunds, or their raw JSON
func (g *Gateway) NormalizeResponse(raw any) (*gateway.Response, error) {
	switch v := raw.(type) {
	case *stripe.PaymentIntent:
		return g.intentResponse(v,
			stripe.PaymentIntentStatusRequiresCapture,
			stripe.PaymentIntentStatusSucceeded,
			stripe.PaymentIntentStatusCanceled)
	case *stripe.Refund:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		resp := &gateway.Response{
			Success:       v.Status == stripe.RefundStatusSucceeded || v.Status == stripe.RefundStatusPending,
			TransactionID: v.ID,
			Message:       "refund " + string(v.Status),
			RawData:       data,
			MetaData:      map[string]any{"refund_id": v.ID, "refund_status": string(v.Status)},
		}
		if v.PaymentIntent != nil {
			resp.MetaData["payment_intent"] = v.PaymentIntent.ID
		}
		return resp, nil
	case []byte:
		return g.normalizeJSON(v)
	case json.RawMessage:
		return g.normalizeJSON(v)
	default:
		return nil, fmt.Errorf("stripe: cannot normalize %T", raw)
	}
}

func (g *Gateway) normalizeJSON(data []byte) (*gateway.Response, error) {
	var head struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("stripe: malformed response: %w", err)
	}
	switch head.Object {
	case "payment_intent":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(data, &pi); err != nil {
			return nil, err
		}
		return g.NormalizeResponse(&pi)
	case "refund":
		var r stripe.Refund
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return g.NormalizeResponse(&r)
	default:
		return nil, fmt.Errorf("stripe: cannot normalize object %q", head.Object)
	}
}

func (g *Gateway) PublicKeys() map[string]string {
	return map[string]string{"publishable_key": g.publishableKey}
}

func (g *Gateway) SpecialSerializer() gateway.Schema {
	return gateway.Schema{Fields: []gateway.Field{
		{
			Name:        "payment_method",
			Rules:       "startswith=pm_",
			Description: "Stripe PaymentMethod id collected by Stripe.js; confirms the intent immediately",
		},
	}}
}

// PaymentURLWithMeta starts a hosted Checkout Session for the order
func (g *Gateway) PaymentURLWithMeta(ctx context.Context, req gateway.Request) (*gateway.Redirect, error) {
	if g.successURL == "" || g.cancelURL == "" {
		return nil, &gateway.Error{Plugin: g.plugin, Op: "payment_url", Code: "not_configured",
			Message: "success and cancel urls are required"}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.OrderAlias),
		Metadata:          orderMetadata(req),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderAlias),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			Metadata:      orderMetadata(req),
		},
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.wrapError("payment_url", err)
	}

	return &gateway.Redirect{
		URL: s.URL,
		Meta: map[string]any{
			"session_id":      s.ID,
			"publishable_key": g.publishableKey,
		},
	}, nil
}

// HandleWebhookEvent verifies the Stripe-Signature header and maps the event
// to a payment transition
func (g *Gateway) HandleWebhookEvent(_ context.Context, payload gateway.WebhookPayload) (*gateway.WebhookEvent, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", gateway.ErrInvalidWebhook)
	}

	event, err := webhook.ConstructEventWithOptions(
		payload.Body,
		payload.Header.Get("Stripe-Signature"),
		g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidWebhook, err)
	}

	out := &gateway.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", gateway.ErrInvalidWebhook, event.ID)
	}

	switch out.Type {
	case "payment_intent.amount_capturable_updated":
		return g.intentEvent(out, event.Data.Raw, models.PaymentStatusAuthorized, stripe.PaymentIntentStatusRequiresCapture)
	case "payment_intent.succeeded":
		return g.intentEvent(out, event.Data.Raw, models.PaymentStatusCaptured, stripe.PaymentIntentStatusSucceeded)
	case "payment_intent.canceled":
		return g.intentEvent(out, event.Data.Raw, models.PaymentStatusCanceled, stripe.PaymentIntentStatusCanceled)
	case "payment_intent.payment_failed":
		return g.intentEvent(out, event.Data.Raw, models.PaymentStatusFailed)
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidWebhook, err)
		}
		if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
			return nil, fmt.Errorf("%w: charge %s has no payment intent", gateway.ErrInvalidWebhook, ch.ID)
		}
		out.TransactionID = ch.PaymentIntent.ID
		out.OrderAlias = ch.Metadata["order_alias"]
		out.Amount = ch.AmountRefunded
		out.Currency = strings.ToUpper(string(ch.Currency))
		out.Status = models.PaymentStatusRefunded
		out.Response = &gateway.Response{
			Success:       ch.Refunded || ch.AmountRefunded > 0,
			TransactionID: ch.PaymentIntent.ID,
			Message:       "charge refunded",
			RawData:       json.RawMessage(event.Data.Raw),
			MetaData:      map[string]any{"charge_id": ch.ID, "amount_refunded": ch.AmountRefunded},
		}
		return out, nil
	default:
		g.logger.Debug("Ignoring stripe event", zap.String("type", out.Type), zap.String("event_id", out.ID))
		return out, nil
	}
}

func (g *Gateway) intentEvent(out *gateway.WebhookEvent, raw json.RawMessage, status models.PaymentStatus, ok ...stripe.PaymentIntentStatus) (*gateway.WebhookEvent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidWebhook, err)
	}
	resp, err := g.intentResponse(&pi, ok...)
	if err != nil {
		return nil, err
	}
	out.TransactionID = pi.ID
	out.OrderAlias = pi.Metadata["order_alias"]
	out.Amount = pi.Amount
	out.Currency = strings.ToUpper(string(pi.Currency))
	out.Status = status
	out.Response = resp
	return out, nil
}

// intentResponse reports success when the intent reached one of the expected statuses
func (g *Gateway) intentResponse(pi *stripe.PaymentIntent, expected ...stripe.PaymentIntentStatus) (*gateway.Response, error) {
	data, err := json.Marshal(pi)
	if err != nil {
		return nil, err
	}

	resp := &gateway.Response{
		TransactionID: pi.ID,
		Message:       string(pi.Status),
		RawData:       data,
		MetaData:      map[string]any{"status": string(pi.Status)},
	}
	for _, s := range expected {
		if pi.Status == s {
			resp.Success = true
			break
		}
	}
	if pi.ClientSecret != "" && (pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod ||
		pi.Status == stripe.PaymentIntentStatusRequiresConfirmation ||
		pi.Status == stripe.PaymentIntentStatusRequiresAction) {
		resp.MetaData["client_secret"] = pi.ClientSecret
	}
	if pi.LastPaymentError != nil {
		resp.Message = pi.LastPaymentError.Msg
		resp.MetaData["decline_code"] = string(pi.LastPaymentError.DeclineCode)
	}
	return resp, nil
}

// declineOrError turns card declines into unsuccessful responses and every
// other failure into an error
func (g *Gateway) declineOrError(op string, err error) (*gateway.Response, error) {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		resp := &gateway.Response{
			Success:  false,
			Message:  se.Msg,
			MetaData: map[string]any{"code": string(se.Code), "decline_code": string(se.DeclineCode)},
		}
		if se.PaymentIntent != nil {
			resp.TransactionID = se.PaymentIntent.ID
		}
		if data, mErr := json.Marshal(se); mErr == nil {
			resp.RawData = data
		}
		g.logger.Info("Stripe declined operation",
			zap.String("op", op),
			zap.String("code", string(se.Code)))
		return resp, nil
	}
	return nil, g.wrapError(op, err)
}

func (g *Gateway) wrapError(op string, err error) error {
	if gateway.IsTimeout(err) {
		return gateway.WrapTimeout(g.plugin, op, err)
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return &gateway.Error{Plugin: g.plugin, Op: op, Code: string(se.Code), Message: se.Msg, Err: err}
	}
	return &gateway.Error{Plugin: g.plugin, Op: op, Message: err.Error(), Err: err}
}

func (g *Gateway) requireTransaction(op string, req gateway.Request) error {
	if req.TransactionID == "" {
		return &gateway.Error{Plugin: g.plugin, Op: op, Code: "missing_transaction",
			Message: "payment intent id is required"}
	}
	return nil
}

func orderMetadata(req gateway.Request) map[string]string {
	md := map[string]string{"order_alias": req.OrderAlias}
	if req.OrderID != 0 {
		md["order_id"] = strconv.FormatInt(req.OrderID, 10)
	}
	return md
}
