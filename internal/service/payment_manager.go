package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/money"
	"payment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentManager drives one resolved gateway. It validates requests before
// they leave the process and bounds every call with a timeout, but never
// retries and never rewrites provider errors.
type PaymentManager struct {
	pluginID string
	gateway  gateway.Gateway
	timeout  time.Duration
	logger   *zap.Logger
}

// ManagerOption configures a PaymentManager
type ManagerOption func(*PaymentManager)

// WithTimeout bounds each gateway call
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *PaymentManager) { m.timeout = d }
}

// WithLogger overrides the global logger
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *PaymentManager) { m.logger = l }
}

// NewPaymentManager resolves pluginID right away so unknown or broken plugins
// fail here rather than on first use
func NewPaymentManager(ctx context.Context, resolver gateway.Resolver, pluginID string, opts ...ManagerOption) (*PaymentManager, error) {
	gw, err := resolver.Gateway(ctx, pluginID)
	if err != nil {
		util.GatewayLoadsTotal.WithLabelValues(loadResult(err)).Inc()
		return nil, err
	}
	util.GatewayLoadsTotal.WithLabelValues("ok").Inc()

	m := &PaymentManager{
		pluginID: pluginID,
		gateway:  gw,
		logger:   util.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func loadResult(err error) string {
	switch {
	case errors.Is(err, gateway.ErrInvalidPluginID):
		return "invalid_id"
	case errors.Is(err, gateway.ErrUnknownPlugin):
		return "unknown"
	case errors.Is(err, gateway.ErrLoad):
		return "load_error"
	default:
		return "error"
	}
}

// PluginID returns the identifier the manager was built for
func (m *PaymentManager) PluginID() string { return m.pluginID }

func (m *PaymentManager) Authorize(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if err := m.validate(req, true); err != nil {
		return nil, err
	}
	return m.call(ctx, "authorize", req, m.gateway.Authorize)
}

func (m *PaymentManager) Capture(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if err := m.validate(req, false); err != nil {
		return nil, err
	}
	return m.call(ctx, "capture", req, m.gateway.Capture)
}

func (m *PaymentManager) Cancel(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	return m.call(ctx, "cancel", req, m.gateway.Cancel)
}

func (m *PaymentManager) Refund(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if err := m.validate(req, false); err != nil {
		return nil, err
	}
	return m.call(ctx, "refund", req, m.gateway.Refund)
}

func (m *PaymentManager) NormalizeResponse(raw any) (*gateway.Response, error) {
	return m.gateway.NormalizeResponse(raw)
}

func (m *PaymentManager) PublicKeys() map[string]string {
	keys := m.gateway.PublicKeys()
	if keys == nil {
		return map[string]string{}
	}
	return keys
}

func (m *PaymentManager) SpecialSerializer() gateway.Schema {
	return m.gateway.SpecialSerializer()
}

func (m *PaymentManager) SupportsRedirect() bool { return gateway.SupportsRedirect(m.gateway) }

func (m *PaymentManager) SupportsWebhook() bool { return gateway.SupportsWebhook(m.gateway) }

// PaymentURLWithMeta starts a hosted payment page
func (m *PaymentManager) PaymentURLWithMeta(ctx context.Context, req gateway.Request) (*gateway.Redirect, error) {
	r, ok := m.gateway.(gateway.Redirector)
	if !ok {
		return nil, fmt.Errorf("%s payment url: %w", m.pluginID, gateway.ErrNotSupported)
	}
	if err := m.validate(req, true); err != nil {
		return nil, err
	}

	ctx, span := util.StartSpan(ctx, "PaymentManager.PaymentURLWithMeta")
	defer span.End()
	span.SetAttributes(attribute.String("plugin_id", m.pluginID), attribute.String("order_alias", req.OrderAlias))

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	redirect, err := r.PaymentURLWithMeta(ctx, req)
	util.GatewayLatency.WithLabelValues(m.pluginID, "payment_url").Observe(time.Since(start).Seconds())
	if err != nil {
		util.RecordError(span, err)
		return nil, m.deadline(ctx, "payment_url", err)
	}
	return redirect, nil
}

// HandleWebhookEvent verifies and translates an inbound webhook
func (m *PaymentManager) HandleWebhookEvent(ctx context.Context, payload gateway.WebhookPayload) (*gateway.WebhookEvent, error) {
	h, ok := m.gateway.(gateway.WebhookHandler)
	if !ok {
		return nil, fmt.Errorf("%s webhook: %w", m.pluginID, gateway.ErrNotSupported)
	}

	ctx, span := util.StartSpan(ctx, "PaymentManager.HandleWebhookEvent")
	defer span.End()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	evt, err := h.HandleWebhookEvent(ctx, payload)
	if err != nil {
		util.RecordError(span, err)
		return nil, m.deadline(ctx, "webhook", err)
	}
	return evt, nil
}

func (m *PaymentManager) validate(req gateway.Request, withOptions bool) error {
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", money.ErrInvalidAmount, req.Amount)
	}
	if withOptions {
		if err := m.gateway.SpecialSerializer().Validate(req.Options); err != nil {
			return err
		}
	}
	return nil
}

func (m *PaymentManager) call(
	ctx context.Context,
	op string,
	req gateway.Request,
	fn func(context.Context, gateway.Request) (*gateway.Response, error),
) (*gateway.Response, error) {
	ctx, span := util.StartSpan(ctx, "PaymentManager."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("plugin_id", m.pluginID),
		attribute.String("order_alias", req.OrderAlias),
		attribute.Int64("amount", req.Amount),
	)

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := fn(ctx, req)
	util.GatewayLatency.WithLabelValues(m.pluginID, op).Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		m.logger.Warn("Gateway call failed",
			zap.String("plugin_id", m.pluginID),
			zap.String("operation", op),
			zap.String("order_alias", req.OrderAlias),
			zap.Error(err))
		return nil, m.deadline(ctx, op, err)
	}
	if resp == nil {
		return nil, &gateway.Error{Plugin: m.pluginID, Op: op, Message: "empty response"}
	}

	span.SetAttributes(attribute.Bool("success", resp.Success))
	return resp, nil
}

func (m *PaymentManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

// deadline tags errors caused by the call timeout. Everything else is
// returned as the provider produced it.
func (m *PaymentManager) deadline(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, gateway.ErrTimeout) {
		return fmt.Errorf("%s %s: %w: %v", m.pluginID, op, gateway.ErrTimeout, err)
	}
	return err
}
