package service

import (
	"context"
	"errors"
	"fmt"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Webhook outcomes
const (
	WebhookProcessed = "processed"
	WebhookReplayed  = "replayed"
	WebhookIgnored   = "ignored"
)

// WebhookResult describes what a delivery did. Replays are successes.
type WebhookResult struct {
	Status        string          `json:"status"`
	EventID       string          `json:"event_id,omitempty"`
	EventType     string          `json:"event_type,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Payment       *models.Payment `json:"payment,omitempty"`
}

// Replayed reports whether the delivery was a duplicate
func (r *WebhookResult) Replayed() bool { return r.Status == WebhookReplayed }

// webhookTransitions lists, per target status, the statuses a webhook may move
// a payment from
var webhookTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusAuthorized: {models.PaymentStatusFailed},
	models.PaymentStatusCaptured:   {models.PaymentStatusAuthorized},
	models.PaymentStatusCanceled:   {models.PaymentStatusAuthorized},
	models.PaymentStatusFailed:     {models.PaymentStatusAuthorized},
	models.PaymentStatusRefunded:   {models.PaymentStatusCaptured},
}

func webhookTransitionAllowed(from, to models.PaymentStatus) bool {
	for _, s := range webhookTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// WebhookDedupKey identifies one delivery of one event for one transaction
func WebhookDedupKey(pluginID string, evt *gateway.WebhookEvent) string {
	return fmt.Sprintf("%s:%s:%s", pluginID, evt.TransactionID, evt.Type)
}

// ApplyWebhook verifies a delivery through the plugin and applies the
// resulting transition at most once. Out-of-order events that would make an
// illegal transition are acknowledged and ignored.
func (ps *PaymentService) ApplyWebhook(ctx context.Context, pluginID string, payload gateway.WebhookPayload) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApplyWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("plugin_id", pluginID))

	manager, err := ps.Manager(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if !manager.SupportsWebhook() {
		return nil, fmt.Errorf("%s webhook: %w", pluginID, gateway.ErrNotSupported)
	}

	evt, err := manager.HandleWebhookEvent(ctx, payload)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(pluginID, "invalid").Inc()
		return nil, err
	}
	result := &WebhookResult{EventID: evt.ID, EventType: evt.Type, TransactionID: evt.TransactionID}

	if evt.Status == "" {
		util.WebhookEventsTotal.WithLabelValues(pluginID, WebhookIgnored).Inc()
		result.Status = WebhookIgnored
		return result, nil
	}
	if evt.TransactionID == "" {
		util.WebhookEventsTotal.WithLabelValues(pluginID, "invalid").Inc()
		return nil, fmt.Errorf("%w: event %s carries no transaction id", gateway.ErrInvalidWebhook, evt.ID)
	}

	key := WebhookDedupKey(pluginID, evt)
	claimed, err := ps.ledger.ClaimEvent(ctx, key, evt.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		ps.logger.Info("Webhook already processed, skipping",
			zap.String("plugin_id", pluginID),
			zap.String("dedup_key", key))
		util.WebhookEventsTotal.WithLabelValues(pluginID, WebhookReplayed).Inc()
		result.Status = WebhookReplayed
		return result, nil
	}

	payment, applied, err := ps.applyWebhookEvent(ctx, pluginID, evt)
	if err != nil {
		if rerr := ps.ledger.ReleaseEvent(context.WithoutCancel(ctx), key); rerr != nil {
			ps.logger.Error("Failed to release webhook claim", zap.String("dedup_key", key), zap.Error(rerr))
		}
		util.WebhookEventsTotal.WithLabelValues(pluginID, "error").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	result.Payment = payment
	if applied {
		result.Status = WebhookProcessed
	} else {
		result.Status = WebhookIgnored
	}
	util.WebhookEventsTotal.WithLabelValues(pluginID, result.Status).Inc()
	return result, nil
}

func (ps *PaymentService) applyWebhookEvent(ctx context.Context, pluginID string, evt *gateway.WebhookEvent) (*models.Payment, bool, error) {
	order, err := ps.webhookOrder(ctx, pluginID, evt)
	if err != nil {
		return nil, false, err
	}

	var (
		payment *models.Payment
		applied bool
	)
	err = ps.withLock(ctx, order.ID, func() error {
		current, err := ps.findPayment(ctx, order.ID)
		if err != nil {
			return err
		}

		// hosted checkouts have no record until the provider reports the authorization
		if current == nil {
			if evt.Status != models.PaymentStatusAuthorized {
				return fmt.Errorf("%w: transaction %s", ErrPaymentNotFound, evt.TransactionID)
			}
			payment = newWebhookPayment(order, pluginID, evt)
			if err := ps.payments.CreatePayment(ctx, payment); err != nil {
				return saveError(err)
			}
			applied = true
			ps.publish(ctx, order, payment, "authorized by webhook")
			return nil
		}

		payment = current
		reauthorized := current.Status == models.PaymentStatusFailed && evt.Status == models.PaymentStatusAuthorized
		if current.TransactionID != nil && current.TxID() != evt.TransactionID && !reauthorized {
			ps.logger.Info("Ignoring webhook for a superseded transaction",
				zap.String("order_alias", order.Alias),
				zap.String("transaction_id", evt.TransactionID))
			return nil
		}
		if current.Status.IsTerminal() {
			ps.logger.Info("Ignoring webhook for a closed payment",
				zap.String("order_alias", order.Alias),
				zap.String("status", string(current.Status)),
				zap.String("event_type", evt.Type))
			return nil
		}
		if !webhookTransitionAllowed(current.Status, evt.Status) {
			ps.logger.Info("Ignoring out-of-order webhook",
				zap.String("order_alias", order.Alias),
				zap.String("from", string(current.Status)),
				zap.String("to", string(evt.Status)))
			return nil
		}

		from := current.Status
		if reauthorized {
			current.TransactionID = nil
		}
		applyResponse(current, evt.Response)
		if current.TransactionID == nil {
			txID := evt.TransactionID
			current.TransactionID = &txID
		}
		current.Status = evt.Status
		if evt.Status == models.PaymentStatusCaptured {
			now := ps.now().UTC()
			current.PaidAt = &now
		}
		if err := ps.payments.UpdatePayment(ctx, current, from); err != nil {
			return saveError(err)
		}
		applied = true
		ps.publish(ctx, order, current, "updated by webhook "+evt.Type)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return payment, applied, nil
}

// webhookOrder finds the order a webhook event refers to, first by
// transaction id and then by the order alias the provider echoed back
func (ps *PaymentService) webhookOrder(ctx context.Context, pluginID string, evt *gateway.WebhookEvent) (*models.Order, error) {
	payment, err := ps.payments.GetPaymentByTransactionID(ctx, pluginID, evt.TransactionID)
	switch {
	case err == nil:
		order, err := ps.orders.GetOrderByID(ctx, payment.OrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
		return order, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if evt.OrderAlias == "" {
		return nil, fmt.Errorf("%w: transaction %s", ErrPaymentNotFound, evt.TransactionID)
	}
	return ps.orderByAlias(ctx, evt.OrderAlias)
}

func newWebhookPayment(order *models.Order, pluginID string, evt *gateway.WebhookEvent) *models.Payment {
	amount := evt.Amount
	if amount <= 0 {
		amount = order.Total
	}
	currency := evt.Currency
	if currency == "" {
		currency = order.Currency
	}
	txID := evt.TransactionID
	return &models.Payment{
		OrderID:            order.ID,
		PaymentPluginID:    pluginID,
		PaymentMethod:      models.PaymentMethodCreditCard,
		Currency:           currency,
		PaymentAmount:      amount,
		Status:             models.PaymentStatusAuthorized,
		TransactionID:      &txID,
		GatewayResponseRaw: rawPayload(evt.Response),
	}
}
