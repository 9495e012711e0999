package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/money"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentConfig tunes the payment lifecycle
type PaymentConfig struct {
	GatewayTimeout time.Duration
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

// PaymentService owns the persisted payment state machine
type PaymentService struct {
	payments  PaymentRepository
	orders    OrderReader
	ledger    EventLedger
	locker    Locker
	idem      IdempotencyKeys
	publisher EventPublisher
	resolver  gateway.Resolver
	cfg       PaymentConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	payments PaymentRepository,
	orders OrderReader,
	ledger EventLedger,
	locker Locker,
	publisher EventPublisher,
	resolver gateway.Resolver,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &PaymentService{
		payments:  payments,
		orders:    orders,
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		resolver:  resolver,
		cfg:       cfg,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// WithIdempotencyKeys enables Idempotency-Key handling on authorize
func (ps *PaymentService) WithIdempotencyKeys(keys IdempotencyKeys) *PaymentService {
	ps.idem = keys
	return ps
}

// AuthorizeInput is the request to authorize an order's payment
type AuthorizeInput struct {
	OrderAlias     string
	PluginID       string
	Amount         *int64
	PaymentMethod  string
	Options        map[string]any
	IdempotencyKey string
}

// PaymentResult is a payment record together with the gateway response that
// produced it
type PaymentResult struct {
	Payment  *models.Payment   `json:"payment"`
	Response *gateway.Response `json:"gateway_response"`
}

// Manager builds a PaymentManager for pluginID with the service's timeout
func (ps *PaymentService) Manager(ctx context.Context, pluginID string) (*PaymentManager, error) {
	return NewPaymentManager(ctx, ps.resolver, pluginID,
		WithTimeout(ps.cfg.GatewayTimeout),
		WithLogger(ps.logger))
}

// StartPayment asks a redirect-capable gateway for its hosted payment page
func (ps *PaymentService) StartPayment(ctx context.Context, pluginID, orderAlias string, options map[string]any) (*gateway.Redirect, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.StartPayment")
	defer span.End()

	manager, err := ps.Manager(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if !manager.SupportsRedirect() {
		return nil, fmt.Errorf("%s payment url: %w", pluginID, gateway.ErrNotSupported)
	}

	order, err := ps.orderByAlias(ctx, orderAlias)
	if err != nil {
		return nil, err
	}

	redirect, err := manager.PaymentURLWithMeta(ctx, gateway.Request{
		OrderID:    order.ID,
		OrderAlias: order.Alias,
		Amount:     order.Total,
		Currency:   order.Currency,
		Options:    options,
	})
	if err != nil {
		ps.recordOutcome("start", err, nil)
		return nil, err
	}
	ps.recordOutcome("start", nil, &gateway.Response{Success: true})
	return redirect, nil
}

// PublicKeys returns the browser-safe keys of a gateway
func (ps *PaymentService) PublicKeys(ctx context.Context, pluginID string) (map[string]string, error) {
	manager, err := ps.Manager(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	return manager.PublicKeys(), nil
}

// Serializer returns the checkout options a gateway accepts
func (ps *PaymentService) Serializer(ctx context.Context, pluginID string) (gateway.Schema, error) {
	manager, err := ps.Manager(ctx, pluginID)
	if err != nil {
		return gateway.Schema{}, err
	}
	return manager.SpecialSerializer(), nil
}

// AuthorizePayment authorizes the order total, or in.Amount when given.
// A FAILED payment may be authorized again; its row is reused.
func (ps *PaymentService) AuthorizePayment(ctx context.Context, in AuthorizeInput) (result *PaymentResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.AuthorizePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_alias", in.OrderAlias), attribute.String("plugin_id", in.PluginID))

	order, err := ps.orderByAlias(ctx, in.OrderAlias)
	if err != nil {
		return nil, err
	}

	amount := order.Total
	if in.Amount != nil {
		amount = *in.Amount
	}
	if amount < 1 {
		return nil, fmt.Errorf("%w: amount must be at least 1 subunit, got %d", money.ErrInvalidAmount, amount)
	}
	method := in.PaymentMethod
	if method == "" {
		method = models.PaymentMethodCreditCard
	}

	manager, err := ps.Manager(ctx, in.PluginID)
	if err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" && ps.idem != nil {
		key := "authorize:" + in.IdempotencyKey
		claimed, cerr := ps.idem.ClaimIdempotencyKey(ctx, key, ps.cfg.IdempotencyTTL)
		if cerr != nil {
			return nil, fmt.Errorf("failed to claim idempotency key: %w", cerr)
		}
		if !claimed {
			return nil, ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := ps.idem.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); rerr != nil {
				ps.logger.Error("Failed to release idempotency key", zap.String("key", key), zap.Error(rerr))
			}
		}()
	}

	err = ps.withLock(ctx, order.ID, func() error {
		existing, err := ps.findPayment(ctx, order.ID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != models.PaymentStatusFailed {
			return fmt.Errorf("%w: payment for order %s is %s", ErrInvalidTransition, order.Alias, existing.Status)
		}

		resp, err := manager.Authorize(ctx, gateway.Request{
			OrderID:        order.ID,
			OrderAlias:     order.Alias,
			Amount:         amount,
			Currency:       order.Currency,
			Options:        in.Options,
			IdempotencyKey: in.IdempotencyKey,
		})
		if err != nil {
			ps.recordOutcome("authorize", err, nil)
			return err
		}

		payment := existing
		if payment == nil {
			payment = &models.Payment{OrderID: order.ID}
		}
		from := payment.Status
		payment.PaymentPluginID = in.PluginID
		payment.PaymentMethod = method
		payment.Currency = order.Currency
		payment.PaymentAmount = amount
		payment.TransactionID = nil
		payment.PaidAt = nil
		applyResponse(payment, resp)
		if resp.Success {
			payment.Status = models.PaymentStatusAuthorized
		} else {
			payment.Status = models.PaymentStatusFailed
		}

		if existing == nil {
			err = ps.payments.CreatePayment(ctx, payment)
		} else {
			err = ps.payments.UpdatePayment(ctx, payment, from)
		}
		if err != nil {
			return saveError(err)
		}

		ps.recordOutcome("authorize", nil, resp)
		ps.publish(ctx, order, payment, resp.Message)
		result = &PaymentResult{Payment: payment, Response: resp}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Payment authorization processed",
		zap.String("order_alias", order.Alias),
		zap.String("plugin_id", in.PluginID),
		zap.Int64("amount", amount),
		zap.String("status", string(result.Payment.Status)))
	return result, nil
}

// saveError names the unique-constraint conflicts a payment write can hit.
// A lost race on the order row reads the same as a held lock.
func saveError(err error) error {
	switch {
	case store.IsConstraint(err, store.ConstraintTransactionID):
		return fmt.Errorf("%w: %v", ErrDuplicateTransaction, err)
	case store.IsConstraint(err, store.ConstraintPaymentOrder), errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrPaymentBusy, err)
	}
	return fmt.Errorf("failed to save payment: %w", err)
}

// CapturePayment captures an AUTHORIZED payment. amount defaults to the
// authorized amount and may not exceed it.
func (ps *PaymentService) CapturePayment(ctx context.Context, orderAlias string, amount *int64) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CapturePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_alias", orderAlias))

	if amount != nil && *amount < 1 {
		return nil, fmt.Errorf("%w: capture amount must be positive", money.ErrInvalidAmount)
	}

	order, err := ps.orderByAlias(ctx, orderAlias)
	if err != nil {
		return nil, err
	}

	var result *PaymentResult
	err = ps.withLock(ctx, order.ID, func() error {
		payment, err := ps.requirePayment(ctx, order)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusAuthorized {
			return fmt.Errorf("%w: cannot capture a %s payment", ErrInvalidTransition, payment.Status)
		}

		amt := payment.PaymentAmount
		if amount != nil {
			amt = *amount
		}
		if amt > payment.PaymentAmount {
			return fmt.Errorf("%w: capture amount %d exceeds authorized %d", money.ErrInvalidAmount, amt, payment.PaymentAmount)
		}

		manager, err := ps.Manager(ctx, payment.PaymentPluginID)
		if err != nil {
			return err
		}
		resp, err := manager.Capture(ctx, paymentRequest(order, payment, amt))
		if err != nil {
			ps.recordOutcome("capture", err, nil)
			return err
		}

		applyResponse(payment, resp)
		if resp.Success {
			now := ps.now().UTC()
			payment.Status = models.PaymentStatusCaptured
			payment.PaymentAmount = amt
			payment.PaidAt = &now
		} else {
			payment.Status = models.PaymentStatusFailed
		}
		if err := ps.payments.UpdatePayment(ctx, payment, models.PaymentStatusAuthorized); err != nil {
			return saveError(err)
		}

		ps.recordOutcome("capture", nil, resp)
		ps.publish(ctx, order, payment, resp.Message)
		result = &PaymentResult{Payment: payment, Response: resp}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Payment capture processed",
		zap.String("order_alias", order.Alias),
		zap.String("status", string(result.Payment.Status)))
	return result, nil
}

// CancelPayment voids an AUTHORIZED payment. A declined cancel leaves the
// status alone and keeps the gateway response.
func (ps *PaymentService) CancelPayment(ctx context.Context, orderAlias string) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CancelPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_alias", orderAlias))

	order, err := ps.orderByAlias(ctx, orderAlias)
	if err != nil {
		return nil, err
	}

	var result *PaymentResult
	err = ps.withLock(ctx, order.ID, func() error {
		payment, err := ps.requirePayment(ctx, order)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusAuthorized {
			return fmt.Errorf("%w: cannot cancel a %s payment", ErrInvalidTransition, payment.Status)
		}

		manager, err := ps.Manager(ctx, payment.PaymentPluginID)
		if err != nil {
			return err
		}
		resp, err := manager.Cancel(ctx, paymentRequest(order, payment, payment.PaymentAmount))
		if err != nil {
			ps.recordOutcome("cancel", err, nil)
			return err
		}

		applyResponse(payment, resp)
		if resp.Success {
			payment.Status = models.PaymentStatusCanceled
		}
		if err := ps.payments.UpdatePayment(ctx, payment, models.PaymentStatusAuthorized); err != nil {
			return saveError(err)
		}

		ps.recordOutcome("cancel", nil, resp)
		if resp.Success {
			ps.publish(ctx, order, payment, resp.Message)
		}
		result = &PaymentResult{Payment: payment, Response: resp}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundPayment refunds a CAPTURED payment of a RETURNED order. A nil amount
// refunds everything. Amounts above the paid amount are rejected, never
// clamped.
func (ps *PaymentService) RefundPayment(ctx context.Context, orderAlias string, amount *int64) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order_alias", orderAlias))

	if amount != nil && *amount < 1 {
		return nil, fmt.Errorf("%w: refund amount must be positive", money.ErrInvalidAmount)
	}

	order, err := ps.orderByAlias(ctx, orderAlias)
	if err != nil {
		return nil, err
	}
	if !order.IsReturned() {
		return nil, fmt.Errorf("%w: order %s is %s, not %s", ErrRefundPrecondition, order.Alias, order.Status, models.OrderStatusReturned)
	}

	var result *PaymentResult
	err = ps.withLock(ctx, order.ID, func() error {
		payment, err := ps.requirePayment(ctx, order)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusCaptured {
			return fmt.Errorf("%w: payment is %s, not %s", ErrRefundPrecondition, payment.Status, models.PaymentStatusCaptured)
		}

		amt := payment.PaymentAmount
		if amount != nil {
			amt = *amount
		}
		if amt > payment.PaymentAmount {
			return fmt.Errorf("%w: refund amount %d exceeds paid amount %d", ErrRefundPrecondition, amt, payment.PaymentAmount)
		}

		manager, err := ps.Manager(ctx, payment.PaymentPluginID)
		if err != nil {
			return err
		}
		resp, err := manager.Refund(ctx, paymentRequest(order, payment, amt))
		if err != nil {
			ps.recordOutcome("refund", err, nil)
			return err
		}

		applyResponse(payment, resp)
		if resp.Success {
			payment.Status = models.PaymentStatusRefunded
			util.PaymentsRefundedAmount.WithLabelValues(payment.Currency).Add(float64(amt))
		}
		if err := ps.payments.UpdatePayment(ctx, payment, models.PaymentStatusCaptured); err != nil {
			return saveError(err)
		}

		ps.recordOutcome("refund", nil, resp)
		if resp.Success {
			ps.publish(ctx, order, payment, resp.Message)
		}
		result = &PaymentResult{Payment: payment, Response: resp}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Payment refund processed",
		zap.String("order_alias", order.Alias),
		zap.String("status", string(result.Payment.Status)))
	return result, nil
}

// GetPayment returns the payment attached to an order
func (ps *PaymentService) GetPayment(ctx context.Context, orderAlias string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetPayment")
	defer span.End()

	order, err := ps.orderByAlias(ctx, orderAlias)
	if err != nil {
		return nil, err
	}
	return ps.requirePayment(ctx, order)
}

func (ps *PaymentService) orderByAlias(ctx context.Context, alias string) (*models.Order, error) {
	order, err := ps.orders.GetOrderByAlias(ctx, alias)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

// findPayment returns nil without error when the order has no payment yet
func (ps *PaymentService) findPayment(ctx context.Context, orderID int64) (*models.Payment, error) {
	payment, err := ps.payments.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return payment, nil
}

func (ps *PaymentService) requirePayment(ctx context.Context, order *models.Order) (*models.Payment, error) {
	payment, err := ps.findPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: order %s", ErrPaymentNotFound, order.Alias)
	}
	return payment, nil
}

// withLock runs fn while holding the payment lock of orderID
func (ps *PaymentService) withLock(ctx context.Context, orderID int64, fn func() error) error {
	key := fmt.Sprintf("payment:%d", orderID)
	acquired, err := ps.locker.AcquireLock(ctx, key, ps.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire payment lock: %w", err)
	}
	if !acquired {
		util.PaymentOperationsTotal.WithLabelValues("lock", "busy").Inc()
		return ErrPaymentBusy
	}
	defer func() {
		if err := ps.locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			ps.logger.Error("Failed to release payment lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

func (ps *PaymentService) publish(ctx context.Context, order *models.Order, payment *models.Payment, message string) {
	event := &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.PaymentEventType(payment.Status),
			Timestamp: ps.now(),
		},
		OrderID:       order.ID,
		OrderAlias:    order.Alias,
		PaymentID:     payment.ID,
		PluginID:      payment.PaymentPluginID,
		Amount:        payment.PaymentAmount,
		Currency:      payment.Currency,
		TransactionID: payment.TxID(),
		Status:        payment.Status,
		Message:       message,
	}
	if err := ps.publisher.PublishPaymentEvent(ctx, event); err != nil {
		ps.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.EventType),
			zap.String("order_alias", order.Alias),
			zap.Error(err))
	}
}

func (ps *PaymentService) recordOutcome(op string, err error, resp *gateway.Response) {
	outcome := "success"
	switch {
	case err != nil && gateway.IsTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case resp != nil && !resp.Success:
		outcome = "declined"
	}
	util.PaymentOperationsTotal.WithLabelValues(op, outcome).Inc()
}

func paymentRequest(order *models.Order, payment *models.Payment, amount int64) gateway.Request {
	return gateway.Request{
		OrderID:       order.ID,
		OrderAlias:    order.Alias,
		TransactionID: payment.TxID(),
		Amount:        amount,
		Currency:      payment.Currency,
	}
}

// applyResponse stores the gateway payload. The first transaction id a
// payment receives is kept for the rest of its life.
func applyResponse(payment *models.Payment, resp *gateway.Response) {
	payment.GatewayResponseRaw = rawPayload(resp)
	if payment.TransactionID == nil && resp != nil && resp.TransactionID != "" {
		txID := resp.TransactionID
		payment.TransactionID = &txID
	}
}

func rawPayload(resp *gateway.Response) models.RawPayload {
	if resp == nil {
		return nil
	}
	if len(resp.RawData) > 0 {
		return models.RawPayload(resp.RawData)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return models.RawPayload(data)
}
