package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payment-service/internal/models"
)

const orderColumns = "id, alias, status, total_subunits, currency, created_at, updated_at"

const paymentColumns = `id, order_id, payment_plugin_id, payment_method, currency, payment_amount, status,
	transaction_id, gateway_response_raw, paid_at, created_at, updated_at`

// GetOrderByAlias retrieves an order by its public alias
func (s *Store) GetOrderByAlias(ctx context.Context, alias string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE alias = $1", alias)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", alias, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, payment_plugin_id, payment_method, currency, payment_amount,
			status, transaction_id, gateway_response_raw, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		payment.OrderID, payment.PaymentPluginID, payment.PaymentMethod, payment.Currency,
		payment.PaymentAmount, payment.Status, payment.TransactionID, payment.GatewayResponseRaw,
		payment.PaidAt)
	if err := row.Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return mapError(err)
	}
	return nil
}

// UpdatePayment writes every mutable column of payment, provided the stored
// status still equals from. A concurrent transition yields ErrConflict.
func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment, from models.PaymentStatus) error {
	query := `
		UPDATE payments
		SET payment_plugin_id = $1, payment_method = $2, currency = $3, payment_amount = $4,
			status = $5, transaction_id = $6, gateway_response_raw = $7, paid_at = $8, updated_at = NOW()
		WHERE id = $9 AND status = $10`

	res, err := s.db.ExecContext(ctx, query,
		payment.PaymentPluginID, payment.PaymentMethod, payment.Currency, payment.PaymentAmount,
		payment.Status, payment.TransactionID, payment.GatewayResponseRaw, payment.PaidAt,
		payment.ID, from)
	if err != nil {
		return mapError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("payment %d is no longer %s: %w", payment.ID, from, ErrConflict)
	}
	return nil
}

// GetPaymentByOrderID retrieves payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByTransactionID finds the payment a gateway transaction belongs to
func (s *Store) GetPaymentByTransactionID(ctx context.Context, pluginID, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE payment_plugin_id = $1 AND transaction_id = $2",
		pluginID, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for transaction %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ClaimEvent records an event id and reports whether this call inserted it.
// A false result means the event was processed before.
func (s *Store) ClaimEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseEvent forgets a claimed event so a redelivery is processed again
func (s *Store) ReleaseEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM processed_events WHERE event_id = $1", eventID)
	return err
}
