package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"payment-service/internal/models"

	"github.com/shopspring/decimal"
)

// UpsertExchangeRate stores the latest rate for a pair; the last write wins
func (s *Store) UpsertExchangeRate(ctx context.Context, base, target string, rate decimal.Decimal) (*models.ExchangeRate, error) {
	query := `
		INSERT INTO exchange_rates (base_currency, target_currency, rate, last_modified)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (base_currency, target_currency)
		DO UPDATE SET rate = EXCLUDED.rate, last_modified = EXCLUDED.last_modified
		RETURNING id, base_currency, target_currency, rate, last_modified`

	var er models.ExchangeRate
	if err := s.db.GetContext(ctx, &er, query, base, target, rate); err != nil {
		return nil, mapError(err)
	}
	return &er, nil
}

// GetExchangeRate retrieves the stored rate for a pair
func (s *Store) GetExchangeRate(ctx context.Context, base, target string) (*models.ExchangeRate, error) {
	var er models.ExchangeRate
	err := s.db.GetContext(ctx, &er, `
		SELECT id, base_currency, target_currency, rate, last_modified
		FROM exchange_rates WHERE base_currency = $1 AND target_currency = $2`, base, target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exchange rate %s/%s: %w", base, target, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &er, nil
}

// ListExchangeRates returns every stored rate for a base currency
func (s *Store) ListExchangeRates(ctx context.Context, base string) ([]models.ExchangeRate, error) {
	var rates []models.ExchangeRate
	err := s.db.SelectContext(ctx, &rates, `
		SELECT id, base_currency, target_currency, rate, last_modified
		FROM exchange_rates WHERE base_currency = $1 ORDER BY target_currency`, base)
	return rates, err
}
