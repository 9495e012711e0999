package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// Constraint names referenced by callers
const (
	ConstraintPluginName      = "plugins_name_key"
	ConstraintSingletonPlugin = "plugins_one_active_singleton"
	ConstraintTransactionID   = "payments_transaction_id_key"
	ConstraintPaymentOrder    = "payments_order_id_key"
)

// ConflictError reports a unique-constraint violation
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %v", e.Constraint, e.Err)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// IsConstraint reports whether err is a conflict on the named constraint
func IsConstraint(err error, constraint string) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Constraint == constraint
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the readiness probe
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the tables this service owns if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// mapError converts driver errors into the package sentinels
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return &ConflictError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}
