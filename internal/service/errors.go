package service

import "errors"

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentBusy          = errors.New("payment is being modified by another request")
	ErrInvalidTransition    = errors.New("invalid payment status transition")
	ErrRefundPrecondition   = errors.New("refund precondition not met")
	ErrRateNotFound         = errors.New("exchange rate not found")
	ErrInvalidBaseCurrency  = errors.New("base currency does not match configured base currency")
	ErrInvalidRate          = errors.New("invalid exchange rate")
	ErrPluginNotFound       = errors.New("plugin not found")
	ErrPluginExists         = errors.New("plugin already registered")
	ErrInvalidPlugin        = errors.New("invalid plugin registration")
	ErrSingletonActive      = errors.New("another plugin of this type is already active")
	ErrDuplicateRequest     = errors.New("request with this idempotency key is already in progress")
	ErrDuplicateTransaction = errors.New("transaction id already belongs to another payment")
)
