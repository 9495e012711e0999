package api

import (
	"errors"
	"net/http"

	"payment-service/internal/currency"
	"payment-service/internal/gateway"
	"payment-service/internal/money"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// checked in order; the first match wins
var errorMappings = []errorMapping{
	{gateway.ErrInvalidPluginID, http.StatusBadRequest, "invalid_plugin_id"},
	{gateway.ErrUnknownPlugin, http.StatusNotFound, "unknown_plugin"},
	{gateway.ErrLoad, http.StatusInternalServerError, "plugin_load_error"},
	{gateway.ErrNotSupported, http.StatusNotImplemented, "not_supported"},
	{gateway.ErrInvalidWebhook, http.StatusBadRequest, "invalid_webhook"},
	{gateway.ErrInvalidOptions, http.StatusBadRequest, "invalid_options"},
	{money.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{money.ErrUnknownCurrency, http.StatusBadRequest, "unknown_currency"},
	{service.ErrRefundPrecondition, http.StatusUnprocessableEntity, "refund_precondition"},
	{service.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{service.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{service.ErrRateNotFound, http.StatusNotFound, "rate_not_found"},
	{service.ErrPluginNotFound, http.StatusNotFound, "plugin_not_found"},
	{service.ErrPaymentBusy, http.StatusConflict, "payment_busy"},
	{service.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{service.ErrDuplicateTransaction, http.StatusConflict, "duplicate_transaction"},
	{service.ErrPluginExists, http.StatusConflict, "plugin_exists"},
	{service.ErrSingletonActive, http.StatusConflict, "singleton_active"},
	{service.ErrInvalidPlugin, http.StatusBadRequest, "invalid_plugin"},
	{service.ErrInvalidBaseCurrency, http.StatusBadRequest, "invalid_base_currency"},
	{service.ErrInvalidRate, http.StatusBadRequest, "invalid_rate"},
	{currency.ErrUnknownBackend, http.StatusInternalServerError, "unknown_currency_backend"},
	{currency.ErrTimeout, http.StatusGatewayTimeout, "currency_backend_timeout"},
}

// statusFor maps an error to its HTTP status and a stable error code
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	if gateway.IsTimeout(err) {
		return http.StatusGatewayTimeout, "gateway_timeout"
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway, "gateway_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"error": code}
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	if status != http.StatusInternalServerError {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"details": err.Error(),
	})
}
