package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

// PaymentOperations is the payment surface served over HTTP
type PaymentOperations interface {
	StartPayment(ctx context.Context, pluginID, orderAlias string, options map[string]any) (*gateway.Redirect, error)
	ApplyWebhook(ctx context.Context, pluginID string, payload gateway.WebhookPayload) (*service.WebhookResult, error)
	PublicKeys(ctx context.Context, pluginID string) (map[string]string, error)
	Serializer(ctx context.Context, pluginID string) (gateway.Schema, error)
	AuthorizePayment(ctx context.Context, in service.AuthorizeInput) (*service.PaymentResult, error)
	CapturePayment(ctx context.Context, orderAlias string, amount *int64) (*service.PaymentResult, error)
	CancelPayment(ctx context.Context, orderAlias string) (*service.PaymentResult, error)
	RefundPayment(ctx context.Context, orderAlias string, amount *int64) (*service.PaymentResult, error)
	GetPayment(ctx context.Context, orderAlias string) (*models.Payment, error)
}

// ExchangeOperations is the currency surface served over HTTP
type ExchangeOperations interface {
	BaseCurrency() string
	GetExchangeRate(ctx context.Context, target string) (decimal.Decimal, error)
	Convert(ctx context.Context, amount decimal.Decimal, target string) (decimal.Decimal, error)
	RefreshRates(ctx context.Context) (*service.RefreshResult, error)
	SetRate(ctx context.Context, base, target string, rate decimal.Decimal) (*models.ExchangeRate, error)
	ListRates(ctx context.Context) ([]models.ExchangeRate, error)
}

// PluginOperations is the plugin admin surface served over HTTP
type PluginOperations interface {
	Register(ctx context.Context, in service.RegisterPluginInput) (*models.Plugin, error)
	Activate(ctx context.Context, name string) (*models.Plugin, error)
	Deactivate(ctx context.Context, name string) (*models.Plugin, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, pluginType string) ([]models.Plugin, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler contains HTTP handlers
type Handler struct {
	payments          PaymentOperations
	exchange          ExchangeOperations
	plugins           PluginOperations
	allowedCurrencies []string
	checks            map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(payments PaymentOperations, exchange ExchangeOperations, plugins PluginOperations, allowedCurrencies []string) *Handler {
	return &Handler{
		payments:          payments,
		exchange:          exchange,
		plugins:           plugins,
		allowedCurrencies: allowedCurrencies,
		checks:            map[string]Pinger{},
	}
}

// WithReadinessCheck adds a dependency to /ready
func (h *Handler) WithReadinessCheck(name string, p Pinger) *Handler {
	h.checks[name] = p
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(currencyMiddleware(h.exchange.BaseCurrency(), h.allowedCurrencies))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	payment := router.Group("/payment")
	{
		payment.POST("/start/:plugin_id", h.startPayment)
		payment.GET("/webhook/:plugin_id", h.webhook)
		payment.POST("/webhook/:plugin_id", h.webhook)
		payment.GET("/public-keys/:plugin_id", h.publicKeys)
		payment.GET("/serializer/:plugin_id", h.serializer)
		payment.POST("/authorize/:plugin_id", h.authorizePayment)
		payment.POST("/capture/:order_alias", h.capturePayment)
		payment.POST("/cancel/:order_alias", h.cancelPayment)
		payment.PATCH("/refund/:order_alias", h.refundPayment)
		payment.GET("/:order_alias", h.getPayment)
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/plugins", h.listPlugins)
		v1.POST("/plugins", h.registerPlugin)
		v1.POST("/plugins/:name/activate", h.activatePlugin)
		v1.POST("/plugins/:name/deactivate", h.deactivatePlugin)
		v1.DELETE("/plugins/:name", h.deletePlugin)

		v1.GET("/currency/rates", h.listRates)
		v1.GET("/currency/rates/:target", h.getRate)
		v1.PUT("/currency/rates/:target", h.setRate)
		v1.GET("/currency/convert", h.convert)
		v1.POST("/currency/refresh", h.refreshRates)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
		"time":         time.Now().Unix(),
	})
}

type startPaymentRequest struct {
	OrderAlias string         `json:"order_alias" binding:"required"`
	Options    map[string]any `json:"options"`
}

func (h *Handler) startPayment(c *gin.Context) {
	var req startPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	redirect, err := h.payments.StartPayment(c.Request.Context(), c.Param("plugin_id"), req.OrderAlias, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{}
	for k, v := range redirect.Meta {
		resp[k] = v
	}
	resp["url"] = redirect.URL
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, err)
		return
	}

	query := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	result, err := h.payments.ApplyWebhook(c.Request.Context(), c.Param("plugin_id"), gateway.WebhookPayload{
		Body:   body,
		Header: c.Request.Header.Clone(),
		Query:  query,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) publicKeys(c *gin.Context) {
	keys, err := h.payments.PublicKeys(c.Request.Context(), c.Param("plugin_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) serializer(c *gin.Context) {
	schema, err := h.payments.Serializer(c.Request.Context(), c.Param("plugin_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

type authorizeRequest struct {
	OrderAlias    string         `json:"order_alias" binding:"required"`
	Amount        *int64         `json:"amount"`
	PaymentMethod string         `json:"payment_method" binding:"omitempty,oneof=CREDIT_CARD PAYPAL BANK_TRANSFER CASH_ON_DELIVERY"`
	Options       map[string]any `json:"options"`
}

func (h *Handler) authorizePayment(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.payments.AuthorizePayment(c.Request.Context(), service.AuthorizeInput{
		OrderAlias:     req.OrderAlias,
		PluginID:       c.Param("plugin_id"),
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		Options:        req.Options,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(statusForResult(result), result)
}

type amountRequest struct {
	Amount *int64 `json:"amount"`
}

// bindOptionalAmount accepts an empty body as "no amount"
func bindOptionalAmount(c *gin.Context) (*int64, bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return nil, false
	}
	return req.Amount, true
}

func (h *Handler) capturePayment(c *gin.Context) {
	amount, ok := bindOptionalAmount(c)
	if !ok {
		return
	}

	result, err := h.payments.CapturePayment(c.Request.Context(), c.Param("order_alias"), amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(statusForResult(result), result)
}

func (h *Handler) cancelPayment(c *gin.Context) {
	result, err := h.payments.CancelPayment(c.Request.Context(), c.Param("order_alias"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(statusForResult(result), result)
}

func (h *Handler) refundPayment(c *gin.Context) {
	amount, ok := bindOptionalAmount(c)
	if !ok {
		return
	}

	result, err := h.payments.RefundPayment(c.Request.Context(), c.Param("order_alias"), amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(statusForResult(result), result)
}

func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("order_alias"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// statusForResult reports a declined gateway call as 402 with the persisted record
func statusForResult(result *service.PaymentResult) int {
	if result.Response != nil && !result.Response.Success {
		return http.StatusPaymentRequired
	}
	return http.StatusOK
}
