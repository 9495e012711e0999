package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/money"
	"payment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	err       error
	redirect  *gateway.Redirect
	result    *service.PaymentResult
	webhook   *service.WebhookResult
	payload   gateway.WebhookPayload
	authorize service.AuthorizeInput
	amount    *int64
	pluginID  string
	alias     string
}

func (f *fakePayments) StartPayment(_ context.Context, pluginID, orderAlias string, _ map[string]any) (*gateway.Redirect, error) {
	f.pluginID, f.alias = pluginID, orderAlias
	return f.redirect, f.err
}

func (f *fakePayments) ApplyWebhook(_ context.Context, pluginID string, payload gateway.WebhookPayload) (*service.WebhookResult, error) {
	f.pluginID, f.payload = pluginID, payload
	return f.webhook, f.err
}

func (f *fakePayments) PublicKeys(_ context.Context, pluginID string) (map[string]string, error) {
	f.pluginID = pluginID
	if f.err != nil {
		return nil, f.err
	}
	return map[string]string{"publishable_key": "pk_test"}, nil
}

func (f *fakePayments) Serializer(_ context.Context, pluginID string) (gateway.Schema, error) {
	f.pluginID = pluginID
	return gateway.Schema{}, f.err
}

func (f *fakePayments) AuthorizePayment(_ context.Context, in service.AuthorizeInput) (*service.PaymentResult, error) {
	f.authorize = in
	return f.result, f.err
}

func (f *fakePayments) CapturePayment(_ context.Context, alias string, amount *int64) (*service.PaymentResult, error) {
	f.alias, f.amount = alias, amount
	return f.result, f.err
}

func (f *fakePayments) CancelPayment(_ context.Context, alias string) (*service.PaymentResult, error) {
	f.alias = alias
	return f.result, f.err
}

func (f *fakePayments) RefundPayment(_ context.Context, alias string, amount *int64) (*service.PaymentResult, error) {
	f.alias, f.amount = alias, amount
	return f.result, f.err
}

func (f *fakePayments) GetPayment(_ context.Context, alias string) (*models.Payment, error) {
	f.alias = alias
	if f.err != nil {
		return nil, f.err
	}
	return f.result.Payment, nil
}

type fakeExchange struct {
	rates  map[string]decimal.Decimal
	target string
}

func (f *fakeExchange) BaseCurrency() string { return "USD" }

func (f *fakeExchange) GetExchangeRate(_ context.Context, target string) (decimal.Decimal, error) {
	f.target = target
	if target == "USD" {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := f.rates[target]
	if !ok {
		return decimal.Zero, service.ErrRateNotFound
	}
	return rate, nil
}

func (f *fakeExchange) Convert(ctx context.Context, amount decimal.Decimal, target string) (decimal.Decimal, error) {
	rate, err := f.GetExchangeRate(ctx, target)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Normalize(amount.Mul(rate), target)
}

func (f *fakeExchange) RefreshRates(context.Context) (*service.RefreshResult, error) {
	return &service.RefreshResult{Backend: "static", Updated: []string{"EUR"}, Failed: map[string]string{}}, nil
}

func (f *fakeExchange) SetRate(_ context.Context, base, target string, rate decimal.Decimal) (*models.ExchangeRate, error) {
	if !rate.IsPositive() {
		return nil, service.ErrInvalidRate
	}
	f.rates[target] = rate
	return &models.ExchangeRate{BaseCurrency: base, TargetCurrency: target, Rate: rate}, nil
}

func (f *fakeExchange) ListRates(context.Context) ([]models.ExchangeRate, error) {
	return nil, nil
}

type fakePlugins struct {
	registered []service.RegisterPluginInput
	err        error
}

func (f *fakePlugins) Register(_ context.Context, in service.RegisterPluginInput) (*models.Plugin, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.registered = append(f.registered, in)
	return &models.Plugin{ID: 1, Name: in.Name, PluginType: in.PluginType, Path: in.Path}, nil
}

func (f *fakePlugins) Activate(_ context.Context, name string) (*models.Plugin, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Plugin{Name: name, IsActive: true}, nil
}

func (f *fakePlugins) Deactivate(_ context.Context, name string) (*models.Plugin, error) {
	return &models.Plugin{Name: name}, f.err
}

func (f *fakePlugins) Delete(context.Context, string) error { return f.err }

func (f *fakePlugins) List(context.Context, string) ([]models.Plugin, error) {
	return []models.Plugin{{Name: "stripe_card"}}, f.err
}

type fixture struct {
	router   *gin.Engine
	payments *fakePayments
	exchange *fakeExchange
	plugins  *fakePlugins
	handler  *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		payments: &fakePayments{
			result: &service.PaymentResult{
				Payment:  &models.Payment{ID: 7, Status: models.PaymentStatusRefunded},
				Response: &gateway.Response{Success: true, TransactionID: "txn_1"},
			},
		},
		exchange: &fakeExchange{rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.9")}},
		plugins:  &fakePlugins{},
	}
	f.handler = NewHandler(f.payments, f.exchange, f.plugins, []string{"USD", "EUR"})
	f.router = gin.New()
	f.handler.SetupRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStatusFor(t *testing.T) {
	gwErr := &gateway.Error{Plugin: "stripe_card", Op: "capture", Message: "card_declined"}

	tests := []struct {
		err    error
		status int
	}{
		{gateway.ErrInvalidPluginID, http.StatusBadRequest},
		{fmt.Errorf("load: %w", gateway.ErrUnknownPlugin), http.StatusNotFound},
		{gateway.ErrLoad, http.StatusInternalServerError},
		{gateway.ErrNotSupported, http.StatusNotImplemented},
		{money.ErrInvalidAmount, http.StatusBadRequest},
		{service.ErrRefundPrecondition, http.StatusUnprocessableEntity},
		{service.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{service.ErrRateNotFound, http.StatusNotFound},
		{service.ErrPaymentBusy, http.StatusConflict},
		{fmt.Errorf("%w: conflict on payments_transaction_id_key", service.ErrDuplicateTransaction), http.StatusConflict},
		{service.ErrSingletonActive, http.StatusConflict},
		{fmt.Errorf("stripe_card capture: %w", gateway.ErrTimeout), http.StatusGatewayTimeout},
		{gwErr, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		status, code := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, code)
	}
}

func TestStartPaymentMergesMeta(t *testing.T) {
	f := newFixture(t)
	f.payments.redirect = &gateway.Redirect{
		URL:  "https://checkout.example/cs_1",
		Meta: map[string]any{"session_id": "cs_1"},
	}

	w := f.do(t, http.MethodPost, "/payment/start/stripe_card", `{"order_alias":"O1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "https://checkout.example/cs_1", body["url"])
	assert.Equal(t, "cs_1", body["session_id"])
	assert.Equal(t, "stripe_card", f.payments.pluginID)
	assert.Equal(t, "O1", f.payments.alias)
}

func TestStartPaymentErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/payment/start/stripe_card", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.payments.err = gateway.ErrUnknownPlugin
	w = f.do(t, http.MethodPost, "/payment/start/nope", `{"order_alias":"O1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_plugin", decode(t, w)["error"])

	f.payments.err = fmt.Errorf("cash_on_delivery: %w", gateway.ErrNotSupported)
	w = f.do(t, http.MethodPost, "/payment/start/cash_on_delivery", `{"order_alias":"O1"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestWebhookPassesRawDelivery(t *testing.T) {
	f := newFixture(t)
	f.payments.webhook = &service.WebhookResult{Status: service.WebhookReplayed, EventID: "evt_1"}

	w := f.do(t, http.MethodPost, "/payment/webhook/stripe_card?source=test", `{"id":"evt_1"}`,
		"Stripe-Signature", "t=1,v1=abc")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "replayed", decode(t, w)["status"])
	assert.Equal(t, `{"id":"evt_1"}`, string(f.payments.payload.Body))
	assert.Equal(t, "t=1,v1=abc", f.payments.payload.Header.Get("Stripe-Signature"))
	assert.Equal(t, "test", f.payments.payload.Query["source"])
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.payments.err = fmt.Errorf("%w: bad signature", gateway.ErrInvalidWebhook)

	w := f.do(t, http.MethodGet, "/payment/webhook/stripe_card", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicKeys(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/payment/public-keys/stripe_card", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pk_test", decode(t, w)["publishable_key"])
}

func TestRefundAmountIsOptional(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPatch, "/payment/refund/O2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.payments.amount)
	assert.Equal(t, "O2", f.payments.alias)

	w = f.do(t, http.MethodPatch, "/payment/refund/O2", `{"amount":500}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.payments.amount)
	assert.Equal(t, int64(500), *f.payments.amount)

	w = f.do(t, http.MethodPatch, "/payment/refund/O2", `{"amount":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefundPreconditionFailure(t *testing.T) {
	f := newFixture(t)
	f.payments.err = fmt.Errorf("%w: order O1 is PROCESSING", service.ErrRefundPrecondition)

	w := f.do(t, http.MethodPatch, "/payment/refund/O1", `{"amount":100}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "refund_precondition", decode(t, w)["error"])
}

func TestAuthorizeDeclineAndIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.payments.result = &service.PaymentResult{
		Payment:  &models.Payment{Status: models.PaymentStatusFailed},
		Response: &gateway.Response{Success: false, Message: "card_declined"},
	}

	w := f.do(t, http.MethodPost, "/payment/authorize/stripe_card",
		`{"order_alias":"O1","amount":700,"payment_method":"CREDIT_CARD"}`,
		"Idempotency-Key", "abc")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "abc", f.payments.authorize.IdempotencyKey)
	assert.Equal(t, "stripe_card", f.payments.authorize.PluginID)
	require.NotNil(t, f.payments.authorize.Amount)
	assert.Equal(t, int64(700), *f.payments.authorize.Amount)

	w = f.do(t, http.MethodPost, "/payment/authorize/stripe_card", `{"order_alias":"O1","payment_method":"CHEQUE"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPaymentDoesNotShadowStaticRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/payment/O2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "O2", f.payments.alias)

	w = f.do(t, http.MethodGet, "/payment/serializer/stripe_card", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stripe_card", f.payments.pluginID)
}

func TestConvertDefaultsToRequestCurrency(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/currency/convert?amount=10", "", "Accept-Currency", "eur")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EUR", w.Header().Get("Content-Currency"))
	body := decode(t, w)
	assert.Equal(t, "EUR", body["target"])
	assert.Equal(t, "9.00 EUR", body["formatted"])

	w = f.do(t, http.MethodGet, "/api/v1/currency/convert?amount=10", "", "Accept-Currency", "GBP")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USD", decode(t, w)["target"])

	w = f.do(t, http.MethodGet, "/api/v1/currency/convert?amount=ten", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/currency/rates/jpy", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/currency/rates/jpy", `{"rate":"149.5"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USD", decode(t, w)["base_currency"])

	w = f.do(t, http.MethodGet, "/api/v1/currency/rates/jpy", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "149.5", decode(t, w)["rate"])

	w = f.do(t, http.MethodPut, "/api/v1/currency/rates/jpy", `{"rate":"0"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/currency/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPluginAdminRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/plugins",
		`{"name":"stripe_card","plugin_type":"PAYMENT_PROCESSOR","path":"payment/stripecard"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, f.plugins.registered, 1)

	w = f.do(t, http.MethodPost, "/api/v1/plugins/stripe_card/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_active"])

	w = f.do(t, http.MethodDelete, "/api/v1/plugins/stripe_card", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	f.plugins.err = service.ErrSingletonActive
	w = f.do(t, http.MethodPost, "/api/v1/plugins/static_rates/activate", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReadiness(t *testing.T) {
	f := newFixture(t)
	f.handler.WithReadinessCheck("redis", PingFunc(func(context.Context) error { return nil }))

	w := f.do(t, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)

	f.handler.WithReadinessCheck("postgres", PingFunc(func(context.Context) error { return errors.New("down") }))
	w = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "down", decode(t, w)["dependencies"].(map[string]any)["postgres"])
}
