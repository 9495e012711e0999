package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"

	"github.com/shopspring/decimal"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newFakeOrders(orders ...*models.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]*models.Order{}}
	for _, o := range orders {
		f.orders[o.Alias] = o
	}
	return f
}

func (f *fakeOrders) GetOrderByAlias(_ context.Context, alias string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[alias]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", alias, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
}

func (f *fakeOrders) setStatus(alias, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[alias].Status = status
}

type fakePayments struct {
	mu      sync.Mutex
	nextID  int64
	byOrder map[int64]*models.Payment
	creates int
	updates int
}

func newFakePayments() *fakePayments {
	return &fakePayments{byOrder: map[int64]*models.Payment{}}
}

func clonePayment(p *models.Payment) *models.Payment {
	cp := *p
	if p.TransactionID != nil {
		tx := *p.TransactionID
		cp.TransactionID = &tx
	}
	cp.GatewayResponseRaw = append(models.RawPayload(nil), p.GatewayResponseRaw...)
	return &cp
}

func (f *fakePayments) CreatePayment(_ context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byOrder[p.OrderID]; ok {
		return &store.ConflictError{Constraint: store.ConstraintPaymentOrder}
	}
	if err := f.checkTransactionID(p); err != nil {
		return err
	}
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.byOrder[p.OrderID] = clonePayment(p)
	f.creates++
	return nil
}

func (f *fakePayments) UpdatePayment(_ context.Context, p *models.Payment, from models.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byOrder[p.OrderID]
	if !ok || cur.ID != p.ID || cur.Status != from {
		return fmt.Errorf("payment %d: %w", p.ID, store.ErrConflict)
	}
	if err := f.checkTransactionID(p); err != nil {
		return err
	}
	f.byOrder[p.OrderID] = clonePayment(p)
	f.updates++
	return nil
}

// checkTransactionID mirrors the unique index on payments.transaction_id
func (f *fakePayments) checkTransactionID(p *models.Payment) error {
	if p.TransactionID == nil {
		return nil
	}
	for orderID, other := range f.byOrder {
		if orderID != p.OrderID && other.TxID() == p.TxID() {
			return &store.ConflictError{Constraint: store.ConstraintTransactionID}
		}
	}
	return nil
}

func (f *fakePayments) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, store.ErrNotFound)
	}
	return clonePayment(p), nil
}

func (f *fakePayments) GetPaymentByTransactionID(_ context.Context, pluginID, txID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byOrder {
		if p.PaymentPluginID == pluginID && p.TxID() == txID {
			return clonePayment(p), nil
		}
	}
	return nil, fmt.Errorf("payment %s: %w", txID, store.ErrNotFound)
}

func (f *fakePayments) get(orderID int64) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byOrder[orderID]; ok {
		return clonePayment(p)
	}
	return nil
}

type fakeLedger struct {
	mu     sync.Mutex
	claims map[string]string
}

func newFakeLedger() *fakeLedger { return &fakeLedger{claims: map[string]string{}} }

func (f *fakeLedger) ClaimEvent(_ context.Context, id, typ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.claims[id]; ok {
		return false, nil
	}
	f.claims[id] = typ
	return true, nil
}

func (f *fakeLedger) ReleaseEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, id)
	return nil
}

func (f *fakeLedger) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.claims[id]
	return ok
}

// fakeLocker doubles as the idempotency key store
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	keys     map[string]bool
	acquired []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}, keys: map[string]bool{}}
}

func (f *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func (f *fakeLocker) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeLocker) ReleaseIdempotencyKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeLocker) hasKey(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

func (f *fakeLocker) isHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key]
}

type fakePublisher struct {
	mu      sync.Mutex
	payment []*models.PaymentEvent
	plugins []*models.PluginChangedEvent
	rates   []*models.RatesRefreshedEvent
}

func (f *fakePublisher) PublishPaymentEvent(_ context.Context, e *models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payment = append(f.payment, e)
	return nil
}

func (f *fakePublisher) PublishPluginChanged(_ context.Context, e *models.PluginChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins = append(f.plugins, e)
	return nil
}

func (f *fakePublisher) PublishRatesRefreshed(_ context.Context, e *models.RatesRefreshedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, e)
	return nil
}

func (f *fakePublisher) paymentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.payment))
	for _, e := range f.payment {
		out = append(out, e.EventType)
	}
	return out
}

type fakeResolver struct {
	gateways map[string]gateway.Gateway
	calls    int
}

func (f *fakeResolver) Gateway(_ context.Context, id string) (gateway.Gateway, error) {
	f.calls++
	if err := gateway.ValidatePluginID(id); err != nil {
		return nil, err
	}
	gw, ok := f.gateways[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownPlugin, id)
	}
	return gw, nil
}

// scriptedGateway answers with preset responses and records every request
type scriptedGateway struct {
	mu        sync.Mutex
	responses map[string]*gateway.Response
	errs      map[string]error
	schema    gateway.Schema
	block     bool
	calls     map[string][]gateway.Request
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		responses: map[string]*gateway.Response{},
		errs:      map[string]error{},
		calls:     map[string][]gateway.Request{},
	}
}

func (g *scriptedGateway) do(ctx context.Context, op string, req gateway.Request) (*gateway.Response, error) {
	g.mu.Lock()
	g.calls[op] = append(g.calls[op], req)
	resp, err, block := g.responses[op], g.errs[op], g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		cp := *resp
		return &cp, nil
	}
	return &gateway.Response{
		Success:       true,
		TransactionID: "txn_" + op,
		RawData:       []byte(`{"op":"` + op + `"}`),
	}, nil
}

func (g *scriptedGateway) callCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls[op])
}

func (g *scriptedGateway) lastCall(op string) gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.calls[op]
	return c[len(c)-1]
}

func (g *scriptedGateway) Authorize(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.do(ctx, "authorize", req)
}

func (g *scriptedGateway) Capture(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.do(ctx, "capture", req)
}

func (g *scriptedGateway) Cancel(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.do(ctx, "cancel", req)
}

func (g *scriptedGateway) Refund(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.do(ctx, "refund", req)
}

func (g *scriptedGateway) NormalizeResponse(raw any) (*gateway.Response, error) {
	return &gateway.Response{Success: true, Message: fmt.Sprint(raw)}, nil
}

func (g *scriptedGateway) PublicKeys() map[string]string {
	return map[string]string{"publishable_key": "pk_test"}
}

func (g *scriptedGateway) SpecialSerializer() gateway.Schema { return g.schema }

// hostedGateway adds the redirect and webhook capabilities
type hostedGateway struct {
	*scriptedGateway
	event *gateway.WebhookEvent
	err   error
}

func (g *hostedGateway) PaymentURLWithMeta(_ context.Context, req gateway.Request) (*gateway.Redirect, error) {
	return &gateway.Redirect{
		URL:  "https://pay.example.com/" + req.OrderAlias,
		Meta: map[string]any{"amount": req.Amount},
	}, nil
}

func (g *hostedGateway) HandleWebhookEvent(_ context.Context, _ gateway.WebhookPayload) (*gateway.WebhookEvent, error) {
	if g.err != nil {
		return nil, g.err
	}
	cp := *g.event
	return &cp, nil
}

type fakeRates struct {
	mu     sync.Mutex
	rates  map[string]decimal.Decimal
	reads  int
	writes int
}

func newFakeRates() *fakeRates { return &fakeRates{rates: map[string]decimal.Decimal{}} }

func (f *fakeRates) UpsertExchangeRate(_ context.Context, base, target string, rate decimal.Decimal) (*models.ExchangeRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.rates[base+"/"+target] = rate
	return &models.ExchangeRate{BaseCurrency: base, TargetCurrency: target, Rate: rate, LastModified: time.Now()}, nil
}

func (f *fakeRates) GetExchangeRate(_ context.Context, base, target string) (*models.ExchangeRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	r, ok := f.rates[base+"/"+target]
	if !ok {
		return nil, fmt.Errorf("exchange rate %s/%s: %w", base, target, store.ErrNotFound)
	}
	return &models.ExchangeRate{BaseCurrency: base, TargetCurrency: target, Rate: r}, nil
}

func (f *fakeRates) ListExchangeRates(_ context.Context, base string) ([]models.ExchangeRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ExchangeRate{}
	for k, r := range f.rates {
		if len(k) > len(base) && k[:len(base)] == base {
			out = append(out, models.ExchangeRate{BaseCurrency: base, TargetCurrency: k[len(base)+1:], Rate: r})
		}
	}
	return out, nil
}

type fakePlugins struct {
	mu      sync.Mutex
	nextID  int64
	plugins map[string]*models.Plugin
}

func newFakePlugins(plugins ...*models.Plugin) *fakePlugins {
	f := &fakePlugins{plugins: map[string]*models.Plugin{}}
	for _, p := range plugins {
		f.nextID++
		p.ID = f.nextID
		f.plugins[p.Name] = p
	}
	return f
}

// singletonTaken mirrors the partial unique index on active singleton types
func (f *fakePlugins) singletonTaken(p *models.Plugin) bool {
	if !p.IsActive || !models.IsSingletonPluginType(p.PluginType) {
		return false
	}
	for _, other := range f.plugins {
		if other.Name != p.Name && other.PluginType == p.PluginType && other.IsActive {
			return true
		}
	}
	return false
}

func (f *fakePlugins) CreatePlugin(_ context.Context, p *models.Plugin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plugins[p.Name]; ok {
		return &store.ConflictError{Constraint: store.ConstraintPluginName}
	}
	if f.singletonTaken(p) {
		return &store.ConflictError{Constraint: store.ConstraintSingletonPlugin}
	}
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.plugins[p.Name] = &cp
	return nil
}

func (f *fakePlugins) GetPluginByName(_ context.Context, name string) (*models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", name, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePlugins) ListPlugins(_ context.Context, pluginType string) ([]models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Plugin{}
	for _, p := range f.plugins {
		if pluginType == "" || p.PluginType == pluginType {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePlugins) ActivePlugin(_ context.Context, pluginType string) (*models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plugins {
		if p.PluginType == pluginType && p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active %s plugin: %w", pluginType, store.ErrNotFound)
}

func (f *fakePlugins) SetPluginActive(_ context.Context, name string, active bool) (*models.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", name, store.ErrNotFound)
	}
	next := *p
	next.IsActive = active
	if f.singletonTaken(&next) {
		return nil, &store.ConflictError{Constraint: store.ConstraintSingletonPlugin}
	}
	*p = next
	cp := next
	return &cp, nil
}

func (f *fakePlugins) DeletePlugin(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plugins[name]; !ok {
		return fmt.Errorf("plugin %s: %w", name, store.ErrNotFound)
	}
	delete(f.plugins, name)
	return nil
}

type fakeInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}
