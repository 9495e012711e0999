// Package cod is the cash-on-delivery provider. Money changes hands offline,
// so every operation succeeds and only records a local transaction id.
package cod

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-service/internal/gateway"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Path is the module path the provider is registered under
const Path = "payment/cash_on_delivery"

type Gateway struct {
	plugin string
	logger *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// New is the gateway.Factory for cash on delivery
func New(opts gateway.Options) (gateway.Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{plugin: opts.PluginID, logger: logger}, nil
}

type record struct {
	Operation     string `json:"operation"`
	TransactionID string `json:"transaction_id"`
	OrderAlias    string `json:"order_alias"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

func (g *Gateway) respond(op string, req gateway.Request) (*gateway.Response, error) {
	txID := req.TransactionID
	if txID == "" {
		txID = "cod_" + uuid.New().String()
	}
	g.logger.Debug("Cash on delivery operation",
		zap.String("op", op),
		zap.String("order_alias", req.OrderAlias),
		zap.String("transaction_id", txID))

	return g.NormalizeResponse(record{
		Operation:     op,
		TransactionID: txID,
		OrderAlias:    req.OrderAlias,
		Amount:        req.Amount,
		Currency:      req.Currency,
	})
}

func (g *Gateway) Authorize(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.respond("authorize", req)
}

func (g *Gateway) Capture(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.respond("capture", req)
}

func (g *Gateway) Cancel(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.respond("cancel", req)
}

func (g *Gateway) Refund(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	return g.respond("refund", req)
}

func (g *Gateway) NormalizeResponse(raw any) (*gateway.Response, error) {
	rec, ok := raw.(record)
	if !ok {
		return nil, fmt.Errorf("cod: unexpected response type %T", raw)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return &gateway.Response{
		Success:       true,
		TransactionID: rec.TransactionID,
		Message:       "collected on delivery",
		RawData:       data,
	}, nil
}

func (g *Gateway) PublicKeys() map[string]string {
	return map[string]string{}
}

func (g *Gateway) SpecialSerializer() gateway.Schema {
	return gateway.Schema{}
}
