// Package catalog lists the payment providers compiled into the service.
package catalog

import (
	"payment-service/internal/gateway"
	"payment-service/internal/gateway/cod"
	"payment-service/internal/gateway/stripecard"
)

// Default returns the catalog used by the server
func Default() gateway.Catalog {
	return gateway.Catalog{
		stripecard.Path: stripecard.New,
		cod.Path:        cod.New,
	}
}
