// Package gateway implements the Coinsnap checkout gateways: invoice
// creation and reuse, webhook reconciliation of order state, and refunds via
// pull payments.
package gateway

import (
	"sort"
	"strings"

	"github.com/noah-isme/coinsnap-bridge/internal/config"
)

// Token types a gateway can charge with. Promotion gateways charge one token
// per line-item quantity against the primary payment method instead of the
// order total.
const (
	TokenTypePayment   = "payment"
	TokenTypePromotion = "promotion"
)

// Gateway describes one checkout variant. The combined gateway leaves
// PaymentMethods empty and accepts everything the store supports; separate
// per-method gateways restrict invoices to their own set.
type Gateway struct {
	ID                   string
	Title                string
	PaymentMethods       []string
	TokenType            string
	PrimaryPaymentMethod string
}

// Registry holds the configured gateway descriptors keyed by id.
type Registry struct {
	byID  map[string]Gateway
	order []string
}

// NewRegistry builds a registry from the configuration snapshot.
func NewRegistry(cfgs []config.GatewayConfig) *Registry {
	r := &Registry{byID: make(map[string]Gateway, len(cfgs))}
	for _, c := range cfgs {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			continue
		}
		tokenType := strings.TrimSpace(c.TokenType)
		if tokenType == "" {
			tokenType = TokenTypePayment
		}
		if _, exists := r.byID[id]; !exists {
			r.order = append(r.order, id)
		}
		r.byID[id] = Gateway{
			ID:                   id,
			Title:                c.Title,
			PaymentMethods:       append([]string(nil), c.PaymentMethods...),
			TokenType:            tokenType,
			PrimaryPaymentMethod: strings.TrimSpace(c.PrimaryPaymentMethod),
		}
	}
	return r
}

// Get looks up a gateway descriptor by id.
func (r *Registry) Get(id string) (Gateway, bool) {
	gw, ok := r.byID[strings.TrimSpace(id)]
	return gw, ok
}

// Default returns the first configured gateway.
func (r *Registry) Default() Gateway {
	if len(r.order) == 0 {
		return Gateway{ID: "coinsnap", TokenType: TokenTypePayment}
	}
	return r.byID[r.order[0]]
}

// normalisePaymentMethods prepares a payment-method set for order-insensitive
// comparison: the server reports methods with dashes while gateways are
// configured with underscores.
func normalisePaymentMethods(methods []string) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ReplaceAll(strings.TrimSpace(m), "-", "_")
		if m != "" {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// paymentMethodsMatch compares two payment-method sets ignoring order.
func paymentMethodsMatch(a, b []string) bool {
	na, nb := normalisePaymentMethods(a), normalisePaymentMethods(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}
