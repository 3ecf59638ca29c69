package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/coinsnap-bridge/internal/coinsnap"
	"github.com/noah-isme/coinsnap-bridge/internal/config"
	"github.com/noah-isme/coinsnap-bridge/internal/lock"
	"github.com/noah-isme/coinsnap-bridge/internal/money"
	"github.com/noah-isme/coinsnap-bridge/internal/obs"
	"github.com/noah-isme/coinsnap-bridge/internal/order"
)

var (
	// ErrNotConfigured is returned when the store id or api key is missing.
	ErrNotConfigured = errors.New("gateway: coinsnap credentials not configured")
	// ErrUnknownGateway is returned for gateway ids outside the registry.
	ErrUnknownGateway = errors.New("gateway: unknown gateway")
	// ErrPromotionMisconfigured is returned when a promotion gateway has no
	// primary payment method or the order carries no items to charge for.
	ErrPromotionMisconfigured = errors.New("gateway: promotion gateway misconfigured")
	// ErrPaymentUnavailable wraps invoice creation failures. Handlers must not
	// leak the underlying cause to shoppers.
	ErrPaymentUnavailable = errors.New("gateway: cannot start payment")
)

// API is the slice of the Coinsnap client the gateway service needs.
type API interface {
	CreateInvoice(ctx context.Context, storeID string, req coinsnap.InvoiceRequest) (coinsnap.Invoice, error)
	GetInvoice(ctx context.Context, storeID, invoiceID string) (coinsnap.Invoice, error)
	MarkInvoiceStatus(ctx context.Context, storeID, invoiceID string, status coinsnap.InvoiceStatus) error
	CreatePullPayment(ctx context.Context, storeID string, req coinsnap.PullPaymentRequest) (coinsnap.PullPayment, error)
	GetServerInfo(ctx context.Context) (coinsnap.ServerInfo, error)
	GetAPIKeyInfo(ctx context.Context) (coinsnap.APIKeyInfo, error)
}

// Service drives invoice creation and refunds for the configured gateways.
type Service struct {
	Store    order.Store
	API      API
	Cfg      *config.Config
	Gateways *Registry
	Locker   *lock.Locker
	Logger   zerolog.Logger
	Version  string
}

// PayResult is what the checkout frontend needs to hand the shopper over to
// the Coinsnap payment page.
type PayResult struct {
	InvoiceID   string `json:"invoiceId"`
	RedirectURL string `json:"redirect"`
	Reused      bool   `json:"-"`
}

// Pay resolves or creates a Coinsnap invoice for the order and returns the
// redirect target. An existing non-terminal invoice that still matches the
// gateway is reused; everything else gets a fresh invoice.
func (s *Service) Pay(ctx context.Context, gatewayID string, orderID uuid.UUID) (PayResult, error) {
	tracer := otel.Tracer("gateway.Service")
	ctx, span := tracer.Start(ctx, "GatewayService.Pay",
		trace.WithAttributes(attribute.String("order.id", orderID.String()), attribute.String("gateway.id", gatewayID)))
	defer span.End()

	if !s.Cfg.Configured() {
		return PayResult{}, ErrNotConfigured
	}
	gw, ok := s.Gateways.Get(gatewayID)
	if !ok {
		return PayResult{}, ErrUnknownGateway
	}
	ord, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return PayResult{}, err
	}

	var res PayResult
	run := func(ctx context.Context) error {
		var err error
		res, err = s.resolveOrCreate(ctx, gw, ord)
		return err
	}
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, lock.InvoiceKey(orderID.String()), s.Cfg.InvoiceLockTTL, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		countMetric(obs.InvoiceCreateTotal, gw.ID, "error")
		return PayResult{}, err
	}
	result := "created"
	if res.Reused {
		result = "reused"
	}
	countMetric(obs.InvoiceCreateTotal, gw.ID, result)
	span.SetAttributes(attribute.String("invoice.id", res.InvoiceID))
	return res, nil
}

func (s *Service) resolveOrCreate(ctx context.Context, gw Gateway, ord order.Order) (PayResult, error) {
	if invoiceID, ok := s.validInvoiceExists(ctx, gw, ord); ok {
		s.Logger.Debug().
			Str("order_id", ord.ID.String()).
			Str("invoice_id", invoiceID).
			Msg("reusing existing invoice")
		redirect, err := s.Store.GetMeta(ctx, ord.ID, order.MetaInvoiceRedirect)
		if err != nil {
			return PayResult{}, err
		}
		return PayResult{InvoiceID: invoiceID, RedirectURL: redirect, Reused: true}, nil
	}
	return s.createInvoice(ctx, gw, ord)
}

// validInvoiceExists reports whether the order already references an invoice
// that can be reused. Terminal invoices never qualify. With separate gateways
// enabled an invoice whose payment-method set no longer matches the gateway
// is marked invalid on the server so the shopper cannot pay a stale invoice.
func (s *Service) validInvoiceExists(ctx context.Context, gw Gateway, ord order.Order) (string, bool) {
	invoiceID, err := s.Store.GetMeta(ctx, ord.ID, order.MetaInvoiceID)
	if err != nil || invoiceID == "" {
		return "", false
	}
	inv, err := s.API.GetInvoice(ctx, s.Cfg.CoinsnapStoreID, invoiceID)
	if err != nil {
		s.Logger.Debug().Err(err).Str("invoice_id", invoiceID).Msg("could not fetch existing invoice")
		return "", false
	}
	if inv.Status.IsTerminal() {
		return "", false
	}
	if !s.Cfg.SeparateGateways {
		return invoiceID, true
	}
	if paymentMethodsMatch(gw.PaymentMethods, inv.Checkout.PaymentMethods) {
		return invoiceID, true
	}
	if err := s.Store.AddNote(ctx, ord.ID, "Coinsnap invoice manually set to invalid because customer went back to checkout and changed payment gateway."); err != nil {
		s.Logger.Error().Err(err).Str("order_id", ord.ID.String()).Msg("could not record order note")
	}
	if err := s.API.MarkInvoiceStatus(ctx, s.Cfg.CoinsnapStoreID, invoiceID, coinsnap.InvoiceInvalid); err != nil {
		s.Logger.Error().Err(err).Str("invoice_id", invoiceID).Msg("could not mark invoice invalid")
	}
	return "", false
}

func (s *Service) createInvoice(ctx context.Context, gw Gateway, ord order.Order) (PayResult, error) {
	amount, currency, err := s.chargeAmount(ctx, gw, ord)
	if err != nil {
		return PayResult{}, err
	}
	amount, currency = money.Normalize(amount, currency)

	req := coinsnap.InvoiceRequest{
		Currency:     currency,
		Amount:       amount,
		OrderNumber:  ord.Number,
		BuyerEmail:   ord.Billing.Email,
		BuyerName:    ord.Billing.Name,
		RedirectURL:  s.orderCompleteLink(ord),
		ReferralCode: s.Cfg.ReferralCode,
		Metadata:     s.invoiceMetadata(ord),
		Checkout: coinsnap.CheckoutOptions{
			RedirectURL:    s.orderCompleteLink(ord),
			PaymentMethods: gw.PaymentMethods,
		},
	}

	inv, err := s.API.CreateInvoice(ctx, s.Cfg.CoinsnapStoreID, req)
	if err != nil {
		s.Logger.Error().Err(err).
			Str("order_id", ord.ID.String()).
			Str("gateway_id", gw.ID).
			Msg("invoice creation failed")
		return PayResult{}, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}

	if err := s.Store.SetMeta(ctx, ord.ID, order.MetaInvoiceID, inv.ID); err != nil {
		return PayResult{}, err
	}
	if err := s.Store.SetMeta(ctx, ord.ID, order.MetaInvoiceRedirect, inv.CheckoutLink); err != nil {
		return PayResult{}, err
	}
	s.Logger.Debug().
		Str("order_id", ord.ID.String()).
		Str("invoice_id", inv.ID).
		Msg("invoice creation successful, redirecting user")
	return PayResult{InvoiceID: inv.ID, RedirectURL: inv.CheckoutLink}, nil
}

// chargeAmount decides what the invoice charges. Payment gateways charge the
// order total in the order currency; promotion gateways charge one token of
// the primary payment method per item.
func (s *Service) chargeAmount(ctx context.Context, gw Gateway, ord order.Order) (decimal.Decimal, string, error) {
	if gw.TokenType != TokenTypePromotion {
		return ord.Total, ord.Currency, nil
	}
	if gw.PrimaryPaymentMethod == "" {
		return decimal.Decimal{}, "", ErrPromotionMisconfigured
	}
	qty, err := s.Store.TotalItemsQuantity(ctx, ord.ID)
	if err != nil {
		return decimal.Decimal{}, "", err
	}
	if qty <= 0 {
		return decimal.Decimal{}, "", ErrPromotionMisconfigured
	}
	return decimal.NewFromInt(int64(qty)), gw.PrimaryPaymentMethod, nil
}

// invoiceMetadata builds the invoice metadata. Buyer identity always travels
// with the invoice; the full billing address only when the merchant opted in.
func (s *Service) invoiceMetadata(ord order.Order) map[string]any {
	md := map[string]any{
		"buyerEmail": ord.Billing.Email,
		"buyerName":  ord.Billing.Name,
	}
	if s.Cfg.SendCustomerData {
		md["buyerAddress1"] = ord.Billing.Address1
		md["buyerAddress2"] = ord.Billing.Address2
		md["buyerCity"] = ord.Billing.City
		md["buyerState"] = ord.Billing.State
		md["buyerZip"] = ord.Billing.Postcode
		md["buyerCountry"] = ord.Billing.Country
	}
	pos, err := json.Marshal(map[string]any{
		"Shop": map[string]string{
			"OrderID":       ord.ID.String(),
			"OrderNumber":   ord.Number,
			"OrderURL":      s.orderCompleteLink(ord),
			"BridgeVersion": s.Version,
		},
	})
	if err == nil {
		md["posData"] = string(pos)
	}
	return md
}

func (s *Service) orderCompleteLink(ord order.Order) string {
	return fmt.Sprintf("%s/order/%s/complete", s.Cfg.PublicBaseURL, ord.ID)
}

// countMetric increments a domain counter when metrics registration ran.
func countMetric(vec *prometheus.CounterVec, labels ...string) {
	if vec != nil {
		vec.WithLabelValues(labels...).Inc()
	}
}
