package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/coinsnap-bridge/internal/coinsnap"
	"github.com/noah-isme/coinsnap-bridge/internal/money"
	"github.com/noah-isme/coinsnap-bridge/internal/obs"
	"github.com/noah-isme/coinsnap-bridge/internal/order"
)

// Refund preconditions, checked in order. Each failure mode is distinguishable
// so callers can tell the merchant exactly what to fix.
var (
	ErrUnsupportedServer      = errors.New("gateway: server version does not support refunds")
	ErrInsufficientPermission = errors.New("gateway: api key lacks pull-payment permission")
	ErrMissingAmount          = errors.New("gateway: refund amount is empty")
	ErrNoInvoiceReference     = errors.New("gateway: no invoice id found on order")
	ErrAmountExceedsOrder     = errors.New("gateway: refund amount exceeds remaining order amount")
	ErrPayoutCreationFailed   = errors.New("gateway: error creating pull payment, check api key permissions")
)

// PayoutError wraps transport failures while talking to the payout endpoints.
// Distinct from the precondition errors above: the request may or may not
// have reached the server.
type PayoutError struct {
	Err error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("gateway: pull payment request failed: %v", e.Err)
}

func (e *PayoutError) Unwrap() error { return e.Err }

// lnurlPayMethod cannot receive payouts and is stripped from the restricted
// payment-method set before creating the pull payment.
const lnurlPayMethod = "BTC_LNURLPAY"

// RefundResult describes a created pull payment the shopper can claim.
type RefundResult struct {
	PullPaymentID string `json:"pullPaymentId"`
	ViewLink      string `json:"viewLink"`
}

// Refund creates a claimable pull payment covering amount and records it
// against the order. Partial refunds are allowed as long as the total of all
// recorded refunds stays within the order total.
func (s *Service) Refund(ctx context.Context, gatewayID string, orderID uuid.UUID, amount *decimal.Decimal, reason string) (RefundResult, error) {
	if !s.Cfg.Configured() {
		return RefundResult{}, ErrNotConfigured
	}
	gw := s.Gateways.Default()
	if gatewayID != "" {
		var ok bool
		if gw, ok = s.Gateways.Get(gatewayID); !ok {
			return RefundResult{}, ErrUnknownGateway
		}
	}

	info, err := s.API.GetServerInfo(ctx)
	if err != nil {
		return RefundResult{}, &PayoutError{Err: err}
	}
	if !info.SupportsRefunds() {
		return RefundResult{}, ErrUnsupportedServer
	}

	key, err := s.API.GetAPIKeyInfo(ctx)
	if err != nil {
		return RefundResult{}, &PayoutError{Err: err}
	}
	if !key.HasPermission(coinsnap.PermCreatePullPayments) {
		return RefundResult{}, ErrInsufficientPermission
	}

	if amount == nil {
		return RefundResult{}, ErrMissingAmount
	}

	ord, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return RefundResult{}, err
	}
	invoiceID, err := s.Store.GetMeta(ctx, orderID, order.MetaInvoiceID)
	if err != nil {
		return RefundResult{}, err
	}
	if invoiceID == "" {
		return RefundResult{}, ErrNoInvoiceReference
	}

	remaining, err := s.Store.RemainingRefundable(ctx, orderID)
	if err != nil {
		return RefundResult{}, err
	}
	if amount.GreaterThan(remaining) {
		return RefundResult{}, ErrAmountExceedsOrder
	}

	payoutAmount, payoutCurrency := money.Normalize(*amount, ord.Currency)

	methods := make([]string, 0, len(gw.PaymentMethods))
	for _, m := range gw.PaymentMethods {
		if m == lnurlPayMethod {
			continue
		}
		methods = append(methods, m)
	}

	pp, err := s.API.CreatePullPayment(ctx, s.Cfg.CoinsnapStoreID, coinsnap.PullPaymentRequest{
		Description:    fmt.Sprintf("Refund for order no.: %s reason: %s", ord.Number, reason),
		Amount:         payoutAmount,
		Currency:       payoutCurrency,
		PaymentMethods: methods,
	})
	if err != nil {
		countMetric(obs.RefundTotal, "error")
		return RefundResult{}, &PayoutError{Err: err}
	}
	if pp.ID == "" {
		countMetric(obs.RefundTotal, "error")
		return RefundResult{}, ErrPayoutCreationFailed
	}

	note := fmt.Sprintf("Successfully created refund: PullPayment ID: %s\nLink: %s\nAmount: %s %s\nReason: %s",
		pp.ID, pp.ViewLink, amount.String(), payoutCurrency, reason)
	if err := s.Store.AddNote(ctx, orderID, note); err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("could not record refund note")
	}
	if err := s.Store.AddRefund(ctx, order.Refund{
		OrderID:       orderID,
		PullPaymentID: pp.ID,
		ViewLink:      pp.ViewLink,
		Amount:        *amount,
		Currency:      payoutCurrency,
		Reason:        reason,
	}); err != nil {
		return RefundResult{}, err
	}

	countMetric(obs.RefundTotal, "success")
	s.Logger.Info().
		Str("order_id", orderID.String()).
		Str("pull_payment_id", pp.ID).
		Msg("refund pull payment created")
	return RefundResult{PullPaymentID: pp.ID, ViewLink: pp.ViewLink}, nil
}
