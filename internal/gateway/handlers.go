package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/coinsnap-bridge/internal/common"
	"github.com/noah-isme/coinsnap-bridge/internal/order"
)

// Handler exposes the checkout and refund endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

type payRequest struct {
	OrderID string `json:"orderId"`
}

type refundRequest struct {
	Gateway string `json:"gateway"`
	Amount  string `json:"amount"`
	Reason  string `json:"reason"`
}

// Routes mounts the gateway endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout/{gateway}/pay", h.Pay)
	r.Post("/orders/{orderID}/refund", h.Refund)
}

// Pay starts payment for an order via the named gateway and returns the
// invoice redirect. Upstream failure details stay in the logs: shoppers get
// a generic retry message.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "orderId must be a UUID", nil)
		return
	}

	res, err := h.Svc.Pay(r.Context(), chi.URLParam(r, "gateway"), orderID)
	if err != nil {
		h.writePayError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, res)
}

func (h *Handler) writePayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotConfigured):
		common.JSONAppError(w, common.NewAppError("NOT_CONFIGURED", "payment gateway is not configured", http.StatusServiceUnavailable, err))
	case errors.Is(err, ErrUnknownGateway):
		common.JSONAppError(w, common.NewAppError("UNKNOWN_GATEWAY", "unknown payment gateway", http.StatusNotFound, err))
	case errors.Is(err, order.ErrNotFound):
		common.JSONAppError(w, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err))
	case errors.Is(err, ErrPromotionMisconfigured):
		common.JSONAppError(w, common.NewAppError("PROMOTION_MISCONFIGURED", "promotion gateway is misconfigured", http.StatusUnprocessableEntity, err))
	default:
		h.Logger.Error().Err(err).Msg("payment could not be started")
		common.JSONAppError(w, common.NewAppError("PAYMENT_UNAVAILABLE", "cannot start payment, please try again later", http.StatusBadGateway, nil))
	}
}

// Refund issues a pull-payment refund against an order.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "order id must be a UUID", nil)
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}
	var amount *decimal.Decimal
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal string", nil)
			return
		}
		amount = &parsed
	}

	res, err := h.Svc.Refund(r.Context(), req.Gateway, orderID, amount, req.Reason)
	if err != nil {
		h.writeRefundError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, res)
}

func (h *Handler) writeRefundError(w http.ResponseWriter, err error) {
	var payoutErr *PayoutError
	switch {
	case errors.Is(err, ErrNotConfigured):
		common.JSONAppError(w, common.NewAppError("NOT_CONFIGURED", "payment gateway is not configured", http.StatusServiceUnavailable, err))
	case errors.Is(err, ErrUnknownGateway):
		common.JSONAppError(w, common.NewAppError("UNKNOWN_GATEWAY", "unknown payment gateway", http.StatusNotFound, err))
	case errors.Is(err, order.ErrNotFound):
		common.JSONAppError(w, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err))
	case errors.Is(err, ErrUnsupportedServer):
		common.JSONAppError(w, common.NewAppError("UNSUPPORTED_SERVER", "server version does not support refunds", http.StatusNotImplemented, err))
	case errors.Is(err, ErrInsufficientPermission):
		common.JSONAppError(w, common.NewAppError("INSUFFICIENT_PERMISSION", "api key lacks pull-payment permission", http.StatusForbidden, err))
	case errors.Is(err, ErrMissingAmount):
		common.JSONAppError(w, common.NewAppError("MISSING_AMOUNT", "refund amount is required", http.StatusBadRequest, err))
	case errors.Is(err, ErrNoInvoiceReference):
		common.JSONAppError(w, common.NewAppError("NO_INVOICE", "order has no invoice to refund against", http.StatusConflict, err))
	case errors.Is(err, ErrAmountExceedsOrder):
		common.JSONAppError(w, common.NewAppError("AMOUNT_EXCEEDS_ORDER", "refund amount exceeds remaining order amount", http.StatusUnprocessableEntity, err))
	case errors.Is(err, ErrPayoutCreationFailed):
		common.JSONAppError(w, common.NewAppError("PAYOUT_FAILED", "error creating pull payment, check api key permissions", http.StatusBadGateway, err))
	case errors.As(err, &payoutErr):
		h.Logger.Error().Err(err).Msg("pull payment request failed")
		common.JSONAppError(w, common.NewAppError("PAYOUT_FAILED", "refund could not be created, please try again later", http.StatusBadGateway, nil))
	default:
		h.Logger.Error().Err(err).Msg("refund failed")
		common.JSONAppError(w, common.NewAppError("INTERNAL", "refund could not be processed", http.StatusInternalServerError, nil))
	}
}
