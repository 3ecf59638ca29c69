package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coinsnap-bridge/internal/common"
	"github.com/noah-isme/coinsnap-bridge/internal/obs"
	"github.com/noah-isme/coinsnap-bridge/internal/order"
)

// Webhook event types sent by the Coinsnap server.
const (
	EventInvoiceNew        = "New"
	EventInvoiceProcessing = "Processing"
	EventInvoiceSettled    = "Settled"
	EventInvoiceExpired    = "Expired"
	EventInvoiceInvalid    = "Invalid"
)

// sigHeader carries the hex HMAC-SHA256 of the raw request body. Header
// lookup is case-insensitive per net/http canonicalisation.
const sigHeader = "X-Coinsnap-Sig"

const maxWebhookBody = 1 << 20

// Event is the webhook payload. Flags refine the base type: afterExpiration
// and partiallyPaid signal late or short payments, overPaid an excess one.
type Event struct {
	Type            string `json:"type"`
	InvoiceID       string `json:"invoiceId"`
	AfterExpiration bool   `json:"afterExpiration"`
	OverPaid        bool   `json:"overPaid"`
	PartiallyPaid   bool   `json:"partiallyPaid"`
	ManuallyMarked  bool   `json:"manuallyMarked"`
}

// Webhook receives Coinsnap invoice events, verifies their signature,
// suppresses replays and reconciles order state.
type Webhook struct {
	Store     order.Store
	States    StateMapping
	Secret    string
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// ValidSignature reports whether sig is the hex HMAC-SHA256 of body under
// secret. Comparison is constant time.
func ValidSignature(body []byte, sig, secret string) bool {
	if sig == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Handle is the webhook HTTP endpoint. Unverifiable payloads are rejected
// with 401; payloads that verify but cannot be acted on (unknown event,
// no matching order, malformed body) are acknowledged with 200 so the
// sender stops retrying. Only ambiguity and store failures return errors,
// and those release the replay mark so the redelivery is processed.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "could not read request body", nil)
		return
	}

	if !ValidSignature(body, r.Header.Get(sigHeader), h.Secret) {
		h.Logger.Warn().Msg("webhook signature verification failed")
		countMetric(obs.WebhookEventTotal, "unknown", "bad_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	if seen, err := h.alreadySeen(r.Context(), body); err != nil {
		h.Logger.Error().Err(err).Msg("webhook replay check failed")
	} else if seen {
		h.Logger.Debug().Msg("webhook replay suppressed")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		h.Logger.Warn().Err(err).Msg("webhook body did not parse, acknowledging")
		countMetric(obs.WebhookEventTotal, "unknown", "malformed")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if !knownEvent(evt.Type) {
		h.Logger.Debug().Str("event", evt.Type).Msg("webhook event received but ignored")
		countMetric(obs.WebhookEventTotal, evt.Type, "ignored")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if evt.InvoiceID == "" {
		h.Logger.Warn().Str("event", evt.Type).Msg("webhook event missing invoice id")
		countMetric(obs.WebhookEventTotal, evt.Type, "ignored")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	orders, err := h.Store.FindByMeta(r.Context(), order.MetaInvoiceID, evt.InvoiceID)
	if err != nil {
		h.releaseReplay(r.Context(), body)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not resolve order", nil)
		return
	}
	switch {
	case len(orders) == 0:
		h.Logger.Info().Str("invoice_id", evt.InvoiceID).Msg("no order found for webhook invoice")
		countMetric(obs.WebhookEventTotal, evt.Type, "no_order")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case len(orders) > 1:
		h.Logger.Error().Str("invoice_id", evt.InvoiceID).Int("orders", len(orders)).
			Msg("multiple orders reference the same invoice")
		countMetric(obs.WebhookEventTotal, evt.Type, "ambiguous")
		h.releaseReplay(r.Context(), body)
		common.JSONError(w, http.StatusConflict, "AMBIGUOUS_INVOICE", "invoice references multiple orders", nil)
		return
	}

	if err := h.applyEvent(r.Context(), orders[0], evt); err != nil {
		h.Logger.Error().Err(err).
			Str("invoice_id", evt.InvoiceID).
			Str("order_id", orders[0].ID.String()).
			Msg("could not apply webhook event")
		countMetric(obs.WebhookEventTotal, evt.Type, "error")
		h.releaseReplay(r.Context(), body)
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not process event", nil)
		return
	}
	countMetric(obs.WebhookEventTotal, evt.Type, "success")
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func replayKey(body []byte) string {
	return "cswh:" + common.Sha256Hex(string(body))
}

// alreadySeen marks the payload digest in Redis and reports whether it was
// marked before. A nil client disables suppression.
func (h *Webhook) alreadySeen(ctx context.Context, body []byte) (bool, error) {
	if h.Replay == nil {
		return false, nil
	}
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	fresh, err := h.Replay.SetNX(ctx, replayKey(body), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

// releaseReplay drops the replay mark after a failed attempt. The sender
// redelivers on non-2xx responses and that retry must not be suppressed.
func (h *Webhook) releaseReplay(ctx context.Context, body []byte) {
	if h.Replay == nil {
		return
	}
	if err := h.Replay.Del(ctx, replayKey(body)).Err(); err != nil {
		h.Logger.Error().Err(err).Msg("webhook replay release failed")
	}
}

// applyEvent routes a verified event to order-side effects. Every event
// leaves a note; status updates go through the configured state mapping and
// Settled additionally records payment completion.
func (h *Webhook) applyEvent(ctx context.Context, ord order.Order, evt Event) error {
	h.Logger.Debug().
		Str("event", evt.Type).
		Str("order_id", ord.ID.String()).
		Msg("updating order status for webhook event")

	switch evt.Type {
	case EventInvoiceNew:
		if evt.AfterExpiration {
			if err := h.updateStatus(ctx, ord, KeyExpiredPaidPartial); err != nil {
				return err
			}
			return h.Store.AddNote(ctx, ord.ID, "Invoice (partial) payment incoming (unconfirmed) after invoice was already expired.")
		}
		return h.Store.AddNote(ctx, ord.ID, "Invoice (partial) payment incoming (unconfirmed). Waiting for settlement.")

	case EventInvoiceSettled:
		if err := h.Store.MarkPaid(ctx, ord.ID); err != nil {
			return err
		}
		if evt.OverPaid {
			if err := h.Store.AddNote(ctx, ord.ID, "Invoice payment settled but was overpaid."); err != nil {
				return err
			}
			return h.updateStatus(ctx, ord, KeySettledPaidOver)
		}
		if err := h.Store.AddNote(ctx, ord.ID, "Invoice payment settled."); err != nil {
			return err
		}
		return h.updateStatus(ctx, ord, KeySettled)

	case EventInvoiceProcessing:
		if err := h.updateStatus(ctx, ord, KeyProcessing); err != nil {
			return err
		}
		if evt.OverPaid {
			return h.Store.AddNote(ctx, ord.ID, "Invoice payment received fully with overpayment, waiting for settlement.")
		}
		return h.Store.AddNote(ctx, ord.ID, "Invoice payment received fully, waiting for settlement.")

	case EventInvoiceExpired:
		if evt.PartiallyPaid {
			if err := h.updateStatus(ctx, ord, KeyExpiredPaidPartial); err != nil {
				return err
			}
			return h.Store.AddNote(ctx, ord.ID, "Invoice expired but was paid partially, please check.")
		}
		if err := h.updateStatus(ctx, ord, KeyExpired); err != nil {
			return err
		}
		return h.Store.AddNote(ctx, ord.ID, "Invoice expired.")

	case EventInvoiceInvalid:
		if err := h.updateStatus(ctx, ord, KeyInvalid); err != nil {
			return err
		}
		if evt.ManuallyMarked {
			return h.Store.AddNote(ctx, ord.ID, "Invoice manually marked invalid.")
		}
		return h.Store.AddNote(ctx, ord.ID, "Invoice became invalid.")
	}
	return nil
}

func (h *Webhook) updateStatus(ctx context.Context, ord order.Order, key string) error {
	target := h.States.Resolve(key)
	if target == StatusIgnore {
		return nil
	}
	return h.Store.UpdateStatus(ctx, ord.ID, order.Status(target))
}

func knownEvent(t string) bool {
	switch t {
	case EventInvoiceNew, EventInvoiceProcessing, EventInvoiceSettled, EventInvoiceExpired, EventInvoiceInvalid:
		return true
	}
	return false
}
