package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coinsnap-bridge/internal/order"
)

const testWebhookSecret = "whsec_test"

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestWebhook(t *testing.T, store *stubStore) *Webhook {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Webhook{
		Store:     store,
		States:    DefaultStateMapping(),
		Secret:    testWebhookSecret,
		Replay:    rdb,
		ReplayTTL: time.Hour,
		Logger:    zerolog.Nop(),
	}
}

func deliver(t *testing.T, wh *Webhook, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/coinsnap", bytes.NewReader(body))
	req.Header.Set("X-Coinsnap-Sig", signBody(body, testWebhookSecret))
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	wh.Handle(rec, req)
	return rec
}

func invoicedOrder(t *testing.T, store *stubStore, invoiceID string) order.Order {
	t.Helper()
	ord := testOrder("25.00", "EUR")
	store.add(ord)
	require.NoError(t, store.SetMeta(context.Background(), ord.ID, order.MetaInvoiceID, invoiceID))
	return ord
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := newStubStore()
	invoicedOrder(t, store, "inv_123")
	wh := newTestWebhook(t, store)
	body := []byte(`{"type":"Settled","invoiceId":"inv_123"}`)

	t.Run("missing header", func(t *testing.T) {
		rec := deliver(t, wh, body, func(r *http.Request) { r.Header.Del("X-Coinsnap-Sig") })
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("wrong secret", func(t *testing.T) {
		rec := deliver(t, wh, body, func(r *http.Request) {
			r.Header.Set("X-Coinsnap-Sig", signBody(body, "other_secret"))
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("tampered body", func(t *testing.T) {
		tampered := []byte(`{"type":"Settled","invoiceId":"inv_999"}`)
		rec := deliver(t, wh, tampered, func(r *http.Request) {
			r.Header.Set("X-Coinsnap-Sig", signBody(body, testWebhookSecret))
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	require.Zero(t, store.paidCalls)
}

func TestWebhookSignatureHeaderIsCaseInsensitive(t *testing.T) {
	for _, name := range []string{"x-coinsnap-sig", "X-COINSNAP-SIG", "X-Coinsnap-Sig"} {
		t.Run(name, func(t *testing.T) {
			store := newStubStore()
			invoicedOrder(t, store, "inv_123")
			wh := newTestWebhook(t, store)
			body := []byte(`{"type":"Settled","invoiceId":"inv_123"}`)

			rec := deliver(t, wh, body, func(r *http.Request) {
				r.Header.Del("X-Coinsnap-Sig")
				r.Header.Set(name, signBody(body, testWebhookSecret))
			})
			require.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestWebhookSettledMarksOrderPaid(t *testing.T) {
	store := newStubStore()
	ord := invoicedOrder(t, store, "inv_123")
	wh := newTestWebhook(t, store)

	rec := deliver(t, wh, []byte(`{"type":"Settled","invoiceId":"inv_123"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := store.orders[ord.ID]
	require.NotNil(t, got.PaidAt)
	// Settled routes to IGNORE by default, payment completion owns the status
	require.Equal(t, order.StatusCompleted, got.Status)
	require.Equal(t, []string{"Invoice payment settled."}, store.notes[ord.ID])
}

func TestWebhookReplayIsSuppressed(t *testing.T) {
	store := newStubStore()
	ord := invoicedOrder(t, store, "inv_123")
	wh := newTestWebhook(t, store)
	body := []byte(`{"type":"Settled","invoiceId":"inv_123"}`)

	first := deliver(t, wh, body, nil)
	require.Equal(t, http.StatusOK, first.Code)
	second := deliver(t, wh, body, nil)
	require.Equal(t, http.StatusOK, second.Code)

	require.Equal(t, 1, store.paidCalls)
	require.Len(t, store.notes[ord.ID], 1)
}

func TestWebhookReplayGuardReleasedOnStoreFailure(t *testing.T) {
	store := newStubStore()
	ord := invoicedOrder(t, store, "inv_123")
	store.failPaid = 1
	wh := newTestWebhook(t, store)
	body := []byte(`{"type":"Settled","invoiceId":"inv_123"}`)

	first := deliver(t, wh, body, nil)
	require.Equal(t, http.StatusInternalServerError, first.Code)
	require.Nil(t, store.orders[ord.ID].PaidAt)

	retry := deliver(t, wh, body, nil)
	require.Equal(t, http.StatusOK, retry.Code)
	require.Equal(t, 1, store.paidCalls)
	require.NotNil(t, store.orders[ord.ID].PaidAt)
}

func TestWebhookAmbiguousInvoiceRetryIsNotSuppressed(t *testing.T) {
	store := newStubStore()
	invoicedOrder(t, store, "inv_dup")
	invoicedOrder(t, store, "inv_dup")
	wh := newTestWebhook(t, store)
	body := []byte(`{"type":"Settled","invoiceId":"inv_dup"}`)

	first := deliver(t, wh, body, nil)
	require.Equal(t, http.StatusConflict, first.Code)
	retry := deliver(t, wh, body, nil)
	require.Equal(t, http.StatusConflict, retry.Code)
}

func TestWebhookSettledIsIdempotentWithoutReplayGuard(t *testing.T) {
	store := newStubStore()
	ord := invoicedOrder(t, store, "inv_123")
	wh := newTestWebhook(t, store)
	wh.Replay = nil
	body := []byte(`{"type":"Settled","invoiceId":"inv_123"}`)

	for i := 0; i < 3; i++ {
		rec := deliver(t, wh, body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Equal(t, 1, store.paidCalls)
	got := store.orders[ord.ID]
	require.NotNil(t, got.PaidAt)
	require.Equal(t, order.StatusCompleted, got.Status)
}

func TestWebhookEventRouting(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus order.Status
		wantPaid   bool
		wantNote   string
	}{
		{
			name:       "new",
			body:       `{"type":"New","invoiceId":"%s"}`,
			wantStatus: order.StatusPending,
			wantNote:   "Invoice (partial) payment incoming (unconfirmed). Waiting for settlement.",
		},
		{
			name:       "new after expiration",
			body:       `{"type":"New","invoiceId":"%s","afterExpiration":true}`,
			wantStatus: order.StatusFailed,
			wantNote:   "Invoice (partial) payment incoming (unconfirmed) after invoice was already expired.",
		},
		{
			name:       "processing",
			body:       `{"type":"Processing","invoiceId":"%s"}`,
			wantStatus: order.StatusOnHold,
			wantNote:   "Invoice payment received fully, waiting for settlement.",
		},
		{
			name:       "processing overpaid",
			body:       `{"type":"Processing","invoiceId":"%s","overPaid":true}`,
			wantStatus: order.StatusOnHold,
			wantNote:   "Invoice payment received fully with overpayment, waiting for settlement.",
		},
		{
			name:       "settled",
			body:       `{"type":"Settled","invoiceId":"%s"}`,
			wantStatus: order.StatusCompleted,
			wantPaid:   true,
			wantNote:   "Invoice payment settled.",
		},
		{
			name:       "settled overpaid",
			body:       `{"type":"Settled","invoiceId":"%s","overPaid":true}`,
			wantStatus: order.StatusProcessing,
			wantPaid:   true,
			wantNote:   "Invoice payment settled but was overpaid.",
		},
		{
			name:       "expired",
			body:       `{"type":"Expired","invoiceId":"%s"}`,
			wantStatus: order.StatusCancelled,
			wantNote:   "Invoice expired.",
		},
		{
			name:       "expired partially paid",
			body:       `{"type":"Expired","invoiceId":"%s","partiallyPaid":true}`,
			wantStatus: order.StatusFailed,
			wantNote:   "Invoice expired but was paid partially, please check.",
		},
		{
			name:       "invalid",
			body:       `{"type":"Invalid","invoiceId":"%s"}`,
			wantStatus: order.StatusFailed,
			wantNote:   "Invoice became invalid.",
		},
		{
			name:       "invalid manually marked",
			body:       `{"type":"Invalid","invoiceId":"%s","manuallyMarked":true}`,
			wantStatus: order.StatusFailed,
			wantNote:   "Invoice manually marked invalid.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStubStore()
			ord := invoicedOrder(t, store, "inv_evt")
			wh := newTestWebhook(t, store)

			rec := deliver(t, wh, []byte(fmt.Sprintf(tc.body, "inv_evt")), nil)
			require.Equal(t, http.StatusOK, rec.Code)

			got := store.orders[ord.ID]
			require.Equal(t, tc.wantStatus, got.Status)
			require.Equal(t, tc.wantPaid, got.PaidAt != nil)
			require.Equal(t, []string{tc.wantNote}, store.notes[ord.ID])
		})
	}
}

func TestWebhookConfiguredStateOverride(t *testing.T) {
	store := newStubStore()
	ord := invoicedOrder(t, store, "inv_123")
	wh := newTestWebhook(t, store)
	wh.States = LoadStateMapping(map[string]string{"Expired": string(order.StatusFailed)})

	rec := deliver(t, wh, []byte(`{"type":"Expired","invoiceId":"inv_123"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, order.StatusFailed, store.orders[ord.ID].Status)
}

func TestWebhookUnknownInvoiceIsAcknowledged(t *testing.T) {
	store := newStubStore()
	wh := newTestWebhook(t, store)

	rec := deliver(t, wh, []byte(`{"type":"Settled","invoiceId":"inv_nobody"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookAmbiguousInvoiceIsRejected(t *testing.T) {
	store := newStubStore()
	invoicedOrder(t, store, "inv_dup")
	invoicedOrder(t, store, "inv_dup")
	wh := newTestWebhook(t, store)

	rec := deliver(t, wh, []byte(`{"type":"Settled","invoiceId":"inv_dup"}`), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, store.paidCalls)
}

func TestWebhookUnknownEventIsAcknowledged(t *testing.T) {
	store := newStubStore()
	ord := invoicedOrder(t, store, "inv_123")
	wh := newTestWebhook(t, store)

	rec := deliver(t, wh, []byte(`{"type":"PayoutCreated","invoiceId":"inv_123"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, store.notes[ord.ID])
	require.Equal(t, order.StatusPending, store.orders[ord.ID].Status)
}

func TestWebhookMalformedBodyIsAcknowledged(t *testing.T) {
	store := newStubStore()
	wh := newTestWebhook(t, store)

	rec := deliver(t, wh, []byte(`{"type":`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookMissingInvoiceIDIsAcknowledged(t *testing.T) {
	store := newStubStore()
	wh := newTestWebhook(t, store)

	rec := deliver(t, wh, []byte(`{"type":"Settled"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, store.paidCalls)
}
