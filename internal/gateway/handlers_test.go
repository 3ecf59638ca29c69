package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coinsnap-bridge/internal/coinsnap"
	"github.com/noah-isme/coinsnap-bridge/internal/config"
)

func newTestRouter(cfg *config.Config, store *stubStore, api *stubAPI) *chi.Mux {
	h := &Handler{Svc: newTestService(cfg, store, api), Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r
}

func TestPayEndpoint(t *testing.T) {
	store := newStubStore()
	ord := testOrder("10.00", "EUR")
	store.add(ord)
	router := newTestRouter(testConfig(), store, &stubAPI{})

	body := fmt.Sprintf(`{"orderId":%q}`, ord.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/coinsnap/pay", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "inv_new")
	require.Contains(t, rec.Body.String(), "redirect")
}

func TestPayEndpointErrors(t *testing.T) {
	store := newStubStore()
	ord := testOrder("10.00", "EUR")
	store.add(ord)

	cases := []struct {
		name     string
		cfg      *config.Config
		api      *stubAPI
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{
			name:     "invalid order id",
			cfg:      testConfig(),
			api:      &stubAPI{},
			path:     "/api/v1/checkout/coinsnap/pay",
			body:     `{"orderId":"not-a-uuid"}`,
			wantCode: http.StatusBadRequest,
			wantBody: "INVALID_ORDER_ID",
		},
		{
			name:     "unknown gateway",
			cfg:      testConfig(),
			api:      &stubAPI{},
			path:     "/api/v1/checkout/paypal/pay",
			body:     fmt.Sprintf(`{"orderId":%q}`, ord.ID),
			wantCode: http.StatusNotFound,
			wantBody: "UNKNOWN_GATEWAY",
		},
		{
			name: "not configured",
			cfg: func() *config.Config {
				c := testConfig()
				c.CoinsnapAPIKey = ""
				return c
			}(),
			api:      &stubAPI{},
			path:     "/api/v1/checkout/coinsnap/pay",
			body:     fmt.Sprintf(`{"orderId":%q}`, ord.ID),
			wantCode: http.StatusServiceUnavailable,
			wantBody: "NOT_CONFIGURED",
		},
		{
			name: "upstream failure stays generic",
			cfg:  testConfig(),
			api: &stubAPI{createInvoice: func(_ string, _ coinsnap.InvoiceRequest) (coinsnap.Invoice, error) {
				return coinsnap.Invoice{}, &coinsnap.APIError{Status: http.StatusInternalServerError, Body: "secret backend detail"}
			}},
			path:     "/api/v1/checkout/coinsnap/pay",
			body:     fmt.Sprintf(`{"orderId":%q}`, ord.ID),
			wantCode: http.StatusBadGateway,
			wantBody: "PAYMENT_UNAVAILABLE",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(tc.cfg, store, tc.api)
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			require.Contains(t, rec.Body.String(), tc.wantBody)
			if tc.name == "upstream failure stays generic" {
				require.NotContains(t, rec.Body.String(), "secret backend detail")
			}
		})
	}
}

func TestRefundEndpoint(t *testing.T) {
	store := newStubStore()
	ord := refundableOrder(t, store, "50.00", "EUR")
	router := newTestRouter(testConfig(), store, refundReadyAPI())

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/orders/%s/refund", ord.ID),
		strings.NewReader(`{"amount":"20.00","reason":"damaged"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pp_1")
	require.Contains(t, rec.Body.String(), "viewLink")
}

func TestRefundEndpointMissingAmount(t *testing.T) {
	store := newStubStore()
	ord := refundableOrder(t, store, "50.00", "EUR")
	router := newTestRouter(testConfig(), store, refundReadyAPI())

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/orders/%s/refund", ord.ID),
		strings.NewReader(`{"reason":"no amount"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "MISSING_AMOUNT")
}

func TestRefundEndpointExceedsOrder(t *testing.T) {
	store := newStubStore()
	ord := refundableOrder(t, store, "50.00", "EUR")
	router := newTestRouter(testConfig(), store, refundReadyAPI())

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/orders/%s/refund", ord.ID),
		strings.NewReader(`{"amount":"50.01"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "AMOUNT_EXCEEDS_ORDER")
}
