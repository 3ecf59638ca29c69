package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDurationMillis(t *testing.T) {
	require.Equal(t, 1500.0, DurationMillis(1500*time.Millisecond))
	require.Equal(t, 0.25, DurationMillis(250*time.Microsecond))
}

func TestRequestLoggerRecordsDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var entry struct {
		Method     string  `json:"method"`
		Status     int     `json:"status"`
		DurationMS float64 `json:"duration_ms"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, http.MethodGet, entry.Method)
	require.Equal(t, http.StatusNoContent, entry.Status)
	require.Greater(t, entry.DurationMS, 0.0)
}
