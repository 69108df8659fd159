package statushttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/engine"
	"chorus/internal/signal"
)

func newTestServer(t *testing.T, intake *signal.Intake) *Server {
	t.Helper()
	eng := engine.New(engine.Config{Symbols: []string{"BTC/USDT"}}, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	srv, err := NewServer(ServerConfig{Engine: eng, Intake: intake})
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := do(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignalIntakeRoute(t *testing.T) {
	t.Run("valid payload is accepted and stored", func(t *testing.T) {
		intake := signal.NewIntake(time.Hour)
		srv := newTestServer(t, intake)

		rec := do(srv, http.MethodPost, "/api/signals/BTCUSDT",
			`{"producer": "quant-desk", "direction": 0.7, "confidence": 0.8}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		est, err := intake.Estimate(context.Background(), "BTC/USDT", nil)
		require.NoError(t, err)
		require.NotNil(t, est)
		assert.InDelta(t, 0.7, est.Direction, 1e-9)
	})

	t.Run("schema violations are a 400", func(t *testing.T) {
		intake := signal.NewIntake(time.Hour)
		srv := newTestServer(t, intake)

		rec := do(srv, http.MethodPost, "/api/signals/BTCUSDT", `{"direction": 1.5, "confidence": 0.8}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(srv, http.MethodPost, "/api/signals/BTCUSDT", `not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("route is absent without an intake", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := do(srv, http.MethodPost, "/api/signals/BTCUSDT", `{"direction": 0.5, "confidence": 0.5}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
