package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradevenue/internal/server/handler"
)

type denyAll struct{ calls int }

func (d *denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.calls++
	return false, nil
}

func TestRoutes_AuthAndLimitsSkipProbes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := &denyAll{}
	h := Routes(Config{
		APIKey:     "k",
		Limiter:    limiter,
		RateLimit:  10,
		RateWindow: time.Second,
	}, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	}, nil, logger)

	for _, path := range []string{"/api/health", "/api/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Zero(t, limiter.calls)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pool", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, limiter.calls)
}

func TestRoutes_UnregisteredEngine404(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Routes(Config{}, Handlers{}, nil, logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pool", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
