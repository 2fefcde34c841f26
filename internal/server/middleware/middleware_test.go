package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuth_GuardsWrites(t *testing.T) {
	h := Auth("s3cret")(ok)

	assert.Equal(t, http.StatusTeapot, serve(h, httptest.NewRequest(http.MethodGet, "/api/pool", nil)).Code, "reads are public")

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/pool/swap", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing api key"}`, rec.Body.String())

	r := httptest.NewRequest(http.MethodPost, "/api/pool/swap", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code)

	r = httptest.NewRequest(http.MethodPost, "/api/pool/swap", nil)
	r.Header.Set("Authorization", "bearer s3cret")
	assert.Equal(t, http.StatusTeapot, serve(h, r).Code)

	r = httptest.NewRequest(http.MethodDelete, "/api/listings/x", nil)
	r.Header.Set("X-API-Key", "s3cret")
	assert.Equal(t, http.StatusTeapot, serve(h, r).Code)

	assert.Equal(t, http.StatusTeapot, serve(Auth("")(ok), httptest.NewRequest(http.MethodPost, "/", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://venue.example"})(ok)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://venue.example")
	rec := serve(h, r)
	assert.Equal(t, "https://venue.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderSignature)
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = serve(h, r)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, r).Code)
}

type fakeLimiter struct {
	left int
	err  error
	keys []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	if f.left == 0 {
		return false, nil
	}
	f.left--
	return true, nil
}

func TestRateLimit(t *testing.T) {
	lim := &fakeLimiter{left: 1}
	h := RateLimit(lim, 1, 5*time.Second)(ok)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
	assert.Equal(t, http.StatusTeapot, serve(h, r).Code)

	rec := serve(h, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.Len(t, lim.keys, 2)
	assert.Equal(t, "ratelimit:api:10.0.0.7", lim.keys[0])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(&fakeLimiter{err: errors.New("redis down")}, 1, time.Second)(ok)
	assert.Equal(t, http.StatusTeapot, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestLogging_LevelAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := httptest.NewRequest(http.MethodGet, "/api/pool?x=1", nil)
	r.Header.Set(HeaderCaller, "0xb1")
	serve(Logging(logger)(ok), r)
	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"path":"/api/pool"`)
	assert.Contains(t, out, `"query":"x=1"`)
	assert.Contains(t, out, `"caller":"0xb1"`)

	buf.Reset()
	body := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hello")) })
	serve(Logging(logger)(body), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, buf.String(), `"level":"INFO"`)
	assert.Contains(t, buf.String(), `"bytes":5`)
}
