package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/crypto"
)

const chainID = 31337

type failingNonces struct{}

func (failingNonces) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func signedRequest(t *testing.T, s *crypto.Signer, method, path string, ts int64, nonce uint64) *http.Request {
	t.Helper()
	sig, err := s.SignRequest(method, path, ts, nonce)
	require.NoError(t, err)
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set(HeaderCaller, s.Address().Hex())
	r.Header.Set(HeaderSignature, sig)
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderNonce, strconv.FormatUint(nonce, 10))
	return r
}

func TestSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signer, err := crypto.GenerateSigner(chainID)
	require.NoError(t, err)
	clock := func() time.Time { return now }
	h := Signature(SignatureConfig{
		Verifier: crypto.NewVerifier(chainID),
		Nonces:   NewLocalNonces(clock),
		MaxSkew:  30 * time.Second,
		Now:      clock,
	})(ok)

	assert.Equal(t, http.StatusTeapot, serve(h, httptest.NewRequest(http.MethodGet, "/api/pool", nil)).Code, "anonymous")

	r := signedRequest(t, signer, http.MethodPost, "/api/purchases", now.Unix(), 1)
	assert.Equal(t, http.StatusTeapot, serve(h, r).Code)

	r = signedRequest(t, signer, http.MethodPost, "/api/purchases", now.Unix(), 1)
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code, "replay")

	r = signedRequest(t, signer, http.MethodPost, "/api/purchases", now.Add(-time.Minute).Unix(), 2)
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code, "stale")

	r = signedRequest(t, signer, http.MethodPost, "/api/purchases", now.Unix(), 3)
	r.URL.Path = "/api/bids"
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code, "other path")

	r = signedRequest(t, signer, http.MethodPost, "/api/purchases", now.Unix(), 4)
	r.Header.Set(HeaderCaller, "0x00000000000000000000000000000000000000b1")
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code, "impersonation")

	r = httptest.NewRequest(http.MethodPost, "/api/purchases", nil)
	r.Header.Set(HeaderCaller, signer.Address().Hex())
	assert.Equal(t, http.StatusUnauthorized, serve(h, r).Code, "unsigned")
}

func TestSignature_NonceStoreFailureFailsClosed(t *testing.T) {
	signer, err := crypto.GenerateSigner(chainID)
	require.NoError(t, err)
	h := Signature(SignatureConfig{
		Verifier: crypto.NewVerifier(chainID),
		Nonces:   failingNonces{},
		MaxSkew:  time.Minute,
	})(ok)

	r := signedRequest(t, signer, http.MethodGet, "/api/pool", time.Now().Unix(), 1)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, r).Code)
}

func TestLocalNonces_Expire(t *testing.T) {
	now := time.Unix(0, 0)
	n := NewLocalNonces(func() time.Time { return now })
	ctx := context.Background()

	fresh, _ := n.Claim(ctx, "k", time.Minute)
	assert.True(t, fresh)
	fresh, _ = n.Claim(ctx, "k", time.Minute)
	assert.False(t, fresh)

	now = now.Add(time.Minute)
	fresh, _ = n.Claim(ctx, "k", time.Minute)
	assert.True(t, fresh)
}
