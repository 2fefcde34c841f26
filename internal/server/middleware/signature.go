package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradevenue/internal/crypto"
	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Headers carrying a signed caller identity.
const (
	HeaderCaller    = "X-Venue-Caller"
	HeaderSignature = "X-Venue-Signature"
	HeaderTimestamp = "X-Venue-Timestamp"
	HeaderNonce     = "X-Venue-Nonce"
)

// SignatureConfig configures the Signature middleware.
type SignatureConfig struct {
	Verifier *crypto.Verifier
	// Nonces rejects replays. Keys are held for twice MaxSkew.
	Nonces  domain.NonceStore
	MaxSkew time.Duration
	Now     func() time.Time
}

// Signature returns middleware that requires every request naming a caller
// to carry an EIP-712 signature by that caller over the method, path,
// timestamp and nonce. Requests without a caller pass through; handlers that
// need one reject them. Nonce store errors fail closed.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderCaller)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(raw) {
				writeUnauthorized(w, "invalid caller address")
				return
			}
			sig := r.Header.Get(HeaderSignature)
			ts, tsErr := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			nonce, nonceErr := strconv.ParseUint(r.Header.Get(HeaderNonce), 10, 64)
			if sig == "" || tsErr != nil || nonceErr != nil {
				writeUnauthorized(w, "missing request signature")
				return
			}

			skew := cfg.Now().Sub(time.Unix(ts, 0))
			if skew < 0 {
				skew = -skew
			}
			if skew > cfg.MaxSkew {
				writeUnauthorized(w, "stale request signature")
				return
			}

			caller := common.HexToAddress(raw)
			err := cfg.Verifier.Verify(crypto.RequestAuth{
				Caller:    caller,
				Method:    r.Method,
				Path:      r.URL.Path,
				Timestamp: ts,
				Nonce:     nonce,
			}, sig)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}

			fresh, err := cfg.Nonces.Claim(r.Context(), caller.Hex()+":"+strconv.FormatUint(nonce, 10), 2*cfg.MaxSkew)
			if err != nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"nonce store unavailable"}`))
				return
			}
			if !fresh {
				writeUnauthorized(w, "nonce already used")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LocalNonces is an in-process domain.NonceStore for a single daemon.
type LocalNonces struct {
	mu     sync.Mutex
	now    func() time.Time
	expiry map[string]time.Time
}

// NewLocalNonces returns an empty LocalNonces.
func NewLocalNonces(now func() time.Time) *LocalNonces {
	if now == nil {
		now = time.Now
	}
	return &LocalNonces{now: now, expiry: make(map[string]time.Time)}
}

// Claim marks key as used for ttl. Expired keys are pruned on each call.
func (n *LocalNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	for k, exp := range n.expiry {
		if !now.Before(exp) {
			delete(n.expiry, k)
		}
	}
	if _, used := n.expiry[key]; used {
		return false, nil
	}
	n.expiry[key] = now.Add(ttl)
	return true, nil
}

var _ domain.NonceStore = (*LocalNonces)(nil)
