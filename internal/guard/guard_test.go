package guard

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

func newTestGuard(wait time.Duration, lockers ...domain.LockManager) *Guard {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Wait: wait, RetryEvery: time.Millisecond}, logger, lockers...)
}

func TestDo_ReentrantSameKey(t *testing.T) {
	g := newTestGuard(time.Second, NewLocal())
	ctx := context.Background()

	var inner error
	err := g.Do(ctx, "listing:x", func(ctx context.Context) error {
		assert.True(t, Holds(ctx, "listing:x"))
		inner = g.Do(ctx, "listing:x", func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, inner, domain.ErrReentrantCall)
	require.ErrorIs(t, inner, domain.ErrState)
}

func TestDo_NestedDifferentKeys(t *testing.T) {
	g := newTestGuard(time.Second, NewLocal())
	ran := false
	err := g.Do(context.Background(), "auction:a", func(ctx context.Context) error {
		return g.Do(ctx, "listing:a", func(ctx context.Context) error {
			ran = Holds(ctx, "auction:a") && Holds(ctx, "listing:a")
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDo_SerialisesSameKey(t *testing.T) {
	g := newTestGuard(5*time.Second, NewLocal())
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), "pool:a-b", func(context.Context) error {
				n := active.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestDo_WaitExceeded(t *testing.T) {
	local := NewLocal()
	g := newTestGuard(20*time.Millisecond, local)

	unlock, err := local.Acquire(context.Background(), "listing:y", 0)
	require.NoError(t, err)
	defer unlock()

	err = g.Do(context.Background(), "listing:y", func(context.Context) error { return nil })
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

// failFast mimics a shared backend that refuses instead of blocking.
type failFast struct {
	mu    sync.Mutex
	busy  int
	calls int
}

func (f *failFast) Acquire(context.Context, string, time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.busy > 0 {
		f.busy--
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestDo_RetriesFailFastLocker(t *testing.T) {
	ff := &failFast{busy: 3}
	g := newTestGuard(time.Second, NewLocal(), ff)

	require.NoError(t, g.Do(context.Background(), "k", func(context.Context) error { return nil }))
	assert.Equal(t, 4, ff.calls)
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	unlock()
	unlock()

	unlock2, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	unlock2()
	assert.Empty(t, l.slots)
}
