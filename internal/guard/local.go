package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Local is an in-process domain.LockManager. Acquire blocks until the key is
// free or ctx is done; the ttl argument is ignored.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty Local lock manager.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire implements domain.LockManager.
func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("%w: %w", domain.ErrLockHeld, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

var _ domain.LockManager = (*Local)(nil)
