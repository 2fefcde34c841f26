package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, domain.Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestFanout_DeliversPastFailures(t *testing.T) {
	bad := &failingPublisher{}
	rec := &Recorder{}
	fan := Fanout{bad, rec}

	evt := domain.NewEvent(domain.EventSwapExecuted, "pool", time.Unix(100, 0), nil)
	err := fan.Publish(context.Background(), evt)

	require.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, []domain.EventKind{domain.EventSwapExecuted}, rec.Kinds())
}

func TestEmitter_SwallowsPublishErrors(t *testing.T) {
	bad := &failingPublisher{}
	em := NewEmitter(bad, slog.New(slog.NewTextHandler(io.Discard, nil)))

	em.Emit(context.Background(), domain.NewEvent(domain.EventBidPlaced, "a", time.Now(), nil))
	assert.Equal(t, 1, bad.calls)

	var nilEmitter *Emitter
	nilEmitter.Emit(context.Background(), domain.Event{})
}
