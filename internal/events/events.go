// Package events carries committed domain events from the engines to the
// configured downstream publishers (Redis, Postgres audit log, Kafka,
// notifications).
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/observability"
)

// Emitter is the engines' handle on the event pipeline. A nil Emitter or one
// without a publisher drops events silently.
type Emitter struct {
	pub     domain.EventPublisher
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewEmitter wraps pub. Publish failures are logged at warn level and never
// returned to the engine.
func NewEmitter(pub domain.EventPublisher, logger *slog.Logger) *Emitter {
	return &Emitter{
		pub:    pub,
		logger: logger.With(slog.String("component", "events")),
	}
}

// WithMetrics counts deliveries on m.
func (e *Emitter) WithMetrics(m *observability.Metrics) *Emitter {
	e.metrics = m
	return e
}

// Emit publishes evt.
func (e *Emitter) Emit(ctx context.Context, evt domain.Event) {
	if e == nil || e.pub == nil {
		return
	}
	err := e.pub.Publish(ctx, evt)
	e.metrics.EventPublished(evt.Kind, err)
	if err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("kind", string(evt.Kind)),
			slog.String("resource", evt.Resource),
			slog.String("error", err.Error()),
		)
	}
}

// Fanout publishes every event to each of its publishers in order. One
// failing publisher does not stop delivery to the rest.
type Fanout []domain.EventPublisher

// Publish implements domain.EventPublisher.
func (f Fanout) Publish(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("events: %d publisher(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Recorder keeps every published event in memory. It backs tests and the
// sandbox deployment.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish implements domain.EventPublisher.
func (r *Recorder) Publish(_ context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in publish order.
func (r *Recorder) Kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var _ domain.EventPublisher = Fanout(nil)
var _ domain.EventPublisher = (*Recorder)(nil)
