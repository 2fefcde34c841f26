package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// EventPublisher fans committed domain events out over a SignalBus: each
// event is published on "<prefix><kind>" for live subscribers and appended
// to a durable stream for replay.
type EventPublisher struct {
	bus    domain.SignalBus
	prefix string
	stream string
}

// NewEventPublisher creates an EventPublisher. An empty stream disables the
// durable copy.
func NewEventPublisher(bus domain.SignalBus, prefix, stream string) *EventPublisher {
	return &EventPublisher{bus: bus, prefix: prefix, stream: stream}
}

// Channel returns the Pub/Sub channel for kind.
func (p *EventPublisher) Channel(kind domain.EventKind) string {
	return p.prefix + string(kind)
}

// Publish implements domain.EventPublisher.
func (p *EventPublisher) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: encode event %s: %w", evt.Kind, err)
	}
	if err := p.bus.Publish(ctx, p.Channel(evt.Kind), payload); err != nil {
		return err
	}
	if p.stream == "" {
		return nil
	}
	return p.bus.StreamAppend(ctx, p.stream, payload)
}

// Compile-time interface check.
var _ domain.EventPublisher = (*EventPublisher)(nil)
