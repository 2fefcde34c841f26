package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind names a domain event. One event is emitted per successful state
// transition.
type EventKind string

const (
	EventListingCreated      EventKind = "listing_created"
	EventListingRemoved      EventKind = "listing_removed"
	EventPurchaseCompleted   EventKind = "purchase_completed"
	EventAuctionCreated      EventKind = "auction_created"
	EventBidPlaced           EventKind = "bid_placed"
	EventAuctionEnded        EventKind = "auction_ended"
	EventFeeRateUpdated      EventKind = "fee_rate_updated"
	EventFeeCollectorUpdated EventKind = "fee_collector_updated"
	EventLiquidityAdded      EventKind = "liquidity_added"
	EventLiquidityRemoved    EventKind = "liquidity_removed"
	EventSwapExecuted        EventKind = "swap_executed"
	EventTradeRecorded       EventKind = "trade_recorded"
)

// Event is the wire form of a domain event. Amounts travel as decimal
// strings in Attrs.
type Event struct {
	ID       uuid.UUID         `json:"id"`
	Kind     EventKind         `json:"kind"`
	Resource string            `json:"resource"`
	At       time.Time         `json:"at"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// NewEvent stamps a fresh event ID.
func NewEvent(kind EventKind, resource string, at time.Time, attrs map[string]string) Event {
	return Event{
		ID:       uuid.New(),
		Kind:     kind,
		Resource: resource,
		At:       at.UTC(),
		Attrs:    attrs,
	}
}

// EventPublisher delivers committed domain events downstream. A publish
// failure never unwinds the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}
