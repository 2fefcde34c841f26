package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AssetTotals is the journal's all-time aggregate for one asset.
type AssetTotals struct {
	Asset  AssetID
	Total  string // decimal
	Trades uint64
	Last   time.Time
}

// TradeJournal durably persists ledger records. Append is idempotent for
// an identical record and fails with ErrSeqTaken when rec.Seq already holds a
// different one. MaxSeq includes archived records.
type TradeJournal interface {
	Append(ctx context.Context, rec TradeRecord) error
	MaxSeq(ctx context.Context) (uint64, error)
	Totals(ctx context.Context) ([]AssetTotals, error)
	ListSince(ctx context.Context, since time.Time) ([]TradeRecord, error)
	ListByAsset(ctx context.Context, asset AssetID, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
