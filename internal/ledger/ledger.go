// Package ledger is the append-only per-asset trade log with total and
// trailing-window volume queries.
//
// Each asset has its own book holding running (prefix) sums of the retained
// records, so a window query is two binary searches and a subtraction
// instead of a rescan of the log. Records that can no longer fall inside any
// window ending at or after the latest trade (older than latest - Window -
// Retention) are folded into the book's base sum and dropped.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
	"github.com/alanyoungcy/tradevenue/internal/observability"
)

// Window is the trailing duration of RecentVolume.
const Window = 72 * time.Hour

// Config tunes history retention.
type Config struct {
	// Retention is how much history beyond Window stays queryable for
	// windows ending before the latest trade.
	Retention time.Duration
	Metrics   *observability.Metrics
}

// Ledger is safe for concurrent use. Each asset book has its own lock.
type Ledger struct {
	retention time.Duration
	metrics   *observability.Metrics
	journal   domain.TradeJournal
	events    *events.Emitter
	logger    *slog.Logger
	seq       atomic.Uint64

	mu    sync.RWMutex
	books map[domain.AssetID]*book
}

// New creates an empty ledger. journal may be nil.
func New(cfg Config, journal domain.TradeJournal, em *events.Emitter, logger *slog.Logger) *Ledger {
	return &Ledger{
		retention: cfg.Retention,
		metrics:   cfg.Metrics,
		journal:   journal,
		events:    em,
		logger:    logger.With(slog.String("component", "ledger")),
		books:     make(map[domain.AssetID]*book),
	}
}

type book struct {
	mu sync.RWMutex
	// base is the sum of every compacted record.
	base uint256.Int
	// times and cum are parallel: cum[i] is base plus the amounts of
	// records 0..i.
	times []time.Time
	cum   []uint256.Int
	// horizon is the timestamp of the newest compacted record.
	horizon   time.Time
	compacted bool
	trades    uint64
}

func (l *Ledger) book(asset domain.AssetID, create bool) *book {
	l.mu.RLock()
	b := l.books[asset]
	l.mu.RUnlock()
	if b != nil || !create {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b = l.books[asset]; b == nil {
		b = &book{}
		l.books[asset] = b
	}
	return b
}

// Record appends a trade of amount for asset at ts. A timestamp earlier than
// the asset's latest record is raised to it so the log stays chronological.
// The returned record carries the effective timestamp.
func (l *Ledger) Record(ctx context.Context, asset domain.AssetID, amount *uint256.Int, ts time.Time) (domain.TradeRecord, error) {
	if amount == nil || amount.IsZero() {
		return domain.TradeRecord{}, fmt.Errorf("ledger: record %s: %w", asset, domain.ErrInvalidAmount)
	}

	b := l.book(asset, true)
	b.mu.Lock()
	if err := b.append(amount, ts, l.retention); err != nil {
		b.mu.Unlock()
		return domain.TradeRecord{}, fmt.Errorf("ledger: record %s: %w", asset, err)
	}
	ts = b.times[len(b.times)-1]
	b.mu.Unlock()

	rec := domain.TradeRecord{
		Seq:       l.seq.Add(1),
		Asset:     asset,
		Amount:    new(uint256.Int).Set(amount),
		Timestamp: ts,
	}
	l.metrics.TradeRecorded()

	if l.journal != nil {
		l.journalAppend(ctx, &rec)
	}
	l.events.Emit(ctx, domain.NewEvent(domain.EventTradeRecorded, asset.String(), ts, map[string]string{
		"seq":    fmt.Sprint(rec.Seq),
		"amount": amount.Dec(),
	}))
	return rec, nil
}

// seqRetries bounds how often Record takes a fresh sequence number after
// another writer claimed the one it was given.
const seqRetries = 3

func (l *Ledger) journalAppend(ctx context.Context, rec *domain.TradeRecord) {
	for attempt := 0; ; attempt++ {
		err := l.journal.Append(ctx, *rec)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrSeqTaken) && attempt < seqRetries {
			if serr := l.SyncSeq(ctx); serr == nil {
				rec.Seq = l.seq.Add(1)
				continue
			}
		}
		l.logger.WarnContext(ctx, "journal append failed",
			slog.String("asset", rec.Asset.String()),
			slog.Uint64("seq", rec.Seq),
			slog.String("error", err.Error()),
		)
		return
	}
}

// SyncSeq raises the next sequence number past the highest one in the
// journal. It is a no-op without a journal.
func (l *Ledger) SyncSeq(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	maxSeq, err := l.journal.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("ledger: sync seq: %w", err)
	}
	l.raiseSeq(maxSeq)
	return nil
}

func (l *Ledger) raiseSeq(v uint64) {
	for {
		cur := l.seq.Load()
		if v <= cur || l.seq.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (b *book) append(amount *uint256.Int, ts time.Time, retention time.Duration) error {
	prev := &b.base
	if n := len(b.times); n > 0 {
		prev = &b.cum[n-1]
		if last := b.times[n-1]; ts.Before(last) {
			ts = last
		}
	}
	var next uint256.Int
	if _, overflow := next.AddOverflow(prev, amount); overflow {
		return domain.ErrOverflow
	}
	b.times = append(b.times, ts)
	b.cum = append(b.cum, next)
	b.trades++
	b.compact(ts.Add(-Window - retention))
	return nil
}

// compact drops records older than cutoff once they make up at least half
// of the retained slice, which keeps appends amortised O(1).
func (b *book) compact(cutoff time.Time) {
	idx := sort.Search(len(b.times), func(i int) bool {
		return !b.times[i].Before(cutoff)
	})
	if idx == 0 || idx*2 < len(b.times) {
		return
	}
	b.base = b.cum[idx-1]
	b.horizon = b.times[idx-1]
	b.compacted = true

	b.times = append([]time.Time(nil), b.times[idx:]...)
	b.cum = append([]uint256.Int(nil), b.cum[idx:]...)
}

func (b *book) total() *uint256.Int {
	if n := len(b.cum); n > 0 {
		return new(uint256.Int).Set(&b.cum[n-1])
	}
	return new(uint256.Int).Set(&b.base)
}

// sumBetween returns the amounts with from <= ts <= to.
func (b *book) sumBetween(from, to time.Time) (*uint256.Int, error) {
	if b.compacted && !from.After(b.horizon) {
		return nil, domain.ErrWindowCompacted
	}
	lo := sort.Search(len(b.times), func(i int) bool {
		return !b.times[i].Before(from)
	})
	hi := sort.Search(len(b.times), func(i int) bool {
		return b.times[i].After(to)
	})
	if hi <= lo {
		return new(uint256.Int), nil
	}
	before := &b.base
	if lo > 0 {
		before = &b.cum[lo-1]
	}
	return new(uint256.Int).Sub(&b.cum[hi-1], before), nil
}

// TotalVolume is the sum of every amount ever recorded for asset.
func (l *Ledger) TotalVolume(asset domain.AssetID) *uint256.Int {
	b := l.book(asset, false)
	if b == nil {
		return new(uint256.Int)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total()
}

// RecentVolume is the sum of amounts recorded for asset with timestamps in
// [now-Window, now]. It returns ErrWindowCompacted when that window reaches
// back past the retained history.
func (l *Ledger) RecentVolume(asset domain.AssetID, now time.Time) (*uint256.Int, error) {
	b := l.book(asset, false)
	if b == nil {
		return new(uint256.Int), nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	sum, err := b.sumBetween(now.Add(-Window), now)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent volume %s: %w", asset, err)
	}
	return sum, nil
}

// Snapshot returns both aggregates and the trade count in one consistent read.
func (l *Ledger) Snapshot(asset domain.AssetID, now time.Time) (domain.VolumeSnapshot, error) {
	snap := domain.VolumeSnapshot{
		Asset:  asset,
		Total:  new(uint256.Int),
		Recent: new(uint256.Int),
		AsOf:   now,
	}
	b := l.book(asset, false)
	if b == nil {
		return snap, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	recent, err := b.sumBetween(now.Add(-Window), now)
	if err != nil {
		return domain.VolumeSnapshot{}, fmt.Errorf("ledger: snapshot %s: %w", asset, err)
	}
	snap.Total = b.total()
	snap.Recent = recent
	snap.Trades = b.trades
	return snap, nil
}

// Assets lists every asset with at least one recorded trade.
func (l *Ledger) Assets() []domain.AssetID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AssetID, 0, len(l.books))
	for a := range l.books {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
