package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Restore rebuilds the in-memory books from journal. All-time totals come
// from the journal's aggregates; only records recent enough to matter for a
// window query are loaded individually. Must be called before the ledger
// takes traffic.
func (l *Ledger) Restore(ctx context.Context, journal domain.TradeJournal, now time.Time) error {
	totals, err := journal.Totals(ctx)
	if err != nil {
		return fmt.Errorf("ledger: restore totals: %w", err)
	}
	since := now.Add(-Window - l.retention)
	recent, err := journal.ListSince(ctx, since)
	if err != nil {
		return fmt.Errorf("ledger: restore since %s: %w", since.Format(time.RFC3339), err)
	}

	byAsset := make(map[domain.AssetID][]domain.TradeRecord)
	for _, rec := range recent {
		byAsset[rec.Asset] = append(byAsset[rec.Asset], rec)
	}

	maxSeq, err := journal.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}

	books := make(map[domain.AssetID]*book, len(totals))
	for _, t := range totals {
		total, err := uint256.FromDecimal(t.Total)
		if err != nil {
			return fmt.Errorf("ledger: restore %s total %q: %w", t.Asset, t.Total, err)
		}

		b := &book{trades: t.Trades}
		var windowSum uint256.Int
		for _, rec := range byAsset[t.Asset] {
			windowSum.Add(&windowSum, rec.Amount)
		}
		if total.Lt(&windowSum) {
			return fmt.Errorf("ledger: restore %s: journal total %s below recent sum %s", t.Asset, total.Dec(), windowSum.Dec())
		}
		b.base.Sub(total, &windowSum)
		if !b.base.IsZero() {
			b.compacted = true
			b.horizon = since.Add(-time.Nanosecond)
		}

		running := b.base
		for _, rec := range byAsset[t.Asset] {
			ts := rec.Timestamp
			if n := len(b.times); n > 0 && ts.Before(b.times[n-1]) {
				ts = b.times[n-1]
			}
			running.Add(&running, rec.Amount)
			b.times = append(b.times, ts)
			b.cum = append(b.cum, running)
		}
		books[t.Asset] = b
	}

	l.mu.Lock()
	l.books = books
	l.mu.Unlock()
	l.raiseSeq(maxSeq)

	l.logger.InfoContext(ctx, "ledger restored",
		slog.Int("assets", len(books)),
		slog.Int("recent_records", len(recent)),
		slog.Time("since", since),
	)
	return nil
}
