package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
)

const asset = domain.AssetID("0x00000000000000000000000000000000000000a1/7")

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(retention time.Duration, journal domain.TradeJournal) (*Ledger, *events.Recorder) {
	rec := &events.Recorder{}
	logger := quietLogger()
	return New(Config{Retention: retention}, journal, events.NewEmitter(rec, logger), logger), rec
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func record(t *testing.T, l *Ledger, a domain.AssetID, v uint64, ts time.Time) domain.TradeRecord {
	t.Helper()
	rec, err := l.Record(context.Background(), a, amt(v), ts)
	require.NoError(t, err)
	return rec
}

func TestRecord_ZeroAmount(t *testing.T) {
	l, rec := newTestLedger(0, nil)
	_, err := l.Record(context.Background(), asset, amt(0), t0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Record(context.Background(), asset, nil, t0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Empty(t, rec.Kinds())
	assert.True(t, l.TotalVolume(asset).IsZero())
}

func TestTotalVolume_SumsEverything(t *testing.T) {
	l, rec := newTestLedger(0, nil)
	record(t, l, asset, 100, t0)
	record(t, l, asset, 250, t0.Add(100*time.Hour))
	record(t, l, asset, 50, t0.Add(300*time.Hour))

	assert.Equal(t, uint64(400), l.TotalVolume(asset).Uint64())
	assert.Len(t, rec.Kinds(), 3)
	assert.Equal(t, domain.EventTradeRecorded, rec.Kinds()[0])
}

func TestRecentVolume_WindowBounds(t *testing.T) {
	l, _ := newTestLedger(30*24*time.Hour, nil)
	record(t, l, asset, 1, t0)
	record(t, l, asset, 10, t0.Add(time.Hour))
	record(t, l, asset, 100, t0.Add(72*time.Hour))

	// Window is inclusive at both ends.
	got, err := l.RecentVolume(asset, t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(111), got.Uint64())

	got, err = l.RecentVolume(asset, t0.Add(72*time.Hour+time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, uint64(110), got.Uint64())

	got, err = l.RecentVolume(asset, t0.Add(146*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Uint64())

	// Records after now are not counted.
	got, err = l.RecentVolume(asset, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Uint64())
}

func TestRecentVolume_UnknownAsset(t *testing.T) {
	l, _ := newTestLedger(0, nil)
	got, err := l.RecentVolume("nope", t0)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestRecord_BackdatedTimestampIsClamped(t *testing.T) {
	l, _ := newTestLedger(time.Hour, nil)
	record(t, l, asset, 5, t0.Add(10*time.Hour))
	r := record(t, l, asset, 7, t0)

	assert.Equal(t, t0.Add(10*time.Hour), r.Timestamp)
	got, err := l.RecentVolume(asset, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.Uint64())
}

func TestCompaction_KeepsTotalsExact(t *testing.T) {
	l, _ := newTestLedger(0, nil)
	var want uint64
	for i := 0; i < 200; i++ {
		v := uint64(i + 1)
		want += v
		record(t, l, asset, v, t0.Add(time.Duration(i)*time.Hour))
	}
	now := t0.Add(199 * time.Hour)

	assert.Equal(t, want, l.TotalVolume(asset).Uint64())

	// Hours 127..199 fall in the window: sum of 128..200.
	var wantRecent uint64
	for v := uint64(128); v <= 200; v++ {
		wantRecent += v
	}
	got, err := l.RecentVolume(asset, now)
	require.NoError(t, err)
	assert.Equal(t, wantRecent, got.Uint64())

	b := l.book(asset, false)
	b.mu.RLock()
	retained := len(b.times)
	b.mu.RUnlock()
	assert.Less(t, retained, 200, "old records should have been compacted")
}

func TestCompaction_OldWindowReportsCompacted(t *testing.T) {
	l, _ := newTestLedger(0, nil)
	for i := 0; i < 200; i++ {
		record(t, l, asset, 1, t0.Add(time.Duration(i)*time.Hour))
	}
	_, err := l.RecentVolume(asset, t0.Add(80*time.Hour))
	require.ErrorIs(t, err, domain.ErrWindowCompacted)
	require.ErrorIs(t, err, domain.ErrState)
}

func TestSnapshot(t *testing.T) {
	l, _ := newTestLedger(0, nil)
	record(t, l, asset, 3, t0)
	record(t, l, asset, 4, t0.Add(100*time.Hour))

	snap, err := l.Snapshot(asset, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.Total.Uint64())
	assert.Equal(t, uint64(4), snap.Recent.Uint64())
	assert.Equal(t, uint64(2), snap.Trades)
	assert.Equal(t, []domain.AssetID{asset}, l.Assets())
}

func TestRecord_ConcurrentAppends(t *testing.T) {
	l, _ := newTestLedger(0, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := l.Record(context.Background(), asset, amt(1), t0)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), l.TotalVolume(asset).Uint64())
}

type memJournal struct {
	mu      sync.Mutex
	records []domain.TradeRecord
	fail    bool
}

func (j *memJournal) Append(_ context.Context, rec domain.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("journal down")
	}
	for _, r := range j.records {
		if r.Seq != rec.Seq {
			continue
		}
		if r.Asset == rec.Asset && r.Amount.Eq(rec.Amount) && r.Timestamp.Equal(rec.Timestamp) {
			return nil
		}
		return domain.ErrSeqTaken
	}
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) MaxSeq(context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var top uint64
	for _, r := range j.records {
		top = max(top, r.Seq)
	}
	return top, nil
}

func (j *memJournal) Totals(context.Context) ([]domain.AssetTotals, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sums := map[domain.AssetID]*domain.AssetTotals{}
	acc := map[domain.AssetID]*uint256.Int{}
	var order []domain.AssetID
	for _, r := range j.records {
		if _, ok := sums[r.Asset]; !ok {
			sums[r.Asset] = &domain.AssetTotals{Asset: r.Asset}
			acc[r.Asset] = new(uint256.Int)
			order = append(order, r.Asset)
		}
		acc[r.Asset].Add(acc[r.Asset], r.Amount)
		sums[r.Asset].Trades++
		sums[r.Asset].Last = r.Timestamp
	}
	out := make([]domain.AssetTotals, 0, len(order))
	for _, a := range order {
		s := sums[a]
		s.Total = acc[a].Dec()
		out = append(out, *s)
	}
	return out, nil
}

func (j *memJournal) ListSince(_ context.Context, since time.Time) ([]domain.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.TradeRecord
	for _, r := range j.records {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *memJournal) ListByAsset(context.Context, domain.AssetID, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (j *memJournal) ListBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (j *memJournal) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func TestRecord_JournalFailureDoesNotFail(t *testing.T) {
	j := &memJournal{fail: true}
	l, _ := newTestLedger(0, j)
	_, err := l.Record(context.Background(), asset, amt(9), t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), l.TotalVolume(asset).Uint64())
}

func TestRestore_RebuildsFromJournal(t *testing.T) {
	j := &memJournal{}
	src, _ := newTestLedger(24*time.Hour, j)
	other := domain.AssetID("0x00000000000000000000000000000000000000b2")
	record(t, src, asset, 1000, t0)
	record(t, src, asset, 20, t0.Add(200*time.Hour))
	record(t, src, asset, 30, t0.Add(210*time.Hour))
	record(t, src, other, 5, t0.Add(210*time.Hour))

	now := t0.Add(220 * time.Hour)
	dst, _ := newTestLedger(24*time.Hour, nil)
	require.NoError(t, dst.Restore(context.Background(), j, now))

	assert.Equal(t, uint64(1050), dst.TotalVolume(asset).Uint64())
	assert.Equal(t, uint64(5), dst.TotalVolume(other).Uint64())

	got, err := dst.RecentVolume(asset, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Uint64())

	// The 1000 at t0 is folded into the base; windows reaching it are refused.
	_, err = dst.RecentVolume(asset, t0.Add(24*time.Hour))
	require.ErrorIs(t, err, domain.ErrWindowCompacted)

	next := record(t, dst, asset, 1, now)
	assert.Greater(t, next.Seq, uint64(4))
}

func TestSyncSeq_FreshLedgerContinuesJournal(t *testing.T) {
	j := &memJournal{}
	first, _ := newTestLedger(0, j)
	record(t, first, asset, 10, t0)
	record(t, first, asset, 20, t0.Add(time.Minute))

	second, _ := newTestLedger(0, j)
	require.NoError(t, second.SyncSeq(context.Background()))
	next := record(t, second, asset, 5, t0.Add(time.Hour))

	assert.Equal(t, uint64(3), next.Seq)
	assert.Len(t, j.records, 3)
}

func TestRecord_TakenSeqIsReassigned(t *testing.T) {
	j := &memJournal{}
	a, _ := newTestLedger(0, j)
	b, _ := newTestLedger(0, j)

	record(t, a, asset, 10, t0)
	got := record(t, b, asset, 20, t0.Add(time.Minute))
	record(t, a, asset, 30, t0.Add(2*time.Minute))

	assert.Equal(t, uint64(2), got.Seq)
	require.Len(t, j.records, 3)
	total, err := j.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "60", total[0].Total, "no trade dropped by the journal")
}
