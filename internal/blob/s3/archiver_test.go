package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/observability"
)

type memBlobs struct {
	objects map[string][]byte
	failPut bool
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memTrades struct {
	recs []domain.TradeRecord
}

func (m *memTrades) ListBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range m.recs {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memTrades) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.TradeRecord
	var n int64
	for _, r := range m.recs {
		if r.Timestamp.Before(before) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	m.recs = keep
	return n, nil
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

var t0 = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newTestArchiver(blobs *memBlobs, trades *memTrades, audit *memAudit, m *observability.Metrics) *ArchiveImpl {
	return NewArchiver(ArchiverConfig{
		Writer:  blobs,
		Reader:  blobs,
		Trades:  trades,
		Audit:   audit,
		Metrics: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func sampleTrades() *memTrades {
	return &memTrades{recs: []domain.TradeRecord{
		{Seq: 1, Asset: "0xc0/1", Amount: uint256.NewInt(100), Timestamp: t0},
		{Seq: 2, Asset: "0xc0/1", Amount: uint256.NewInt(7), Timestamp: t0.Add(time.Hour)},
		{Seq: 3, Asset: "0xc0/2", Amount: uint256.NewInt(9), Timestamp: t0.Add(48 * time.Hour)},
	}}
}

func TestArchiveTrades_UploadsAuditsAndPrunes(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{objects: map[string][]byte{}}
	trades := sampleTrades()
	audit := &memAudit{}
	m := observability.NewMetrics("test")
	a := newTestArchiver(blobs, trades, audit, m)

	n, err := a.ArchiveTrades(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := blobs.objects["archive/trades/2026-03.jsonl"]
	require.True(t, ok)
	sc := bufio.NewScanner(bytes.NewReader(body))
	var rows []archivedTrade
	for sc.Scan() {
		var r archivedTrade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		rows = append(rows, r)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "100", rows[0].Amount)
	assert.Equal(t, uint64(2), rows[1].Seq)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "archive.trades", audit.entries[0].Event)
	assert.Len(t, trades.recs, 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TradesArchived))
}

func TestArchiveTrades_SameMonthGetsFreshName(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{objects: map[string][]byte{}}
	trades := sampleTrades()
	a := newTestArchiver(blobs, trades, &memAudit{}, nil)

	_, err := a.ArchiveTrades(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = a.ArchiveTrades(ctx, t0.Add(72*time.Hour))
	require.NoError(t, err)

	assert.Contains(t, blobs.objects, "archive/trades/2026-03.jsonl")
	assert.Contains(t, blobs.objects, "archive/trades/2026-03.jsonl.1")
	assert.Empty(t, trades.recs)
}

func TestArchiveTrades_UploadFailureKeepsRows(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}, failPut: true}
	trades := sampleTrades()
	audit := &memAudit{}
	a := newTestArchiver(blobs, trades, audit, nil)

	_, err := a.ArchiveTrades(context.Background(), t0.Add(24*time.Hour))
	require.Error(t, err)
	assert.Len(t, trades.recs, 3)
	assert.Empty(t, audit.entries)
}

func TestArchiveTrades_NothingToDo(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := newTestArchiver(blobs, sampleTrades(), &memAudit{}, nil)
	n, err := a.ArchiveTrades(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", withScheme("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", withScheme("http://localhost:9000", true))
}

func TestOpen_RequiresBucketAndRegion(t *testing.T) {
	_, err := Open(context.Background(), BucketConfig{Region: "us-east-1"})
	require.ErrorContains(t, err, "bucket name is required")
	_, err = Open(context.Background(), BucketConfig{Bucket: "venue-archive"})
	require.ErrorContains(t, err, "region is required")
}
