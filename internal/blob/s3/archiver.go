package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/observability"
)

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 64 * 1024 * 1024

// TradeArchiveStore is the slice of the trade journal the archiver needs.
type TradeArchiveStore interface {
	// ListBefore returns all records with a timestamp strictly before the
	// cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
	// DeleteBefore removes those records once they are safely archived.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig wires an Archiver.
type ArchiverConfig struct {
	Writer  domain.BlobWriter
	Reader  domain.BlobReader
	Trades  TradeArchiveStore
	Audit   domain.AuditStore
	Metrics *observability.Metrics
	Logger  *slog.Logger
	// Prefix is the object key prefix, e.g. "archive/trades".
	Prefix string
}

// ArchiveImpl implements domain.Archiver. Old journal rows are serialized to
// JSONL, uploaded, recorded in the audit log and only then deleted from the
// journal.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	trades  TradeArchiveStore
	audit   domain.AuditStore
	metrics *observability.Metrics
	logger  *slog.Logger
	prefix  string
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(cfg ArchiverConfig) *ArchiveImpl {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "archive/trades"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveImpl{
		writer:  cfg.Writer,
		reader:  cfg.Reader,
		trades:  cfg.Trades,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  logger.With(slog.String("component", "archiver")),
		prefix:  prefix,
	}
}

// archivedTrade is the JSONL row format. Amounts are decimal strings.
type archivedTrade struct {
	Seq       uint64    `json:"seq"`
	Asset     string    `json:"asset"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ArchiveTrades moves every journal record older than before to object
// storage and returns how many were archived. Nothing is deleted unless the
// upload succeeded.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([]archivedTrade, len(recs))
	for i, r := range recs {
		rows[i] = archivedTrade{Seq: r.Seq, Asset: string(r.Asset), Amount: r.Amount.Dec(), Timestamp: r.Timestamp.UTC()}
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path, err := a.freePath(ctx, before)
	if err != nil {
		return 0, err
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":      path,
		"count":     count,
		"before":    before.UTC().Format(time.RFC3339),
		"first_seq": recs[0].Seq,
		"last_seq":  recs[len(recs)-1].Seq,
	}); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades prune: %w", err)
	}
	if deleted != count {
		a.logger.WarnContext(ctx, "archived and pruned counts differ",
			slog.Int64("archived", count),
			slog.Int64("deleted", deleted),
		)
	}
	a.metrics.Archived(count)
	a.logger.InfoContext(ctx, "archived trades",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// RunEvery archives records older than age once per interval until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (a *ArchiveImpl) RunEvery(ctx context.Context, interval, age time.Duration, now func() time.Time) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.ArchiveTrades(ctx, now().Add(-age)); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// freePath returns archivePath for before, suffixed with a counter when an
// earlier run in the same month already used the name.
func (a *ArchiveImpl) freePath(ctx context.Context, before time.Time) (string, error) {
	base := archivePath(a.prefix, before)
	if a.reader == nil {
		return base, nil
	}
	path := base
	for n := 1; ; n++ {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive trades path: %w", err)
		}
		if !exists {
			return path, nil
		}
		path = fmt.Sprintf("%s.%d", base, n)
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/trades/2026-01.jsonl
func archivePath(prefix string, before time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", prefix, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
