package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in -short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("venue"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return c
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/venue?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "venue", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://venue:p%40ss%2Fw@db:6432/trades?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "trades", User: "venue", Password: "p@ss/w", SSLMode: "require"}))
}

func TestTradeJournal(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	j := NewTradeJournal(c.Pool())

	const (
		a = domain.AssetID("0x00000000000000000000000000000000000000c0/1")
		b = domain.AssetID("0x000000000000000000000000000000000000a000")
	)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	huge, err := uint256.FromDecimal("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)

	recs := []domain.TradeRecord{
		{Seq: 1, Asset: a, Amount: uint256.NewInt(100), Timestamp: t0},
		{Seq: 2, Asset: b, Amount: huge, Timestamp: t0.Add(time.Hour)},
		{Seq: 3, Asset: a, Amount: uint256.NewInt(50), Timestamp: t0.Add(2 * time.Hour)},
	}
	for _, r := range recs {
		require.NoError(t, j.Append(ctx, r))
	}
	require.NoError(t, j.Append(ctx, recs[0]), "duplicate append is a no-op")
	clash := domain.TradeRecord{Seq: 1, Asset: b, Amount: uint256.NewInt(7), Timestamp: t0}
	require.ErrorIs(t, j.Append(ctx, clash), domain.ErrSeqTaken)

	maxSeq, err := j.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), maxSeq)

	totals, err := j.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	byAsset := map[domain.AssetID]domain.AssetTotals{}
	for _, tot := range totals {
		byAsset[tot.Asset] = tot
	}
	assert.Equal(t, "150", byAsset[a].Total)
	assert.Equal(t, uint64(2), byAsset[a].Trades)
	assert.Equal(t, huge.Dec(), byAsset[b].Total)

	since, err := j.ListSince(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(2), since[0].Seq)
	assert.True(t, since[0].Amount.Eq(huge))

	page, err := j.ListByAsset(ctx, a, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(3), page[0].Seq)

	before, err := j.ListBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, before, 1)

	n, err := j.DeleteBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	totals, err = j.Totals(ctx)
	require.NoError(t, err)
	for _, tot := range totals {
		if tot.Asset == a {
			assert.Equal(t, "150", tot.Total, "archived rows still count")
			assert.Equal(t, uint64(2), tot.Trades)
		}
	}
	remaining, err := j.ListByAsset(ctx, a, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	n, err = j.DeleteBefore(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	maxSeq, err = j.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), maxSeq, "archived sequence numbers stay taken")
}

func TestAuditPublisher(t *testing.T) {
	c := setupTestDB(t)
	ctx := context.Background()
	store := NewAuditStore(c.Pool())
	pub := NewAuditPublisher(store)

	evt := domain.Event{
		ID:       uuid.New(),
		Kind:     domain.EventPurchaseCompleted,
		Resource: "0xabc/1",
		At:       time.Now().UTC(),
		Attrs:    map[string]string{"fee": "3"},
	}
	require.NoError(t, pub.Publish(ctx, evt))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(domain.EventPurchaseCompleted), entries[0].Event)
	assert.Equal(t, "3", entries[0].Detail["fee"])
	assert.Equal(t, evt.ID.String(), entries[0].Detail["id"])
}
