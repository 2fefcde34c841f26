package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/custody/memory"
	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
	"github.com/alanyoungcy/tradevenue/internal/fee"
	"github.com/alanyoungcy/tradevenue/internal/guard"
	"github.com/alanyoungcy/tradevenue/internal/ledger"
)

var (
	venue     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	operator  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	collector = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	seller    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bidder2   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	usd       = common.HexToAddress("0x0000000000000000000000000000000000000dd1")
	item      = domain.NFT(common.HexToAddress("0x00000000000000000000000000000000000000c0"), 42)
	start     = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyPayments fails transfers matching fail and lets tests run a hook
// inside Transfer.
type flakyPayments struct {
	*memory.Payments
	fail   func(from, to common.Address) bool
	onCall func(ctx context.Context)
}

func (p *flakyPayments) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if p.onCall != nil {
		p.onCall(ctx)
	}
	if p.fail != nil && p.fail(from, to) {
		return errors.New("payment rail unavailable")
	}
	return p.Payments.Transfer(ctx, token, from, to, amount)
}

type fixture struct {
	custody  *memory.Custody
	payments *flakyPayments
	tiers    *memory.Tiers
	fees     *fee.Schedule
	ledger   *ledger.Ledger
	events   *events.Recorder
	clock    *clock
	escrow   *Escrow
	auctions *Auctions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &events.Recorder{}
	em := events.NewEmitter(rec, logger)

	fees, err := fee.NewSchedule(fee.Config{
		Name:      "marketplace",
		Rates:     fee.Rates{30, 25, 20, 10},
		Operator:  operator,
		Collector: collector,
	}, em, logger)
	require.NoError(t, err)

	f := &fixture{
		custody:  memory.NewCustody(),
		payments: &flakyPayments{Payments: memory.NewPayments(venue)},
		tiers:    memory.NewTiers(),
		fees:     fees,
		ledger:   ledger.New(ledger.Config{}, nil, em, logger),
		events:   rec,
		clock:    &clock{now: start},
	}
	f.custody.Assign(item, seller)
	f.custody.SetApprovalForAll(seller, venue, true)

	deps := Deps{
		Venue:        venue,
		PaymentToken: usd,
		Custody:      f.custody,
		Payments:     f.payments,
		Tiers:        f.tiers,
		Fees:         fees,
		Ledger:       f.ledger,
		Guard:        guard.New(guard.Config{Wait: time.Second}, logger, guard.NewLocal()),
		Events:       em,
		Logger:       logger,
		Now:          f.clock.Now,
	}
	f.escrow, err = NewEscrow(deps)
	require.NoError(t, err)
	f.auctions, err = NewAuctions(deps)
	require.NoError(t, err)
	return f
}

func (f *fixture) fund(account common.Address, amount uint64) {
	f.payments.Mint(usd, account, uint256.NewInt(amount))
	f.payments.Approve(usd, account, venue, uint256.NewInt(amount))
}

func (f *fixture) balance(t *testing.T, account common.Address) uint64 {
	t.Helper()
	b, err := f.payments.BalanceOf(context.Background(), usd, account)
	require.NoError(t, err)
	return b.Uint64()
}

func (f *fixture) owner(t *testing.T) common.Address {
	t.Helper()
	o, err := f.custody.OwnerOf(context.Background(), item)
	require.NoError(t, err)
	return o
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }
