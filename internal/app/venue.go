package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/config"
	"github.com/alanyoungcy/tradevenue/internal/custody/memory"
	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
	"github.com/alanyoungcy/tradevenue/internal/exchange"
	"github.com/alanyoungcy/tradevenue/internal/fee"
	"github.com/alanyoungcy/tradevenue/internal/guard"
	"github.com/alanyoungcy/tradevenue/internal/ledger"
	"github.com/alanyoungcy/tradevenue/internal/market"
)

// Venue holds the engines and the collaborators they share.
type Venue struct {
	Custody  *memory.Custody
	Payments *memory.Payments
	Tiers    *memory.Tiers

	MarketFees   *fee.Schedule
	ExchangeFees *fee.Schedule
	Ledger       *ledger.Ledger
	Escrow       *market.Escrow
	Auctions     *market.Auctions
	// Pool is nil when the exchange is disabled.
	Pool *exchange.Pool
}

// BuildVenue constructs the engines over deps. When a journal is wired the
// ledger continues its sequence numbers, and with ledger.restore_on_start it
// is rebuilt from it first.
func BuildVenue(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Venue, error) {
	venueAddr := common.HexToAddress(cfg.Venue.Address)
	operator := common.HexToAddress(cfg.Venue.Operator)
	collector := common.HexToAddress(cfg.Venue.FeeCollector)

	var pub domain.EventPublisher
	if len(deps.Publishers) > 0 {
		pub = deps.Publishers
	}
	em := events.NewEmitter(pub, logger).WithMetrics(deps.Metrics)

	v := &Venue{
		Custody:  memory.NewCustody(),
		Payments: memory.NewPayments(venueAddr),
		Tiers:    memory.NewTiers(),
	}
	if err := seedSandbox(cfg.Sandbox, venueAddr, v); err != nil {
		return nil, err
	}

	var err error
	v.MarketFees, err = fee.NewSchedule(fee.Config{
		Name:      "marketplace",
		Rates:     cfg.Fees.Marketplace.Rates(),
		Operator:  operator,
		Collector: collector,
	}, em, logger)
	if err != nil {
		return nil, err
	}
	v.ExchangeFees, err = fee.NewSchedule(fee.Config{
		Name:      "exchange",
		Rates:     cfg.Fees.Exchange.Rates(),
		Operator:  operator,
		Collector: collector,
	}, em, logger)
	if err != nil {
		return nil, err
	}

	var journal domain.TradeJournal
	if deps.Journal != nil {
		journal = deps.Journal
	}
	v.Ledger = ledger.New(ledger.Config{
		Retention: cfg.Ledger.Retention.Duration,
		Metrics:   deps.Metrics,
	}, journal, em, logger)
	switch {
	case journal != nil && cfg.Ledger.RestoreOnStart:
		if err := v.Ledger.Restore(ctx, journal, time.Now()); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "ledger restored", slog.Int("assets", len(v.Ledger.Assets())))
	case journal != nil:
		if err := v.Ledger.SyncSeq(ctx); err != nil {
			return nil, err
		}
	}

	lockers := []domain.LockManager{guard.NewLocal()}
	if cfg.Venue.DistributedLocks && deps.LockManager != nil {
		lockers = append(lockers, deps.LockManager)
	}
	g := guard.New(guard.Config{
		TTL:  cfg.Venue.LockTTL.Duration,
		Wait: cfg.Venue.LockWait.Duration,
	}, logger, lockers...)

	md := market.Deps{
		Venue:        venueAddr,
		PaymentToken: common.HexToAddress(cfg.Venue.PaymentToken),
		Custody:      v.Custody,
		Payments:     v.Payments,
		Tiers:        v.Tiers,
		Fees:         v.MarketFees,
		Ledger:       v.Ledger,
		Guard:        g,
		Events:       em,
		Metrics:      deps.Metrics,
		Logger:       logger,
	}
	if v.Escrow, err = market.NewEscrow(md); err != nil {
		return nil, err
	}
	if v.Auctions, err = market.NewAuctions(md); err != nil {
		return nil, err
	}

	if cfg.Exchange.Enabled {
		v.Pool, err = exchange.New(exchange.Config{
			TokenA:   common.HexToAddress(cfg.Exchange.TokenA),
			TokenB:   common.HexToAddress(cfg.Exchange.TokenB),
			Venue:    venueAddr,
			Operator: operator,
			Payments: v.Payments,
			Tiers:    v.Tiers,
			Fees:     v.ExchangeFees,
			Ledger:   v.Ledger,
			Guard:    g,
			Events:   em,
			Metrics:  deps.Metrics,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

// seedSandbox loads the configured balances, assets and tiers into the
// in-memory collaborators. cfg must have passed Validate.
func seedSandbox(cfg config.SandboxConfig, venue common.Address, v *Venue) error {
	for i, b := range cfg.Balances {
		amount, err := uint256.FromDecimal(b.Amount)
		if err != nil {
			return fmt.Errorf("app: sandbox balance %d: %w", i, err)
		}
		account, token := common.HexToAddress(b.Account), common.HexToAddress(b.Token)
		v.Payments.Mint(token, account, amount)
		if b.Approve {
			v.Payments.Approve(token, account, venue, amount)
		}
	}
	for i, a := range cfg.Assets {
		asset, err := domain.ParseAssetID(a.Asset)
		if err != nil {
			return fmt.Errorf("app: sandbox asset %d: %w", i, err)
		}
		owner := common.HexToAddress(a.Owner)
		v.Custody.Assign(asset, owner)
		if a.Approve {
			v.Custody.SetApprovalForAll(owner, venue, true)
		}
	}
	for account, name := range cfg.Tiers {
		tier, err := domain.ParseTier(name)
		if err != nil {
			return fmt.Errorf("app: sandbox tier %s: %w", account, err)
		}
		v.Tiers.Set(common.HexToAddress(account), tier)
	}
	return nil
}
