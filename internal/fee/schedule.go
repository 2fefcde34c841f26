// Package fee resolves a caller's tier to a fee rate in basis points and
// carries the fee collector identity. Each engine owns one Schedule.
package fee

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
)

const (
	// MaxRateBps caps every tier rate at 5%.
	MaxRateBps = 500
	// Denominator converts basis points into a fraction.
	Denominator = 10_000
)

var denominator = uint256.NewInt(Denominator)

// Rates maps each tier to its rate in basis points, indexed by domain.Tier.
type Rates [domain.NumTiers]uint16

// Config is the initial state of a Schedule.
type Config struct {
	// Name labels the schedule in events and logs ("marketplace", "exchange").
	Name      string
	Rates     Rates
	Operator  common.Address
	Collector common.Address
}

// Schedule is the tier rate table plus the fee collector. It is safe for
// concurrent use; updates are visible to the very next RateFor call.
type Schedule struct {
	name     string
	operator common.Address
	events   *events.Emitter
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	rates     Rates
	collector common.Address
}

// NewSchedule validates cfg and builds a Schedule.
func NewSchedule(cfg Config, em *events.Emitter, logger *slog.Logger) (*Schedule, error) {
	for i, r := range cfg.Rates {
		if r > MaxRateBps {
			return nil, fmt.Errorf("fee: %s tier %s rate %d: %w", cfg.Name, domain.Tier(i), r, domain.ErrInvalidRate)
		}
	}
	if cfg.Collector == (common.Address{}) {
		return nil, fmt.Errorf("fee: %s collector: %w", cfg.Name, domain.ErrInvalidAddress)
	}
	return &Schedule{
		name:      cfg.Name,
		operator:  cfg.Operator,
		events:    em,
		logger:    logger.With(slog.String("component", "fee"), slog.String("schedule", cfg.Name)),
		now:       time.Now,
		rates:     cfg.Rates,
		collector: cfg.Collector,
	}, nil
}

// Name returns the schedule label.
func (s *Schedule) Name() string { return s.name }

// RateFor returns the fee rate for tier.
func (s *Schedule) RateFor(tier domain.Tier) (uint16, error) {
	if !tier.Valid() {
		return 0, fmt.Errorf("fee: rate for %s: %w", tier, domain.ErrInvalidTier)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates[tier], nil
}

// Rates returns a copy of the whole table.
func (s *Schedule) Rates() Rates {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates
}

// Collector returns the current fee collector.
func (s *Schedule) Collector() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collector
}

// Operator returns the identity allowed to mutate the schedule.
func (s *Schedule) Operator() common.Address { return s.operator }

// SetRate replaces the rate of one tier.
func (s *Schedule) SetRate(ctx context.Context, caller common.Address, tier domain.Tier, rate uint16) error {
	if !tier.Valid() {
		return fmt.Errorf("fee: set rate: %w", domain.ErrInvalidTier)
	}
	if rate > MaxRateBps {
		return fmt.Errorf("fee: set rate %d: %w", rate, domain.ErrInvalidRate)
	}
	if caller != s.operator {
		return fmt.Errorf("fee: set rate: %w", domain.ErrUnauthorized)
	}

	s.mu.Lock()
	old := s.rates[tier]
	s.rates[tier] = rate
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "fee rate updated",
		slog.String("tier", tier.String()),
		slog.Int("old_bps", int(old)),
		slog.Int("new_bps", int(rate)),
	)
	s.events.Emit(ctx, domain.NewEvent(domain.EventFeeRateUpdated, s.name, s.now(), map[string]string{
		"tier":    tier.String(),
		"old_bps": strconv.Itoa(int(old)),
		"new_bps": strconv.Itoa(int(rate)),
	}))
	return nil
}

// SetCollector changes where fees are forwarded.
func (s *Schedule) SetCollector(ctx context.Context, caller, collector common.Address) error {
	if collector == (common.Address{}) {
		return fmt.Errorf("fee: set collector: %w", domain.ErrInvalidAddress)
	}
	if caller != s.operator {
		return fmt.Errorf("fee: set collector: %w", domain.ErrUnauthorized)
	}

	s.mu.Lock()
	old := s.collector
	s.collector = collector
	s.mu.Unlock()

	s.events.Emit(ctx, domain.NewEvent(domain.EventFeeCollectorUpdated, s.name, s.now(), map[string]string{
		"old": old.Hex(),
		"new": collector.Hex(),
	}))
	return nil
}

// Resolve looks up the tier of account through oracle and returns it with
// its rate.
func (s *Schedule) Resolve(ctx context.Context, oracle domain.TierOracle, account common.Address) (domain.Tier, uint16, error) {
	tier, err := oracle.TierOf(ctx, account)
	if err != nil {
		return 0, 0, fmt.Errorf("fee: tier of %s: %w: %w", account.Hex(), domain.ErrCollaborator, err)
	}
	rate, err := s.RateFor(tier)
	if err != nil {
		return 0, 0, err
	}
	return tier, rate, nil
}

// Of returns amount*bps/10000, rounded down.
func Of(amount *uint256.Int, bps uint16) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(uint64(bps)), denominator)
	return z
}

// NetOf returns amount*(10000-bps)/10000, rounded down: the part of amount
// left after taking the fee from it.
func NetOf(amount *uint256.Int, bps uint16) *uint256.Int {
	keep := uint256.NewInt(uint64(Denominator - int(bps)))
	z, _ := new(uint256.Int).MulDivOverflow(amount, keep, denominator)
	return z
}

// OnTop computes the fee charged on top of price and the resulting total.
func OnTop(price *uint256.Int, bps uint16) (fee, total *uint256.Int, err error) {
	fee = Of(price, bps)
	total, overflow := new(uint256.Int).AddOverflow(price, fee)
	if overflow {
		return nil, nil, fmt.Errorf("fee: total of %s: %w", price.Dec(), domain.ErrOverflow)
	}
	return fee, total, nil
}
