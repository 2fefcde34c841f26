// Package exchange implements the constant-product pool for the single
// configured token pair.
//
// Swaps take the tier fee from the input side before pricing and the fee
// stays in the pool, so reserves (and their product) grow with every swap.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
	"github.com/alanyoungcy/tradevenue/internal/fee"
	"github.com/alanyoungcy/tradevenue/internal/guard"
	"github.com/alanyoungcy/tradevenue/internal/ledger"
	"github.com/alanyoungcy/tradevenue/internal/observability"
	"github.com/alanyoungcy/tradevenue/internal/settle"
)

// Config wires a Pool.
type Config struct {
	TokenA common.Address
	TokenB common.Address
	// Venue holds the pool's reserves.
	Venue common.Address
	// Operator is the only identity allowed to add or remove liquidity.
	Operator common.Address

	Payments domain.Payments
	Tiers    domain.TierOracle
	Fees     *fee.Schedule
	Ledger   *ledger.Ledger
	Guard    *guard.Guard
	Events   *events.Emitter
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pool is safe for concurrent use. Mutations are serialised by the guard;
// the reserve pair is swapped under mu so readers never see half an update.
type Pool struct {
	cfg    Config
	key    string
	logger *slog.Logger

	mu       sync.RWMutex
	reserveA uint256.Int
	reserveB uint256.Int
}

// New creates an empty pool.
func New(cfg Config) (*Pool, error) {
	switch {
	case cfg.TokenA == (common.Address{}) || cfg.TokenB == (common.Address{}) || cfg.TokenA == cfg.TokenB:
		return nil, fmt.Errorf("exchange: token pair %s/%s: %w", cfg.TokenA.Hex(), cfg.TokenB.Hex(), domain.ErrInvalidToken)
	case cfg.Venue == (common.Address{}):
		return nil, fmt.Errorf("exchange: venue address: %w", domain.ErrInvalidAddress)
	case cfg.Payments == nil || cfg.Tiers == nil || cfg.Fees == nil || cfg.Ledger == nil || cfg.Guard == nil:
		return nil, fmt.Errorf("exchange: payments, tier oracle, fee schedule, ledger and guard are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		cfg:    cfg,
		key:    guard.PoolKey(domain.Token(cfg.TokenA), domain.Token(cfg.TokenB)),
		logger: cfg.Logger.With(slog.String("component", "exchange")),
	}, nil
}

// Reserves returns a consistent snapshot of both reserves.
func (p *Pool) Reserves() domain.Reserves {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.Reserves{
		TokenA:   p.cfg.TokenA,
		TokenB:   p.cfg.TokenB,
		ReserveA: new(uint256.Int).Set(&p.reserveA),
		ReserveB: new(uint256.Int).Set(&p.reserveB),
	}
}

func (p *Pool) setReserves(a, b *uint256.Int) {
	p.mu.Lock()
	p.reserveA.Set(a)
	p.reserveB.Set(b)
	p.mu.Unlock()
	p.cfg.Metrics.SetReserve(p.cfg.TokenA.Hex(), toFloat(a))
	p.cfg.Metrics.SetReserve(p.cfg.TokenB.Hex(), toFloat(b))
}

// AddLiquidity deposits both amounts from provider into the pool.
func (p *Pool) AddLiquidity(ctx context.Context, amountA, amountB *uint256.Int, provider common.Address) (res domain.Reserves, err error) {
	defer p.observe("add_liquidity", time.Now(), &err)
	if err := p.checkLiquidityArgs(amountA, amountB, provider); err != nil {
		return domain.Reserves{}, fmt.Errorf("exchange: add liquidity: %w", err)
	}

	err = p.cfg.Guard.Do(ctx, p.key, func(ctx context.Context) error {
		cur := p.Reserves()
		nextA, overflowA := new(uint256.Int).AddOverflow(cur.ReserveA, amountA)
		nextB, overflowB := new(uint256.Int).AddOverflow(cur.ReserveB, amountB)
		if overflowA || overflowB {
			return domain.ErrOverflow
		}

		s := settle.New(p.cfg.Payments, nil, p.cfg.Metrics, p.logger)
		if err := s.Transfer(ctx, "deposit a", p.cfg.TokenA, provider, p.cfg.Venue, amountA); err != nil {
			return err
		}
		if err := s.Transfer(ctx, "deposit b", p.cfg.TokenB, provider, p.cfg.Venue, amountB); err != nil {
			s.Rollback(ctx)
			return err
		}
		p.setReserves(nextA, nextB)
		res = p.Reserves()
		return nil
	})
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("exchange: add liquidity: %w", err)
	}

	p.logger.InfoContext(ctx, "liquidity added",
		slog.String("amount_a", amountA.Dec()),
		slog.String("amount_b", amountB.Dec()),
	)
	p.cfg.Events.Emit(ctx, domain.NewEvent(domain.EventLiquidityAdded, p.key, p.cfg.Now(), liquidityAttrs(provider, amountA, amountB, res)))
	return res, nil
}

// RemoveLiquidity withdraws both amounts from the pool to provider.
func (p *Pool) RemoveLiquidity(ctx context.Context, amountA, amountB *uint256.Int, provider common.Address) (res domain.Reserves, err error) {
	defer p.observe("remove_liquidity", time.Now(), &err)
	if err := p.checkLiquidityArgs(amountA, amountB, provider); err != nil {
		return domain.Reserves{}, fmt.Errorf("exchange: remove liquidity: %w", err)
	}

	err = p.cfg.Guard.Do(ctx, p.key, func(ctx context.Context) error {
		cur := p.Reserves()
		if cur.ReserveA.Lt(amountA) || cur.ReserveB.Lt(amountB) {
			return domain.ErrInsufficientLiquidity
		}

		s := settle.New(p.cfg.Payments, nil, p.cfg.Metrics, p.logger)
		if err := s.Transfer(ctx, "withdraw a", p.cfg.TokenA, p.cfg.Venue, provider, amountA); err != nil {
			return err
		}
		if err := s.Transfer(ctx, "withdraw b", p.cfg.TokenB, p.cfg.Venue, provider, amountB); err != nil {
			s.Rollback(ctx)
			return err
		}
		p.setReserves(
			new(uint256.Int).Sub(cur.ReserveA, amountA),
			new(uint256.Int).Sub(cur.ReserveB, amountB),
		)
		res = p.Reserves()
		return nil
	})
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("exchange: remove liquidity: %w", err)
	}

	p.logger.InfoContext(ctx, "liquidity removed",
		slog.String("amount_a", amountA.Dec()),
		slog.String("amount_b", amountB.Dec()),
	)
	p.cfg.Events.Emit(ctx, domain.NewEvent(domain.EventLiquidityRemoved, p.key, p.cfg.Now(), liquidityAttrs(provider, amountA, amountB, res)))
	return res, nil
}

func (p *Pool) checkLiquidityArgs(amountA, amountB *uint256.Int, provider common.Address) error {
	if amountA == nil || amountB == nil || amountA.IsZero() || amountB.IsZero() {
		return domain.ErrInvalidAmount
	}
	if provider != p.cfg.Operator {
		return domain.ErrUnauthorized
	}
	return nil
}

// Quote prices a swap of amountIn of tokenIn for trader against the current
// reserves without executing it.
func (p *Pool) Quote(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, trader common.Address) (domain.Quote, error) {
	if err := p.checkSwapArgs(tokenIn, amountIn); err != nil {
		return domain.Quote{}, fmt.Errorf("exchange: quote: %w", err)
	}
	q, err := p.quote(ctx, tokenIn, amountIn, trader)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("exchange: quote: %w", err)
	}
	return q, nil
}

// Swap exchanges amountIn of tokenIn for the other token of the pair.
func (p *Pool) Swap(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, trader common.Address) (domain.Quote, error) {
	return p.SwapWithLimit(ctx, tokenIn, amountIn, nil, trader)
}

// SwapWithLimit is Swap that fails with ErrSlippage when the output would be
// below minOut. A nil minOut disables the check.
func (p *Pool) SwapWithLimit(ctx context.Context, tokenIn common.Address, amountIn, minOut *uint256.Int, trader common.Address) (q domain.Quote, err error) {
	defer p.observe("swap", time.Now(), &err)
	if err := p.checkSwapArgs(tokenIn, amountIn); err != nil {
		return domain.Quote{}, fmt.Errorf("exchange: swap: %w", err)
	}

	var at time.Time
	err = p.cfg.Guard.Do(ctx, p.key, func(ctx context.Context) error {
		var err error
		if q, err = p.quote(ctx, tokenIn, amountIn, trader); err != nil {
			return err
		}
		if minOut != nil && q.AmountOut.Lt(minOut) {
			return domain.ErrSlippage
		}

		cur := p.Reserves()
		rin, rout := cur.ReserveA, cur.ReserveB
		if tokenIn == p.cfg.TokenB {
			rin, rout = rout, rin
		}
		nextIn, overflow := new(uint256.Int).AddOverflow(rin, amountIn)
		if overflow {
			return domain.ErrOverflow
		}
		nextOut := new(uint256.Int).Sub(rout, q.AmountOut)

		s := settle.New(p.cfg.Payments, nil, p.cfg.Metrics, p.logger)
		if err := s.Transfer(ctx, "pull input", tokenIn, trader, p.cfg.Venue, amountIn); err != nil {
			return err
		}
		if err := s.Transfer(ctx, "pay output", q.TokenOut, p.cfg.Venue, trader, q.AmountOut); err != nil {
			s.Rollback(ctx)
			return err
		}
		at = p.cfg.Now()
		if _, err := p.cfg.Ledger.Record(ctx, domain.Token(tokenIn), amountIn, at); err != nil {
			s.Rollback(ctx)
			return err
		}

		if tokenIn == p.cfg.TokenA {
			p.setReserves(nextIn, nextOut)
		} else {
			p.setReserves(nextOut, nextIn)
		}
		return nil
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("exchange: swap: %w", err)
	}

	p.logger.InfoContext(ctx, "swap executed",
		slog.String("trader", trader.Hex()),
		slog.String("token_in", tokenIn.Hex()),
		slog.String("amount_in", amountIn.Dec()),
		slog.String("amount_out", q.AmountOut.Dec()),
		slog.Int("rate_bps", int(q.RateBps)),
	)
	p.cfg.Events.Emit(ctx, domain.NewEvent(domain.EventSwapExecuted, p.key, at, map[string]string{
		"trader":     trader.Hex(),
		"token_in":   tokenIn.Hex(),
		"token_out":  q.TokenOut.Hex(),
		"amount_in":  amountIn.Dec(),
		"net_in":     q.NetIn.Dec(),
		"amount_out": q.AmountOut.Dec(),
		"tier":       q.Tier.String(),
		"rate_bps":   strconv.Itoa(int(q.RateBps)),
	}))
	return q, nil
}

func (p *Pool) checkSwapArgs(tokenIn common.Address, amountIn *uint256.Int) error {
	if tokenIn != p.cfg.TokenA && tokenIn != p.cfg.TokenB {
		return domain.ErrInvalidToken
	}
	if amountIn == nil || amountIn.IsZero() {
		return domain.ErrInvalidAmount
	}
	return nil
}

func (p *Pool) quote(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, trader common.Address) (domain.Quote, error) {
	tier, rate, err := p.cfg.Fees.Resolve(ctx, p.cfg.Tiers, trader)
	if err != nil {
		return domain.Quote{}, err
	}

	cur := p.Reserves()
	rin, rout, tokenOut := cur.ReserveA, cur.ReserveB, p.cfg.TokenB
	if tokenIn == p.cfg.TokenB {
		rin, rout, tokenOut = cur.ReserveB, cur.ReserveA, p.cfg.TokenA
	}
	net, out, err := AmountOut(amountIn, rin, rout, rate)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(uint256.Int).Set(amountIn),
		NetIn:     net,
		AmountOut: out,
		Tier:      tier,
		RateBps:   rate,
	}, nil
}

// AmountOut applies the constant-product formula to amountIn after taking a
// fee of rate basis points from it:
//
//	net = amountIn * (10000 - rate) / 10000
//	out = net * reserveOut / (reserveIn + net)
//
// It fails with ErrInsufficientLiquidity when out is zero or would drain
// reserveOut.
func AmountOut(amountIn, reserveIn, reserveOut *uint256.Int, rate uint16) (net, out *uint256.Int, err error) {
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, nil, domain.ErrInsufficientLiquidity
	}
	net = fee.NetOf(amountIn, rate)
	denom, overflow := new(uint256.Int).AddOverflow(reserveIn, net)
	if overflow {
		return nil, nil, domain.ErrOverflow
	}
	out, _ = new(uint256.Int).MulDivOverflow(net, reserveOut, denom)
	if out.IsZero() || !out.Lt(reserveOut) {
		return nil, nil, domain.ErrInsufficientLiquidity
	}
	return net, out, nil
}

func (p *Pool) observe(op string, started time.Time, err *error) {
	p.cfg.Metrics.ObserveOp("exchange", op, started, *err)
}

func liquidityAttrs(provider common.Address, amountA, amountB *uint256.Int, res domain.Reserves) map[string]string {
	return map[string]string{
		"provider":  provider.Hex(),
		"amount_a":  amountA.Dec(),
		"amount_b":  amountB.Dec(),
		"reserve_a": res.ReserveA.Dec(),
		"reserve_b": res.ReserveB.Dec(),
	}
}

func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
