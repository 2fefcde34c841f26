package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Exchange is the constant-product pool.
type Exchange interface {
	Reserves() domain.Reserves
	Quote(ctx context.Context, tokenIn common.Address, amountIn *uint256.Int, trader common.Address) (domain.Quote, error)
	SwapWithLimit(ctx context.Context, tokenIn common.Address, amountIn, minOut *uint256.Int, trader common.Address) (domain.Quote, error)
	AddLiquidity(ctx context.Context, amountA, amountB *uint256.Int, provider common.Address) (domain.Reserves, error)
	RemoveLiquidity(ctx context.Context, amountA, amountB *uint256.Int, provider common.Address) (domain.Reserves, error)
}

// ExchangeHandler serves the pool endpoints.
type ExchangeHandler struct {
	pool   Exchange
	logger *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(pool Exchange, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{pool: pool, logger: logHandler(logger, "exchange")}
}

type reservesView struct {
	TokenA   string `json:"token_a"`
	TokenB   string `json:"token_b"`
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
}

func toReservesView(r domain.Reserves) reservesView {
	return reservesView{
		TokenA:   r.TokenA.Hex(),
		TokenB:   r.TokenB.Hex(),
		ReserveA: dec(r.ReserveA),
		ReserveB: dec(r.ReserveB),
	}
}

type quoteView struct {
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	NetIn     string `json:"net_in"`
	AmountOut string `json:"amount_out"`
	Tier      string `json:"tier"`
	RateBps   uint16 `json:"rate_bps"`
}

func toQuoteView(q domain.Quote) quoteView {
	return quoteView{
		TokenIn:   q.TokenIn.Hex(),
		TokenOut:  q.TokenOut.Hex(),
		AmountIn:  dec(q.AmountIn),
		NetIn:     dec(q.NetIn),
		AmountOut: dec(q.AmountOut),
		Tier:      q.Tier.String(),
		RateBps:   q.RateBps,
	}
}

// GetPool returns the current reserves.
// GET /api/pool
func (h *ExchangeHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toReservesView(h.pool.Reserves()))
}

// Quote prices a swap for the caller without executing it.
// GET /api/pool/quote?token_in=0x..&amount_in=1000
func (h *ExchangeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q, err := func() (domain.Quote, error) {
		trader, err := callerOf(r)
		if err != nil {
			return domain.Quote{}, err
		}
		tokenIn, err := parseAddress(r.URL.Query().Get("token_in"))
		if err != nil {
			return domain.Quote{}, err
		}
		amountIn, err := parseAmount("amount_in", r.URL.Query().Get("amount_in"))
		if err != nil {
			return domain.Quote{}, err
		}
		return h.pool.Quote(r.Context(), tokenIn, amountIn, trader)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteView(q))
}

type swapRequest struct {
	TokenIn  string `json:"token_in"`
	AmountIn string `json:"amount_in"`
	// MinOut is optional; empty means no limit.
	MinOut string `json:"min_out,omitempty"`
}

// Swap executes a swap for the caller.
// POST /api/pool/swap
func (h *ExchangeHandler) Swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	q, err := func() (domain.Quote, error) {
		trader, err := callerOf(r)
		if err != nil {
			return domain.Quote{}, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return domain.Quote{}, err
		}
		tokenIn, err := parseAddress(req.TokenIn)
		if err != nil {
			return domain.Quote{}, err
		}
		amountIn, err := parseAmount("amount_in", req.AmountIn)
		if err != nil {
			return domain.Quote{}, err
		}
		minOut := new(uint256.Int)
		if req.MinOut != "" {
			if minOut, err = parseAmount("min_out", req.MinOut); err != nil {
				return domain.Quote{}, err
			}
		}
		return h.pool.SwapWithLimit(r.Context(), tokenIn, amountIn, minOut, trader)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteView(q))
}

type liquidityRequest struct {
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
}

// AddLiquidity deposits both tokens. Operator only.
// POST /api/pool/liquidity
func (h *ExchangeHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	h.liquidity(w, r, "add liquidity", h.pool.AddLiquidity)
}

// RemoveLiquidity withdraws both tokens. Operator only.
// POST /api/pool/liquidity/remove
func (h *ExchangeHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	h.liquidity(w, r, "remove liquidity", h.pool.RemoveLiquidity)
}

func (h *ExchangeHandler) liquidity(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, *uint256.Int, *uint256.Int, common.Address) (domain.Reserves, error),
) {
	var req liquidityRequest
	res, err := func() (domain.Reserves, error) {
		provider, err := callerOf(r)
		if err != nil {
			return domain.Reserves{}, err
		}
		if err := decodeBody(w, r, &req); err != nil {
			return domain.Reserves{}, err
		}
		a, err := parseAmount("amount_a", req.AmountA)
		if err != nil {
			return domain.Reserves{}, err
		}
		b, err := parseAmount("amount_b", req.AmountB)
		if err != nil {
			return domain.Reserves{}, err
		}
		return fn(r.Context(), a, b, provider)
	}()
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservesView(res))
}
