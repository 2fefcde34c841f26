package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/fee"
	"github.com/alanyoungcy/tradevenue/internal/guard"
	"github.com/alanyoungcy/tradevenue/internal/settle"
)

// Auctions is the English auction engine. An auction moves from creation
// through bidding to End, which removes it whether or not it sold.
type Auctions struct {
	d      Deps
	logger *slog.Logger

	mu       sync.RWMutex
	auctions map[domain.AssetID]domain.Auction
}

// NewAuctions creates an engine with no running auctions.
func NewAuctions(d Deps) (*Auctions, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &Auctions{
		d:        d,
		logger:   d.Logger.With(slog.String("component", "auctions")),
		auctions: make(map[domain.AssetID]domain.Auction),
	}, nil
}

// Auction returns a consistent copy of the active auction for asset.
func (a *Auctions) Auction(asset domain.AssetID) (domain.Auction, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	au, ok := a.auctions[asset]
	if !ok {
		return domain.Auction{}, false
	}
	return au.Clone(), true
}

// Active returns every running auction ordered by end time.
func (a *Auctions) Active() []domain.Auction {
	a.mu.RLock()
	out := make([]domain.Auction, 0, len(a.auctions))
	for _, au := range a.auctions {
		out = append(out, au.Clone())
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out
}

// Due returns the assets whose auctions have reached their end time.
func (a *Auctions) Due(now time.Time) []domain.AssetID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []domain.AssetID
	for asset, au := range a.auctions {
		if !now.Before(au.EndTime) {
			out = append(out, asset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *Auctions) put(au domain.Auction) {
	a.mu.Lock()
	a.auctions[au.Asset] = au
	a.mu.Unlock()
}

// Create escrows asset and opens an auction ending duration from now.
func (a *Auctions) Create(ctx context.Context, asset domain.AssetID, startPrice *uint256.Int, duration time.Duration, seller common.Address) (au domain.Auction, err error) {
	defer a.d.observe("auctions", "create", time.Now(), &err)
	if startPrice == nil || startPrice.IsZero() {
		return domain.Auction{}, fmt.Errorf("auctions: create %s: %w", asset, domain.ErrInvalidStartPrice)
	}
	if duration <= 0 {
		return domain.Auction{}, fmt.Errorf("auctions: create %s: %w", asset, domain.ErrInvalidDuration)
	}

	err = a.d.Guard.Do(ctx, guard.AuctionKey(asset), func(ctx context.Context) error {
		if _, ok := a.Auction(asset); ok {
			return domain.ErrAuctionExists
		}
		if err := a.d.checkCustody(ctx, asset, seller); err != nil {
			return err
		}
		s := a.d.saga(a.logger)
		if err := s.MoveAsset(ctx, "escrow asset", asset, seller, a.d.Venue); err != nil {
			return err
		}

		now := a.d.Now()
		au = domain.Auction{
			Asset:      asset,
			Seller:     seller,
			StartPrice: new(uint256.Int).Set(startPrice),
			HighestBid: new(uint256.Int),
			StartedAt:  now,
			EndTime:    now.Add(duration),
		}
		a.put(au)
		return nil
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auctions: create %s: %w", asset, err)
	}

	a.logger.InfoContext(ctx, "auction created",
		slog.String("asset", asset.String()),
		slog.String("seller", seller.Hex()),
		slog.String("start_price", startPrice.Dec()),
		slog.Time("end_time", au.EndTime),
	)
	a.d.Events.Emit(ctx, domain.NewEvent(domain.EventAuctionCreated, asset.String(), au.StartedAt, map[string]string{
		"seller":      seller.Hex(),
		"start_price": startPrice.Dec(),
		"end_time":    au.EndTime.UTC().Format(time.RFC3339),
	}))
	return au.Clone(), nil
}

// Bid places amount for bidder. The previous highest bidder is refunded
// before the new bid is collected; if the collection fails the refund is
// undone and the auction is unchanged.
func (a *Auctions) Bid(ctx context.Context, asset domain.AssetID, amount *uint256.Int, bidder common.Address) (au domain.Auction, err error) {
	defer a.d.observe("auctions", "bid", time.Now(), &err)
	if amount == nil || amount.IsZero() {
		return domain.Auction{}, fmt.Errorf("auctions: bid %s: %w", asset, domain.ErrInvalidAmount)
	}

	err = a.d.Guard.Do(ctx, guard.AuctionKey(asset), func(ctx context.Context) error {
		cur, ok := a.Auction(asset)
		if !ok {
			return domain.ErrAuctionNotActive
		}
		if !a.d.Now().Before(cur.EndTime) {
			return domain.ErrAuctionEnded
		}
		if amount.Lt(cur.StartPrice) || !amount.Gt(cur.HighestBid) {
			return domain.ErrBidTooLow
		}

		token := a.d.PaymentToken
		s := a.d.saga(a.logger)
		if cur.HasBid() {
			if err := s.Transfer(ctx, "refund prior bid", token, a.d.Venue, *cur.HighestBidder, cur.HighestBid); err != nil {
				return err
			}
		}
		if err := s.Transfer(ctx, "collect bid", token, bidder, a.d.Venue, amount); err != nil {
			s.Rollback(ctx)
			return err
		}

		b := bidder
		cur.HighestBid = new(uint256.Int).Set(amount)
		cur.HighestBidder = &b
		cur.Bids++
		a.put(cur)
		au = cur
		return nil
	})
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auctions: bid %s: %w", asset, err)
	}

	a.logger.InfoContext(ctx, "bid placed",
		slog.String("asset", asset.String()),
		slog.String("bidder", bidder.Hex()),
		slog.String("amount", amount.Dec()),
	)
	a.d.Events.Emit(ctx, domain.NewEvent(domain.EventBidPlaced, asset.String(), a.d.Now(), map[string]string{
		"bidder": bidder.Hex(),
		"amount": amount.Dec(),
		"bids":   strconv.Itoa(au.Bids),
	}))
	return au.Clone(), nil
}

// End closes an auction whose end time has passed. With a winner, the fee
// for the winner's tier is taken out of the escrowed bid and sent to the
// collector, the rest goes to the seller and the asset to the winner. With
// no bids the asset goes back to the seller. The auction is removed in both
// cases. caller is recorded but not restricted.
func (a *Auctions) End(ctx context.Context, asset domain.AssetID, caller common.Address) (st *domain.Settlement, err error) {
	defer a.d.observe("auctions", "end", time.Now(), &err)

	var (
		cur domain.Auction
		at  time.Time
	)
	err = a.d.Guard.Do(ctx, guard.AuctionKey(asset), func(ctx context.Context) error {
		var ok bool
		if cur, ok = a.Auction(asset); !ok {
			return domain.ErrAuctionNotActive
		}
		at = a.d.Now()
		if at.Before(cur.EndTime) {
			return domain.ErrAuctionNotEnded
		}

		s := a.d.saga(a.logger)
		if !cur.HasBid() {
			if err := s.MoveAsset(ctx, "return asset", asset, a.d.Venue, cur.Seller); err != nil {
				return err
			}
		} else {
			settled, err := a.settle(ctx, s, cur, at)
			if err != nil {
				s.Rollback(ctx)
				return err
			}
			st = &settled
		}

		a.mu.Lock()
		delete(a.auctions, asset)
		a.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("auctions: end %s: %w", asset, err)
	}

	attrs := map[string]string{
		"seller": cur.Seller.Hex(),
		"caller": caller.Hex(),
		"sold":   strconv.FormatBool(st != nil),
	}
	if st != nil {
		for k, v := range settlementAttrs(*st) {
			attrs[k] = v
		}
		attrs["winner"] = st.Buyer.Hex()
	}
	a.logger.InfoContext(ctx, "auction ended",
		slog.String("asset", asset.String()),
		slog.Bool("sold", st != nil),
		slog.String("highest_bid", cur.HighestBid.Dec()),
	)
	a.d.Events.Emit(ctx, domain.NewEvent(domain.EventAuctionEnded, asset.String(), at, attrs))
	return st, nil
}

func (a *Auctions) settle(ctx context.Context, s *settle.Saga, cur domain.Auction, at time.Time) (domain.Settlement, error) {
	winner := *cur.HighestBidder
	tier, rate, err := a.d.Fees.Resolve(ctx, a.d.Tiers, winner)
	if err != nil {
		return domain.Settlement{}, err
	}
	feeAmt := fee.Of(cur.HighestBid, rate)
	proceeds := new(uint256.Int).Sub(cur.HighestBid, feeAmt)
	token := a.d.PaymentToken

	if err := s.Transfer(ctx, "forward fee", token, a.d.Venue, a.d.Fees.Collector(), feeAmt); err != nil {
		return domain.Settlement{}, err
	}
	if err := s.Transfer(ctx, "pay seller", token, a.d.Venue, cur.Seller, proceeds); err != nil {
		return domain.Settlement{}, err
	}
	if err := s.MoveAsset(ctx, "deliver asset", cur.Asset, a.d.Venue, winner); err != nil {
		return domain.Settlement{}, err
	}
	if _, err := a.d.Ledger.Record(ctx, cur.Asset, cur.HighestBid, at); err != nil {
		return domain.Settlement{}, err
	}

	return domain.Settlement{
		Asset:   cur.Asset,
		Seller:  cur.Seller,
		Buyer:   winner,
		Price:   cur.HighestBid,
		Fee:     feeAmt,
		Total:   cur.HighestBid,
		Tier:    tier,
		RateBps: rate,
	}, nil
}
