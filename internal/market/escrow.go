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
)

// Escrow is the fixed-price sale engine.
type Escrow struct {
	d      Deps
	logger *slog.Logger

	mu       sync.RWMutex
	listings map[domain.AssetID]domain.Listing
}

// NewEscrow creates an Escrow with no listings.
func NewEscrow(d Deps) (*Escrow, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &Escrow{
		d:        d,
		logger:   d.Logger.With(slog.String("component", "escrow")),
		listings: make(map[domain.AssetID]domain.Listing),
	}, nil
}

// Listing returns a copy of the active listing for asset.
func (e *Escrow) Listing(asset domain.AssetID) (domain.Listing, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listings[asset]
	if !ok {
		return domain.Listing{}, false
	}
	return l.Clone(), true
}

// Listings returns every active listing ordered by asset.
func (e *Escrow) Listings() []domain.Listing {
	e.mu.RLock()
	out := make([]domain.Listing, 0, len(e.listings))
	for _, l := range e.listings {
		out = append(out, l.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// List takes asset into escrow and offers it at price.
func (e *Escrow) List(ctx context.Context, asset domain.AssetID, price *uint256.Int, seller common.Address) (listing domain.Listing, err error) {
	defer e.d.observe("escrow", "list", time.Now(), &err)
	if price == nil || price.IsZero() {
		return domain.Listing{}, fmt.Errorf("escrow: list %s: %w", asset, domain.ErrInvalidPrice)
	}

	err = e.d.Guard.Do(ctx, guard.ListingKey(asset), func(ctx context.Context) error {
		if _, ok := e.Listing(asset); ok {
			return domain.ErrAlreadyListed
		}
		if err := e.d.checkCustody(ctx, asset, seller); err != nil {
			return err
		}

		s := e.d.saga(e.logger)
		if err := s.MoveAsset(ctx, "escrow asset", asset, seller, e.d.Venue); err != nil {
			return err
		}

		listing = domain.Listing{
			Asset:    asset,
			Seller:   seller,
			Price:    new(uint256.Int).Set(price),
			ListedAt: e.d.Now(),
		}
		e.mu.Lock()
		e.listings[asset] = listing
		e.mu.Unlock()
		return nil
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("escrow: list %s: %w", asset, err)
	}

	e.logger.InfoContext(ctx, "listing created",
		slog.String("asset", asset.String()),
		slog.String("seller", seller.Hex()),
		slog.String("price", price.Dec()),
	)
	e.d.Events.Emit(ctx, domain.NewEvent(domain.EventListingCreated, asset.String(), listing.ListedAt, map[string]string{
		"seller": seller.Hex(),
		"price":  price.Dec(),
	}))
	return listing.Clone(), nil
}

// Delist returns the asset to its seller.
func (e *Escrow) Delist(ctx context.Context, asset domain.AssetID, caller common.Address) (err error) {
	defer e.d.observe("escrow", "delist", time.Now(), &err)

	var listing domain.Listing
	err = e.d.Guard.Do(ctx, guard.ListingKey(asset), func(ctx context.Context) error {
		var ok bool
		if listing, ok = e.Listing(asset); !ok {
			return domain.ErrNotListed
		}
		if caller != listing.Seller {
			return domain.ErrNotSeller
		}

		s := e.d.saga(e.logger)
		if err := s.MoveAsset(ctx, "return asset", asset, e.d.Venue, listing.Seller); err != nil {
			return err
		}

		e.mu.Lock()
		delete(e.listings, asset)
		e.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("escrow: delist %s: %w", asset, err)
	}

	e.logger.InfoContext(ctx, "listing removed", slog.String("asset", asset.String()))
	e.d.Events.Emit(ctx, domain.NewEvent(domain.EventListingRemoved, asset.String(), e.d.Now(), map[string]string{
		"seller": listing.Seller.Hex(),
	}))
	return nil
}

// Buy settles the listing for buyer. The buyer pays price plus the fee for
// their tier; the fee goes to the collector, the price to the seller and
// the asset to the buyer. Any collaborator failure undoes every step
// already taken and leaves the listing in place.
func (e *Escrow) Buy(ctx context.Context, asset domain.AssetID, buyer common.Address) (st domain.Settlement, err error) {
	defer e.d.observe("escrow", "buy", time.Now(), &err)

	var rec domain.TradeRecord
	err = e.d.Guard.Do(ctx, guard.ListingKey(asset), func(ctx context.Context) error {
		listing, ok := e.Listing(asset)
		if !ok {
			return domain.ErrNotListed
		}

		tier, rate, err := e.d.Fees.Resolve(ctx, e.d.Tiers, buyer)
		if err != nil {
			return err
		}
		feeAmt, total, err := fee.OnTop(listing.Price, rate)
		if err != nil {
			return err
		}
		collector := e.d.Fees.Collector()
		token := e.d.PaymentToken

		s := e.d.saga(e.logger)
		steps := []func() error{
			func() error { return s.Transfer(ctx, "collect total", token, buyer, e.d.Venue, total) },
			func() error { return s.Transfer(ctx, "forward fee", token, e.d.Venue, collector, feeAmt) },
			func() error { return s.Transfer(ctx, "pay seller", token, e.d.Venue, listing.Seller, listing.Price) },
			func() error { return s.MoveAsset(ctx, "deliver asset", asset, e.d.Venue, buyer) },
			func() error {
				r, err := e.d.Ledger.Record(ctx, asset, listing.Price, e.d.Now())
				rec = r
				return err
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				s.Rollback(ctx)
				return err
			}
		}

		e.mu.Lock()
		delete(e.listings, asset)
		e.mu.Unlock()

		st = domain.Settlement{
			Asset:   asset,
			Seller:  listing.Seller,
			Buyer:   buyer,
			Price:   listing.Price,
			Fee:     feeAmt,
			Total:   total,
			Tier:    tier,
			RateBps: rate,
		}
		return nil
	})
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("escrow: buy %s: %w", asset, err)
	}

	e.logger.InfoContext(ctx, "purchase completed",
		slog.String("asset", asset.String()),
		slog.String("buyer", buyer.Hex()),
		slog.String("price", st.Price.Dec()),
		slog.String("fee", st.Fee.Dec()),
		slog.Uint64("trade_seq", rec.Seq),
	)
	e.d.Events.Emit(ctx, domain.NewEvent(domain.EventPurchaseCompleted, asset.String(), rec.Timestamp, settlementAttrs(st)))
	return st, nil
}

func settlementAttrs(st domain.Settlement) map[string]string {
	return map[string]string{
		"seller":   st.Seller.Hex(),
		"buyer":    st.Buyer.Hex(),
		"price":    st.Price.Dec(),
		"fee":      st.Fee.Dec(),
		"total":    st.Total.Dec(),
		"tier":     st.Tier.String(),
		"rate_bps": strconv.Itoa(int(st.RateBps)),
	}
}
