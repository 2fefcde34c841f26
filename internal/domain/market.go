package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Listing is a fixed-price offer for one escrowed asset.
type Listing struct {
	Asset    AssetID
	Seller   common.Address
	Price    *uint256.Int
	ListedAt time.Time
}

// Auction is an English auction for one escrowed asset. HighestBidder is nil
// until the first accepted bid.
type Auction struct {
	Asset         AssetID
	Seller        common.Address
	StartPrice    *uint256.Int
	HighestBid    *uint256.Int
	HighestBidder *common.Address
	StartedAt     time.Time
	EndTime       time.Time
	Bids          int
}

// HasBid reports whether any bid has been accepted.
func (a Auction) HasBid() bool {
	return a.HighestBidder != nil
}

// Clone returns a deep copy so snapshots never alias engine state.
func (a Auction) Clone() Auction {
	out := a
	out.StartPrice = new(uint256.Int).Set(a.StartPrice)
	out.HighestBid = new(uint256.Int).Set(a.HighestBid)
	if a.HighestBidder != nil {
		b := *a.HighestBidder
		out.HighestBidder = &b
	}
	return out
}

// Clone returns a deep copy of the listing.
func (l Listing) Clone() Listing {
	out := l
	out.Price = new(uint256.Int).Set(l.Price)
	return out
}

// Reserves is a consistent snapshot of the exchange pool.
type Reserves struct {
	TokenA   common.Address
	TokenB   common.Address
	ReserveA *uint256.Int
	ReserveB *uint256.Int
}

// Quote describes the outcome of a swap before or after execution.
type Quote struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *uint256.Int
	NetIn     *uint256.Int
	AmountOut *uint256.Int
	Tier      Tier
	RateBps   uint16
}

// Settlement is the fee breakdown of a purchase or auction close.
type Settlement struct {
	Asset   AssetID
	Seller  common.Address
	Buyer   common.Address
	Price   *uint256.Int
	Fee     *uint256.Int
	Total   *uint256.Int
	Tier    Tier
	RateBps uint16
}
