package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custody is the trusted registry of non-fungible asset ownership.
type Custody interface {
	// OwnerOf returns the current custodian of asset.
	OwnerOf(ctx context.Context, asset AssetID) (common.Address, error)
	// IsApprovedForAll reports whether owner has authorized operator to move
	// its assets.
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	// MoveAsset transfers custody. It fails with ErrNotCustodian when from
	// does not hold the asset.
	MoveAsset(ctx context.Context, asset AssetID, from, to common.Address) error
}

// Payments moves fungible balances on behalf of the venue.
type Payments interface {
	// Transfer moves amount of token. Transfers out of an account other than
	// the venue's own are bounded by the allowance granted to the venue and
	// fail with ErrInsufficientBalance or ErrInsufficientAllowance.
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	// Reverse undoes a Transfer(token, from, to, amount) that the venue
	// applied earlier in the same operation. No allowance applies.
	Reverse(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error)
}

// TierOracle classifies callers. Results must be immediately consistent with
// recent trading activity.
type TierOracle interface {
	TierOf(ctx context.Context, account common.Address) (Tier, error)
}
