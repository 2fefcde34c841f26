package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// TradeRecord is one completed exchange of value for an asset. Records are
// append-only and, per asset, chronological.
type TradeRecord struct {
	Seq       uint64       `json:"seq"`
	Asset     AssetID      `json:"asset"`
	Amount    *uint256.Int `json:"amount"`
	Timestamp time.Time    `json:"timestamp"`
}

// VolumeSnapshot is what the ledger reports for one asset.
type VolumeSnapshot struct {
	Asset  AssetID
	Total  *uint256.Int
	Recent *uint256.Int
	Trades uint64
	AsOf   time.Time
}
