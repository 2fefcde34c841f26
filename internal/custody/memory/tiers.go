package memory

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Tiers is a static tier table. Unknown accounts are TierBase.
type Tiers struct {
	mu    sync.RWMutex
	tiers map[common.Address]domain.Tier
}

// NewTiers returns an empty table.
func NewTiers() *Tiers {
	return &Tiers{tiers: make(map[common.Address]domain.Tier)}
}

// Set classifies account.
func (t *Tiers) Set(account common.Address, tier domain.Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiers[account] = tier
}

// TierOf implements domain.TierOracle.
func (t *Tiers) TierOf(_ context.Context, account common.Address) (domain.Tier, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tiers[account], nil
}

var _ domain.TierOracle = (*Tiers)(nil)
