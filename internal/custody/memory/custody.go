// Package memory provides in-process custody, payment and tier
// collaborators. The sandbox deployment seeds them from config; the engine
// tests use them directly.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Custody is an ownership registry with operator approvals.
type Custody struct {
	mu        sync.RWMutex
	owners    map[domain.AssetID]common.Address
	approvals map[common.Address]map[common.Address]bool
}

// NewCustody returns an empty registry.
func NewCustody() *Custody {
	return &Custody{
		owners:    make(map[domain.AssetID]common.Address),
		approvals: make(map[common.Address]map[common.Address]bool),
	}
}

// Assign records owner as the holder of asset, replacing any previous one.
func (c *Custody) Assign(asset domain.AssetID, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[asset] = owner
}

// SetApprovalForAll grants or revokes operator's right to move owner's assets.
func (c *Custody) SetApprovalForAll(owner, operator common.Address, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.approvals[owner]
	if m == nil {
		m = make(map[common.Address]bool)
		c.approvals[owner] = m
	}
	m[operator] = approved
}

// OwnerOf implements domain.Custody.
func (c *Custody) OwnerOf(_ context.Context, asset domain.AssetID) (common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[asset]
	if !ok {
		return common.Address{}, fmt.Errorf("custody: owner of %s: %w", asset, domain.ErrNotFound)
	}
	return owner, nil
}

// IsApprovedForAll implements domain.Custody.
func (c *Custody) IsApprovedForAll(_ context.Context, owner, operator common.Address) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approvals[owner][operator], nil
}

// MoveAsset implements domain.Custody.
func (c *Custody) MoveAsset(_ context.Context, asset domain.AssetID, from, to common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.owners[asset]; !ok || owner != from {
		return fmt.Errorf("custody: move %s from %s: %w", asset, from.Hex(), domain.ErrNotCustodian)
	}
	c.owners[asset] = to
	return nil
}

var _ domain.Custody = (*Custody)(nil)
