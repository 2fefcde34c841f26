// Package market implements the escrow-backed fixed-price sale and the
// English auction. Both engines take custody of the asset for the lifetime
// of the listing or auction and settle through internal/settle so that any
// collaborator failure leaves balances and custody untouched.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
	"github.com/alanyoungcy/tradevenue/internal/fee"
	"github.com/alanyoungcy/tradevenue/internal/guard"
	"github.com/alanyoungcy/tradevenue/internal/ledger"
	"github.com/alanyoungcy/tradevenue/internal/observability"
	"github.com/alanyoungcy/tradevenue/internal/settle"
)

// Deps are the collaborators shared by Escrow and Auctions.
type Deps struct {
	// Venue is the escrow identity that holds listed assets and bids.
	Venue common.Address
	// PaymentToken is the fungible token prices and bids are paid in.
	PaymentToken common.Address

	Custody  domain.Custody
	Payments domain.Payments
	Tiers    domain.TierOracle
	Fees     *fee.Schedule
	Ledger   *ledger.Ledger
	Guard    *guard.Guard
	Events   *events.Emitter
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) validate() error {
	switch {
	case d.Venue == (common.Address{}):
		return fmt.Errorf("market: venue address: %w", domain.ErrInvalidAddress)
	case d.PaymentToken == (common.Address{}):
		return fmt.Errorf("market: payment token: %w", domain.ErrInvalidAddress)
	case d.Custody == nil || d.Payments == nil || d.Tiers == nil:
		return fmt.Errorf("market: custody, payments and tier oracle are required")
	case d.Fees == nil || d.Ledger == nil || d.Guard == nil:
		return fmt.Errorf("market: fee schedule, ledger and guard are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}

func (d *Deps) observe(engine, op string, started time.Time, err *error) {
	d.Metrics.ObserveOp(engine, op, started, *err)
}

func (d *Deps) saga(logger *slog.Logger) *settle.Saga {
	return settle.New(d.Payments, d.Custody, d.Metrics, logger)
}

// checkCustody verifies seller holds asset and has approved the venue.
func (d *Deps) checkCustody(ctx context.Context, asset domain.AssetID, seller common.Address) error {
	owner, err := d.Custody.OwnerOf(ctx, asset)
	if err != nil {
		return fmt.Errorf("owner of %s: %w: %w", asset, domain.ErrCollaborator, err)
	}
	if owner != seller {
		return domain.ErrNotOwner
	}
	ok, err := d.Custody.IsApprovedForAll(ctx, seller, d.Venue)
	if err != nil {
		return fmt.Errorf("approval of %s: %w: %w", seller.Hex(), domain.ErrCollaborator, err)
	}
	if !ok {
		return domain.ErrNotApproved
	}
	return nil
}
