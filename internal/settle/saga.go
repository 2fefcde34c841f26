// Package settle runs the collaborator side of an engine operation as a
// sequence of steps, each paired with the step that undoes it. When a later
// step fails, the completed ones are undone newest first, leaving balances
// and custody as they were before the operation.
package settle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/observability"
)

type undo struct {
	name string
	fn   func(ctx context.Context) error
}

// Saga is single-use and not safe for concurrent use; engines create one
// per operation while holding the resource guard.
type Saga struct {
	payments domain.Payments
	custody  domain.Custody
	metrics  *observability.Metrics
	logger   *slog.Logger
	done     []undo
}

// New starts an empty saga. Either collaborator may be nil when the
// operation does not use it.
func New(payments domain.Payments, custody domain.Custody, metrics *observability.Metrics, logger *slog.Logger) *Saga {
	return &Saga{
		payments: payments,
		custody:  custody,
		metrics:  metrics,
		logger:   logger,
	}
}

// Transfer moves amount of token and remembers how to reverse it.
func (s *Saga) Transfer(ctx context.Context, step string, token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := s.payments.Transfer(ctx, token, from, to, amount); err != nil {
		return collaboratorErr(step, err)
	}
	amt := new(uint256.Int).Set(amount)
	s.done = append(s.done, undo{name: step, fn: func(ctx context.Context) error {
		return s.payments.Reverse(ctx, token, from, to, amt)
	}})
	return nil
}

// MoveAsset transfers custody and remembers how to move it back.
func (s *Saga) MoveAsset(ctx context.Context, step string, asset domain.AssetID, from, to common.Address) error {
	if err := s.custody.MoveAsset(ctx, asset, from, to); err != nil {
		return collaboratorErr(step, err)
	}
	s.done = append(s.done, undo{name: step, fn: func(ctx context.Context) error {
		return s.custody.MoveAsset(ctx, asset, to, from)
	}})
	return nil
}

// Rollback undoes every completed step, newest first. It runs detached from
// ctx cancellation so a cancelled caller cannot strand funds half-way.
// Failures are logged and counted; there is nothing left to unwind them.
func (s *Saga) Rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.done) - 1; i >= 0; i-- {
		u := s.done[i]
		err := u.fn(ctx)
		s.metrics.Compensated(u.name, err)
		if err != nil {
			s.logger.ErrorContext(ctx, "compensation failed",
				slog.String("step", u.name),
				slog.String("error", err.Error()),
			)
		}
	}
	s.done = nil
}

// Steps returns the number of completed, not yet undone steps.
func (s *Saga) Steps() int { return len(s.done) }

func collaboratorErr(step string, err error) error {
	return fmt.Errorf("settle: %s: %w: %w", step, domain.ErrCollaborator, err)
}
