package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// EndDue closes every auction whose end time has passed, acting as the
// venue. It returns how many closed. An auction another caller closed first
// is skipped; any other failure leaves that auction in place for the next
// sweep.
func (a *Auctions) EndDue(ctx context.Context) int {
	closed := 0
	for _, asset := range a.Due(a.d.Now()) {
		if ctx.Err() != nil {
			break
		}
		_, err := a.End(ctx, asset, a.d.Venue)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, domain.ErrAuctionNotActive):
		default:
			a.logger.WarnContext(ctx, "auto-end failed",
				slog.String("asset", asset.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return closed
}

// RunAutoEnd calls EndDue once per interval until ctx is cancelled.
func (a *Auctions) RunAutoEnd(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := a.EndDue(ctx); n > 0 {
				a.logger.InfoContext(ctx, "auctions auto-ended", slog.Int("count", n))
			}
		}
	}
}
