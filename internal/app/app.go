// Package app wires the venue together: it builds the configured backends,
// the engines on top of them and the HTTP surface, then runs the long-lived
// goroutines until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradevenue/internal/config"
	"github.com/alanyoungcy/tradevenue/internal/crypto"
	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/server"
	"github.com/alanyoungcy/tradevenue/internal/server/handler"
	"github.com/alanyoungcy/tradevenue/internal/server/middleware"
	"github.com/alanyoungcy/tradevenue/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the server and background workers, and
// blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting venue",
		slog.String("venue", a.cfg.Venue.Address),
		slog.String("log_level", a.cfg.LogLevel),
	)
	if a.cfg.Server.Enabled && a.cfg.Server.AllowUnauthenticated && a.cfg.Server.APIKey == "" && !a.cfg.Server.RequireSignatures {
		a.logger.WarnContext(ctx, "server accepts unauthenticated writes; any client may act as any caller")
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	v, err := BuildVenue(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build venue: %w", err)
	}

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if a.cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.SignalBus != nil {
			hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
				Prefix:    a.cfg.Redis.ChannelPrefix,
				StartedAt: time.Now().UTC(),
			})
			g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })
		}

		srv := server.NewServer(a.serverConfig(deps), a.handlers(deps, v), hub, a.logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if d := a.cfg.Venue.AutoEndInterval.Duration; d > 0 {
		g.Go(func() error { return v.Auctions.RunAutoEnd(ctx, d) })
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunEvery(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.After.Duration, time.Now)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return parent.Err()
}

func (a *App) serverConfig(deps *Dependencies) server.Config {
	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if a.cfg.Server.RateLimit > 0 && deps.RateLimiter != nil {
		cfg.Limiter = deps.RateLimiter
		cfg.RateLimit = a.cfg.Server.RateLimit
		cfg.RateWindow = a.cfg.Server.RateWindow.Duration
	}
	if a.cfg.Server.RequireSignatures {
		var nonces domain.NonceStore = middleware.NewLocalNonces(time.Now)
		if deps.Nonces != nil {
			nonces = deps.Nonces
		}
		cfg.Signatures = &middleware.SignatureConfig{
			Verifier: crypto.NewVerifier(a.cfg.Server.ChainID),
			Nonces:   nonces,
			MaxSkew:  a.cfg.Server.SignatureMaxSkew.Duration,
		}
	}
	return cfg
}

func (a *App) handlers(deps *Dependencies, v *Venue) server.Handlers {
	h := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Marketplace: handler.NewMarketplaceHandler(v.Escrow, a.logger),
		Auctions:    handler.NewAuctionHandler(v.Auctions, a.logger),
		Fees:        handler.NewFeeHandler(v.Tiers, a.logger, v.MarketFees, v.ExchangeFees),
		Metrics:     deps.Metrics.Handler(),
	}
	var history handler.TradeHistory
	if deps.Journal != nil {
		history = deps.Journal
	}
	h.Volume = handler.NewVolumeHandler(v.Ledger, history, time.Now, a.logger)
	if v.Pool != nil {
		h.Exchange = handler.NewExchangeHandler(v.Pool, a.logger)
	}
	return h
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
