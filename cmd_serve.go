package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/john/monox_bridge/bridge"
	"github.com/john/monox_bridge/printer"
	"github.com/john/monox_bridge/server"
	"github.com/john/monox_bridge/uartwifi"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll the printer and serve its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(rootConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	policy, err := cfg.UnitPolicy()
	if err != nil {
		return err
	}

	client := uartwifi.NewClient(cfg.Printer.Host, cfg.Printer.Port, cfg.Printer.Timeout)
	defer client.Close()
	adapter := printer.NewAdapter(client)

	opts := bridge.Options{
		Policy:           policy,
		NoExtras:         cfg.Printer.NoExtras,
		FailureThreshold: cfg.Printer.FailureThreshold,
	}

	log.Info().
		Str("printer", client.Addr()).
		Dur("interval", cfg.PollInterval()).
		Str("unit_policy", policy.Name()).
		Bool("no_extras", opts.NoExtras).
		Msg("monox bridge starting")

	b := bridge.New(adapter, opts)
	g, gctx := errgroup.WithContext(ctx)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(server.Config{Addr: cfg.ListenAddr()}, b)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("server shutdown")
			}
			return nil
		})
	}

	g.Go(func() error {
		return supervise(gctx, cfg.PollInterval(), cfg.Printer.SetupRetry, b, func() *bridge.Bridge {
			next := bridge.New(adapter, opts)
			if srv != nil {
				srv.Attach(next)
			}
			return next
		})
	})
	return g.Wait()
}

// supervise runs the poller for b and, each time the printer goes hard
// offline, waits retry and starts over with a fresh bridge from renew.
// It returns nil once ctx is cancelled.
func supervise(ctx context.Context, interval, retry time.Duration, b *bridge.Bridge, renew func() *bridge.Bridge) error {
	for {
		err := bridge.NewPoller(b, interval).Run(ctx)
		if err == nil || ctx.Err() != nil {
			log.Info().Msg("monox bridge stopped")
			return nil
		}
		log.Warn().Err(err).Dur("retry_in", retry).Msg("printer offline, will retry setup")

		select {
		case <-ctx.Done():
			log.Info().Msg("monox bridge stopped")
			return nil
		case <-time.After(retry):
		}
		b = renew()
	}
}
