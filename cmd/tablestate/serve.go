package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-tablestate/internal/api"
	"github.com/goliatone/go-tablestate/pkg/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve table state over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	return cmd
}

// serve runs the HTTP server until ctx is done, then drains requests and
// flushes every table.
func (a *app) serve(ctx context.Context) error {
	log := logger.Component(a.log, "api")

	registry := api.NewRegistry(a.openStore, log, a.cfg.ManagerOptions()...)
	server := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: api.NewRouter(registry, api.Config{
			CORSOrigins: a.cfg.Server.CORSOrigins,
			RateLimit: api.RateLimitConfig{
				RequestsPerSecond: a.cfg.Server.RateLimit,
				Burst:             a.cfg.Server.RateBurst,
			},
			Logger: log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", server.Addr, "store", a.cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	return errors.Join(err, registry.Close())
}
