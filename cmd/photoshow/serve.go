package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xmx0632/photoshow/config"
	gatewayhttp "github.com/xmx0632/photoshow/gateway/http"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var validateOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gallery API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := setupLogger(os.Stdout, cfg.Log)
			if validateOnly {
				logger.Info("Configuration is valid")
				return nil
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting photoshow",
		"version", Version,
		"build_time", BuildTime,
		"cache_backend", cfg.Cache.Backend,
		"addr", cfg.Server.Addr)

	c, err := newCore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.close(closeCtx)
	}()

	srv, err := newServer(ctx, c)
	if err != nil {
		return err
	}

	api, err := gatewayhttp.NewServer(cfg.Server, srv.gallery, srv.monitor, c.registry, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.refresher.Run(gctx)
		return nil
	})
	g.Go(func() error { return api.Start(gctx) })

	err = g.Wait()
	srv.refresher.Wait()
	logger.Info("photoshow stopped")
	return err
}
