package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/omochice/wsecho/internal/config"
	"github.com/omochice/wsecho/internal/logger"
	"github.com/omochice/wsecho/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse("wsecho-server", os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := logger.Init(cfg.Level(), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Global().Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", err)
		}
	}()

	srv := server.New(cfg.Addr(),
		server.WithLogger(logger.Global().WithPrefix("server")),
		server.WithLimits(cfg.Limits()),
		server.WithReusePort(cfg.ReusePort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting WebSocket echo server on %s", cfg.Addr())
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		srv.Stop()
		return nil
	})

	// Start returns nil only once the watcher has called Stop.
	if err := g.Wait(); err != nil {
		logger.Error("Server error: %v", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}
