package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"dattas/internal/app"
	"dattas/internal/platform/config"
	"dattas/internal/platform/httpserver"
	"dattas/internal/platform/logger"
)

// main loads configuration, wires the registry and serves it until SIGINT
// or SIGTERM. Business logic lives in internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	a, err := app.Build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close backends", "error", err)
		}
	}()

	relay, err := a.Relay(ctx)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Server.Addr, a.NewRouter(prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting dattas", "addr", cfg.Server.Addr, "backend", cfg.Storage.Backend)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	if relay != nil {
		g.Go(func() error {
			log.Info("starting event relay", "topic", cfg.Kafka.Topic)
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
