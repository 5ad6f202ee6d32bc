package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/addrselect/config"
	"github.com/angeloszaimis/addrselect/internal/handler"
	"github.com/angeloszaimis/addrselect/internal/httpserver"
	"github.com/angeloszaimis/addrselect/internal/metrics"
	"github.com/angeloszaimis/addrselect/internal/selector"
	"github.com/angeloszaimis/addrselect/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.Any("err", err))
	}

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("failed to parse flags", slog.Any("err", err))
		os.Exit(2)
	}

	cfg, err := config.Load("", flags)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log, level := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, log)

	sel, err := createSelector(log, cfg, collector)
	if err != nil {
		log.Error("Failed to create selector",
			slog.String("algorithm", cfg.Selector.Algorithm),
			slog.Any("err", err))
		os.Exit(1)
	}

	added, _ := selector.Sync(sel, cfg.Addresses())
	log.Info("Registered endpoints", slog.Int("count", added))

	pool, _ := sel.(metrics.PoolSource)
	exporter := metrics.NewExporter(collector, pool)
	selectorHandler := handler.NewSelectorHandler(log, sel)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(selectorHandler, collector, exporter, cfg.Selector.Algorithm))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return collector.Run(gctx)
	})
	g.Go(func() error {
		log.Info("Control plane listening", slog.String("address", cfg.Server.Address))
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return cfg.Watch(gctx, log, func(next *config.Config) {
			applyConfig(log, level, sel, next)
		})
	})

	if err := g.Wait(); err != nil {
		log.Error("Selector service stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("Shut down gracefully")
}

func createSelector(log *slog.Logger, cfg *config.Config, sink selector.EventSink) (selector.Selector, error) {
	return selector.New(cfg.Selector.Algorithm, cfg.Selector.Options(),
		selector.WithLogger(log.With(slog.String("component", "selector"))),
		selector.WithEventSink(sink),
	)
}

// applyConfig applies the reloadable parts of a new config revision: the
// log level and the endpoint pool. Selector tuning needs a restart.
func applyConfig(log *slog.Logger, level *slog.LevelVar, sel selector.Selector, cfg *config.Config) {
	level.Set(logger.ParseLevel(cfg.Logging.Level))

	added, removed := selector.Sync(sel, cfg.Addresses())
	log.Info("Endpoint pool reloaded",
		slog.Int("added", added),
		slog.Int("removed", removed))
}
