package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CrestLabs/coherent/config"
	"github.com/CrestLabs/coherent/core"
	"github.com/CrestLabs/coherent/provider"
	"github.com/CrestLabs/coherent/store"
)

const (
	providerHostVar = "COHERENT_PROVIDER_HOST"
	providerKeyVar  = "COHERENT_PROVIDER_KEY"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML config file (optional)")
		dataDir    = flag.String("data", "coherent-data", "directory for the persistent store")
		insecure   = flag.Bool("insecure", false, "skip TLS verification against the provider")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	if err := run(logger, *configPath, *dataDir, *insecure); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, dataDir string, insecure bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	host := os.Getenv(providerHostVar)
	key := os.Getenv(providerKeyVar)
	if host == "" || key == "" {
		return errors.New(providerHostVar + " and " + providerKeyVar + " must be set")
	}

	remote, err := provider.NewClient(&provider.Config{
		HostPort:           host,
		APIKey:             key,
		SkipVerify:         insecure,
		Logger:             logger,
		ModerationLogRate:  cfg.Filter.LogRatePerSec,
		ModerationLogBurst: cfg.Filter.LogBurst,
	})
	if err != nil {
		return err
	}

	backing, err := store.New(store.Config{
		Logger:    logger,
		Directory: dataDir,
	})
	if err != nil {
		return err
	}

	c, err := core.New(cfg, logger, core.Deps{
		Store:  backing,
		Remote: remote,
		Terms:  remote,
		Log:    remote,
	})
	if err != nil {
		backing.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Follow term-list pushes so moderation picks up new versions without
	// waiting for the cache TTL. Reconnect with a small pause until the
	// daemon stops.
	go func() {
		for {
			err := remote.SubscribeTermListUpdates(ctx, c.Filter().InvalidateTerms)
			if ctx.Err() != nil {
				return
			}
			logger.Warn("term-list stream dropped, reconnecting", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("coherent daemon running", "data", dataDir, "provider", host)
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return c.Close(shutdownCtx)
}
