package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chatrelay/internal/api"
	"chatrelay/internal/commands"
	"chatrelay/internal/config"
	"chatrelay/internal/engine"
	"chatrelay/internal/ingest"
	"chatrelay/internal/logging"
	"chatrelay/internal/metrics"
	"chatrelay/internal/model"
	"chatrelay/internal/monetization"
	"chatrelay/internal/queue"
	"chatrelay/internal/router"
	"chatrelay/internal/session"
	"chatrelay/internal/spam"
	"chatrelay/internal/storage"
)

const (
	configPollInterval = 3 * time.Second
	pruneInterval      = time.Minute
	eventBuffer        = 1024
)

func newServeCommand(configFlag, envFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest adapters, router, display queue and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(*envFlag); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configFlag)
		},
	}
}

// loadEnvFile applies a dotenv file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func openConfig(path string) (*config.Manager, error) {
	if strings.TrimSpace(path) == "" {
		return config.NewStaticManager(nil), nil
	}
	mgr, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return mgr, nil
}

func runServe(parent context.Context, configPath string) error {
	mgr, err := openConfig(configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logConfigWarnings(logger, cfg)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		logger.Info("viewer registry enabled", "driver", cfg.Storage.Driver, "session", cfg.Storage.SessionID)
	}

	stats := metrics.NewStore()
	history := queue.NewHistory(cfg.Queue.HistoryLimit)
	display := queue.New(queue.Options{
		Capacity: cfg.Queue.Capacity,
		History:  history,
		Depth:    stats,
		Logger:   logger,
	})
	var sink queue.Sink = queue.LogSink{Logger: logging.Component(logger, "display")}
	if cfg.Queue.Webhook.Enabled {
		sink = queue.NewWebhookSink(cfg.Queue.Webhook, logger)
		logger.Info("display webhook enabled", "url", cfg.Queue.Webhook.URL)
	}
	go display.Run(ctx, sink)

	lifecycle := session.NewLifecycle()
	markPushPlatforms(lifecycle, cfg, time.Now())
	tracker := session.NewTracker(store, cfg.Storage.SessionID, logger)
	exit := session.NewGracefulExit(cfg.GracefulExit.Enabled.Value, cfg.GracefulExit.MessageThreshold.Value, func() {
		logger.Info("graceful exit threshold reached, shutting down")
		cancel()
	})

	registry := commands.NewRegistry(cfg.Commands)
	guards := engine.NewGuards(cfg)
	guards.Cooldown.MarkHeavy(registry.HeavyCommands()...)

	detector := spam.NewDetector(spam.ProfileFromConfig(cfg), spam.Options{
		Logger:          logger,
		CleanupInterval: time.Duration(cfg.Spam.CleanupInterval.Value) * time.Second,
		MaxTrackedUsers: cfg.Spam.MaxTrackedUsers.Value,
	})
	defer detector.Destroy()

	r := router.New(cfg, router.Dependencies{
		Logger:       logger,
		Queue:        display,
		VFX:          registry,
		Parser:       registry,
		Cooldown:     guards.Cooldown,
		Tracker:      tracker,
		Lifecycle:    lifecycle,
		Monetization: monetization.NewDetector(cfg.Monetization.Keywords),
		GracefulExit: exit,
		Spam:         detector,
		Dedupe:       guards.Dedupe,
		Ignore:       guards,
		Metrics:      stats,
	})
	detector.SetOnAggregatedDonation(r.EnqueueAggregated)

	apply := func(next *config.Config) {
		r.UpdateConfig(next)
		detector.UpdateProfile(spam.ProfileFromConfig(next))
		registry.Update(next.Commands)
		guards.Apply(next, registry.HeavyCommands()...)
	}
	if mgr.Path() != "" {
		go mgr.Watch(configPollInterval, func(next *config.Config) {
			logger.Info("config reloaded", "path", mgr.Path())
			logConfigWarnings(logger, next)
			apply(next)
		}, func(err error) {
			logger.Warn("config reload failed", "path", mgr.Path(), "err", err)
		}, ctx.Done())
	}
	go pruneLoop(ctx, guards)

	events := make(chan ingest.Envelope, eventBuffer)
	pipeline := ingest.NewPipeline(r, stats, logger)

	ingest.StartREST(ctx, mgr, events, logger)
	ingest.StartTCPStream(ctx, mgr, events, logger)
	ingest.StartFileTail(ctx, mgr, events, logger)
	ingest.StartKafka(ctx, mgr, events, logger)
	ingest.StartTwitchIRC(ctx, mgr, events, lifecycle, logger)

	api.Start(ctx, mgr, api.Deps{
		Metrics:        stats,
		Queue:          display,
		History:        history,
		Spam:           detector,
		Tracker:        tracker,
		Platforms:      lifecycle,
		Cooldown:       guards,
		OnConfigUpdate: apply,
	}, logger, version)

	logger.Info("chatrelay started", "version", version, "config", mgr.Path())
	pipeline.Run(ctx, events)
	logger.Info("chatrelay stopping")
	return nil
}

// markPushPlatforms stamps a connection time for platforms that deliver
// through push adapters, which have no connect event of their own. Twitch is
// stamped by the IRC adapter when that adapter is enabled.
func markPushPlatforms(lifecycle *session.Lifecycle, cfg *config.Config, now time.Time) {
	platforms := []model.Platform{model.PlatformYouTube, model.PlatformTikTok}
	if !cfg.Ingest.TwitchIRC.Enabled {
		platforms = append(platforms, model.PlatformTwitch)
	}
	for _, p := range platforms {
		lifecycle.MarkConnected(p, now)
	}
}

func pruneLoop(ctx context.Context, guards *engine.Guards) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			guards.Prune(now)
		}
	}
}

func logConfigWarnings(logger *slog.Logger, cfg *config.Config) {
	for _, w := range cfg.Warnings {
		logger.Warn("config value ignored", "detail", w)
	}
}
