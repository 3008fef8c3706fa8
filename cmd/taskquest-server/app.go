package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"taskquest/adapters/jsonfile"
	mem "taskquest/adapters/memory"
	redisAdapter "taskquest/adapters/redis"
	sqlxAdapter "taskquest/adapters/sqlx"
	"taskquest/api/httpapi"
	"taskquest/catalog"
	"taskquest/config"
	"taskquest/core"
	"taskquest/engine"
	"taskquest/integrations/webhook"
	"taskquest/leaderboard"
	"taskquest/quest"
	"taskquest/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Service *quest.Quest
	Board   leaderboard.Board
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(_ context.Context) (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config) (quest.Store, error) {
	return setupStorage(ctx, cfg)
}

func provideCatalog(cfg *config.Config) (engine.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(cfg.Catalog.Path)
}

func provideService(hub *realtime.Hub, store quest.Store, cat engine.Catalog, logger *slog.Logger, cfg *config.Config) *quest.Quest {
	q := quest.New(
		quest.WithRealtime(hub),
		quest.WithStore(store),
		quest.WithCatalog(cat),
		quest.WithDispatchMode(engine.DispatchAsync),
		quest.WithLogger(logger),
	)
	if len(cfg.Webhooks.Endpoints) > 0 {
		sink := webhook.New(cfg.Webhooks.Endpoints)
		q.Subscribe(core.EventAchievementUnlocked, func(_ context.Context, e core.Event) {
			sink.OnEvent(e)
		})
	}
	return q
}

func provideBoard(q *quest.Quest) leaderboard.Board {
	board := leaderboard.NewSkipList()
	leaderboard.Follow(board, q)
	return board
}

func provideHandler(q *quest.Quest, board leaderboard.Board, hub *realtime.Hub, cfg *config.Config) http.Handler {
	return httpapi.NewMux(q.UnlockService, q, board, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(_ context.Context, cfg *config.Config) (quest.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis)
	case "sql":
		store, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate sql storage: %w", err)
		}
		return store, nil
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
