// Package main is the entrypoint for the shortlinker server: the redirect
// hot path over HTTP plus the local IPC control channel, composed from the
// cache, click-manager, reload and storage packages.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/penshort/shortlinker/internal/cache"
	"github.com/penshort/shortlinker/internal/clickmanager"
	"github.com/penshort/shortlinker/internal/config"
	"github.com/penshort/shortlinker/internal/handler"
	"github.com/penshort/shortlinker/internal/ipc"
	"github.com/penshort/shortlinker/internal/middleware"
	"github.com/penshort/shortlinker/internal/reload"
	"github.com/penshort/shortlinker/internal/runtimeconfig"
	"github.com/penshort/shortlinker/internal/server"
	"github.com/penshort/shortlinker/internal/storage"
)

const version = "0.1.0"

func main() {
	ctx := context.Background()
	startedAt := time.Now()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Single-instance guarantee: a live Ping on the control channel means
	// another process already owns this working directory.
	socketPath := cfg.IPCSocketPath
	if socketPath == "" {
		socketPath = ipc.DefaultSocketPath
	}
	if err := ipc.EnsureSingleInstance(socketPath, cfg.PIDFilePath, 2*time.Second); err != nil {
		logger.Error("startup aborted", "error", err)
		os.Exit(1)
	}

	// Initialize database
	retryCfg := storage.RetryConfig{
		MaxRetries: cfg.StorageMaxRetries,
		BaseDelay:  cfg.StorageBaseDelay,
		MaxDelay:   cfg.StorageMaxDelay,
	}
	store, err := storage.New(ctx, cfg.DatabaseURL, retryCfg)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("connected to database")

	// Runtime-config projection, populated once here and refreshed on
	// demand through the reload coordinator's Config target.
	rc := runtimeconfig.New(store.Pool())
	if err := rc.ReloadConfig(ctx); err != nil {
		logger.Warn("runtime config not loaded, using defaults", "error", err)
	}

	// Composite cache, tuned by env config with runtime-config overrides.
	cacheCfg := cache.Config{
		DefaultTTL:        secondsOverride(rc, "redirect_cache_ttl_seconds", cfg.RedirectCacheTTL),
		NegativeTTL:       secondsOverride(rc, "negative_cache_ttl_seconds", cfg.NegativeCacheTTL),
		NegativeCapacity:  rc.Int("negative_cache_capacity", int(cfg.NegativeCacheCapacity)),
		BloomCapacity:     cfg.BloomCapacity,
		BloomFalsePosRate: floatOverride(rc, "bloom_fp_rate", cfg.BloomFalsePositiveRate),
	}
	linkCache, err := cache.New(cacheCfg)
	if err != nil {
		logger.Error("failed to build cache", "error", err)
		os.Exit(1)
	}

	// Click pipeline: storage is the primary sink; a Redis WAL wrapper is
	// layered in when enabled so a flush failure survives a crash.
	var sink clickmanager.Sink = clickmanager.FlushFunc(func(ctx context.Context, updates []clickmanager.Update) error {
		converted := make([]storage.ClickUpdate, len(updates))
		for i, u := range updates {
			converted[i] = storage.ClickUpdate{Code: u.Code, Delta: u.Delta}
		}
		return store.FlushClicks(ctx, converted)
	})

	var redisClient *redis.Client
	if cfg.ClickWALEnabled && cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to parse Redis URL",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis, click WAL enabled")

		wal := clickmanager.NewRedisWAL(redisClient, "", sink)
		if err := wal.Replay(ctx); err != nil {
			logger.Warn("click WAL replay failed, entries kept for next start", "error", err)
		}
		sink = wal
	}

	clickCfg := clickmanager.Config{
		FlushInterval:         secondsOverride(rc, "click_flush_interval_seconds", cfg.ClickFlushInterval),
		MaxEntriesBeforeFlush: rc.Int("click_flush_threshold", cfg.ClickFlushThreshold),
	}
	clicks := clickmanager.New(sink, logger, clickCfg)
	go clicks.Run(ctx)

	// Reload coordinator over the catalog loader and the runtime config.
	dataLoader := reload.NewDataLoader(store, linkCache, cacheCfg.BloomFalsePosRate, logger)
	coordinator := reload.New(dataLoader, rc)

	// Warm the cache before serving; a failure leaves it cold but the
	// redirect path still works through storage fallback.
	if _, err := coordinator.Reload(ctx, reload.Data); err != nil {
		logger.Warn("initial catalog load failed, serving with cold cache", "error", err)
	}

	// IPC control channel.
	socketPath = rc.String("ipc_socket_path", socketPath)
	ipcListener, err := ipc.Listen(socketPath)
	if err != nil {
		logger.Error("failed to bind control channel", "error", err)
		os.Exit(1)
	}
	logger.Info("control channel listening", "path", socketPath)

	if err := ipc.WritePIDFile(cfg.PIDFilePath); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	}

	// Redirect handler glue.
	defaultURL := rc.String("default_redirect_url", cfg.DefaultRedirectURL)
	redirectHandler := handler.NewRedirectHandler(linkCache, store, clicks, nil, defaultURL, logger)

	healthCheckers := []handler.HealthChecker{handler.NewStorageChecker(store)}
	if redisClient != nil {
		healthCheckers = append(healthCheckers, handler.NewRedisChecker(redisClient))
	}
	healthHandler := handler.NewHealthHandler(2*time.Second, healthCheckers...)

	r := setupRouter(redirectHandler, healthHandler, cfg.MaxRequestBodySize, logger)

	// Create the server first so the IPC Shutdown command can stop it.
	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	ipcHandler := ipc.NewHandler(ipc.Deps{
		Store:     store,
		Cache:     linkCache,
		Reload:    coordinator,
		Hasher:    passwordHasher{},
		Version:   version,
		StartedAt: startedAt,
		Shutdown:  srv.Stop,
	})
	ipcServer := ipc.NewServer(ipcListener, ipcHandler, logger)
	ipcServer.IdleTimeout = cfg.IPCIdleTimeout
	go func() {
		if err := ipcServer.Serve(ctx); err != nil {
			logger.Error("control channel serve error", "error", err)
		}
	}()

	// SIGUSR1 triggers Reload{Data} on Unix; a no-op elsewhere.
	stopSignals := watchReloadSignal(ctx, coordinator, logger)

	// Shutdown funcs run LIFO: signal watcher first, then the control
	// channel, then the click loop, and a final drain of the buffer last.
	srv.OnShutdown("click buffer flush", func(ctx context.Context) error {
		clicks.Flush(ctx)
		return nil
	})
	srv.OnShutdown("click manager loop", func(ctx context.Context) error {
		clicks.Stop()
		return nil
	})
	srv.OnShutdown("control channel", func(ctx context.Context) error {
		if err := ipcServer.Close(); err != nil {
			return err
		}
		_ = os.Remove(socketPath)
		return ipc.RemovePIDFile(cfg.PIDFilePath)
	})
	srv.OnShutdown("reload signal watcher", func(ctx context.Context) error {
		stopSignals()
		return nil
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupRouter configures the chi router: health probes, then every other
// GET/HEAD path is a candidate short code.
func setupRouter(redirectHandler *handler.RedirectHandler, healthHandler *handler.HealthHandler, maxBodySize int64, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.DefaultSecurityConfig()))
	r.Use(middleware.MaxBodySize(maxBodySize))

	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)

	r.Get("/", redirectHandler.ServeHTTP)
	r.Head("/", redirectHandler.ServeHTTP)
	r.Get("/{code}", redirectHandler.ServeHTTP)
	r.Head("/{code}", redirectHandler.ServeHTTP)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

// secondsOverride lets a runtime-config integer key (in seconds) override
// an env-configured duration.
func secondsOverride(rc *runtimeconfig.Store, key string, def time.Duration) time.Duration {
	secs := rc.Int(key, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// floatOverride lets a runtime-config key override an env-configured float.
func floatOverride(rc *runtimeconfig.Store, key string, def float64) float64 {
	raw := rc.String(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
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

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
