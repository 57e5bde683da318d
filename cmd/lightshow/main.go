package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hxnx/lightshow/config"
	"github.com/hxnx/lightshow/internal/app"
	"github.com/hxnx/lightshow/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func main() {
	issueToken := flag.Duration("issue-admin-token", 0, "print an admin token valid for the given duration and exit")
	flag.Parse()

	bootLogger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	bootLogger.Info().Msg("Lightshow - queue and display controller")

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error().Err(err).Msg("failed to load configuration")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Required environment variables:")
		fmt.Fprintln(os.Stderr, "  DEVICE_URL              - base URL of the playback relay")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Optional environment variables:")
		fmt.Fprintln(os.Stderr, "  HTTP_ADDR               - listen address (default :8080)")
		fmt.Fprintln(os.Stderr, "  DB_URL                  - sqlite://path or postgres://... (default sqlite://lightshow.db)")
		fmt.Fprintln(os.Stderr, "  REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB - display counters")
		fmt.Fprintln(os.Stderr, "  DEVICE_TIMEOUT, DEVICE_STATE_WINDOW, DEVICE_STATE_TTL")
		fmt.Fprintln(os.Stderr, "  DISPLAY_COUNTER_CEILING - rotation counter reset threshold (default 100)")
		fmt.Fprintln(os.Stderr, "  QUEUE_OPEN, ENQUEUE_RATE_LIMIT, ENQUEUE_RATE_WINDOW, MAX_UPLOAD_BYTES")
		fmt.Fprintln(os.Stderr, "  WORKER_ENABLED, WORKER_INTERVAL")
		fmt.Fprintln(os.Stderr, "  ADVERTISING_DIR, ADVERTISING_PREFIX")
		fmt.Fprintln(os.Stderr, "  ADMIN_JWT_SECRET        - enables admin routes")
		fmt.Fprintln(os.Stderr, "  LOG_LEVEL, LOG_FORMAT   - debug|info|warn|error, json|console")
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	if *issueToken > 0 {
		token, err := httpapi.IssueAdminToken(cfg.AdminSecret, *issueToken, time.Now())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to issue admin token")
		}
		fmt.Println(token)
		return
	}

	redisStatus := "disabled (counters in memory)"
	if cfg.RedisEnabled() {
		redisStatus = cfg.RedisAddr()
	}
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("device", cfg.DeviceURL).
		Dur("state_window", cfg.DeviceStateWindow).
		Dur("state_ttl", cfg.DeviceStateTTL).
		Str("redis", redisStatus).
		Int("counter_ceiling", cfg.CounterCeiling).
		Bool("queue_open", cfg.QueueOpen).
		Int("rate_limit", cfg.EnqueueRateLimit).
		Dur("rate_window", cfg.EnqueueRateWindow).
		Bool("worker", cfg.WorkerEnabled).
		Bool("admin", cfg.AdminSecret != "").
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create app")
	}

	if err := a.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start app")
	}
	logger.Info().Msg("running, press CTRL+C to exit")

	select {
	case <-ctx.Done():
	case err := <-a.Errors():
		logger.Error().Err(err).Msg("http server failed")
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop app")
	}
}
