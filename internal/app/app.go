package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jmoiron/sqlx"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hxnx/lightshow/config"
	"github.com/hxnx/lightshow/internal/database"
	"github.com/hxnx/lightshow/internal/device"
	"github.com/hxnx/lightshow/internal/display"
	"github.com/hxnx/lightshow/internal/httpapi"
	"github.com/hxnx/lightshow/internal/playback"
	"github.com/hxnx/lightshow/internal/redis"
	"github.com/hxnx/lightshow/internal/storage"
)

// App wires the stores, the device link and the HTTP surface together.
type App struct {
	config *config.Config
	logger zerolog.Logger

	db     *sqlx.DB
	redis  *redislib.Client
	states *device.StateCache

	playback *playback.Service
	worker   *playback.Worker
	server   *httpapi.Server

	mu         sync.Mutex
	started    bool
	statusStop chan struct{}
	errCh      chan error
}

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	var counters display.CounterStore = display.NewMemoryCounterStore(display.Counters{})
	var redisClient *redislib.Client
	if cfg.RedisEnabled() {
		rc := cfg.GetRedisConfig()
		redisClient, err = redis.Connect(ctx, redis.Config{
			Host:     rc.Host,
			Port:     rc.Port,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis initialization failed, display counters stay in memory")
		} else {
			counters = display.NewRedisCounterStore(redisClient)
		}
	}

	client := device.NewClient(cfg.DeviceURL, cfg.DeviceTimeout)
	states := device.NewStateCache(client, logger,
		device.WithWindow(cfg.DeviceStateWindow),
		device.WithTTL(cfg.DeviceStateTTL),
		device.WithFetchTimeout(cfg.DeviceTimeout),
	)

	store := storage.New(db)
	service := playback.NewService(store, store, states, playback.ServiceConfig{
		QueueOpen:       cfg.QueueOpen,
		RateLimit:       cfg.EnqueueRateLimit,
		RateLimitWindow: cfg.EnqueueRateWindow,
	}, logger)

	var worker *playback.Worker
	if cfg.WorkerEnabled {
		worker = playback.NewWorker(service, states, client, cfg.WorkerInterval, logger)
	}

	server := httpapi.New(httpapi.Deps{
		Playback:       service,
		States:         states,
		Power:          client,
		Dispatcher:     display.NewDispatcher(states, store, counters, cfg.CounterCeiling, logger),
		Content:        display.NewContent(states, store, cfg.AdvertisingDir, cfg.AdvertisingPrefix, logger),
		Messages:       store,
		AdminSecret:    cfg.AdminSecret,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		states:   states,
		playback: service,
		worker:   worker,
		server:   server,
		errCh:    make(chan error, 1),
	}, nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Errors reports a failure of the HTTP listener after Start.
func (a *App) Errors() <-chan error {
	return a.errCh
}

func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	go func() {
		if err := a.server.Start(a.config.HTTPAddr); err != nil {
			a.errCh <- err
		}
	}()

	if a.worker != nil {
		a.worker.Start()
	}
	a.startStatusReporter()
	a.started = true

	a.logger.Info().Str("addr", a.config.HTTPAddr).Bool("worker", a.worker != nil).Msg("lightshow started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.started {
		a.started = false
		a.stopStatusReporter()
		if a.worker != nil {
			a.worker.Stop()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close database")
		}
		a.db = nil
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis")
		}
		a.redis = nil
	}

	a.logger.Info().Msg("lightshow stopped")
	return errors.Join(errs...)
}
