package commands

import (
	"context"
	"fmt"

	"github.com/wonny/aqiguard/internal/backtest"
	"github.com/wonny/aqiguard/internal/external/tianqi"
	"github.com/wonny/aqiguard/internal/forecast"
	"github.com/wonny/aqiguard/internal/history"
	"github.com/wonny/aqiguard/internal/quality"
	"github.com/wonny/aqiguard/internal/selfcheck"
	"github.com/wonny/aqiguard/pkg/config"
	"github.com/wonny/aqiguard/pkg/database"
	"github.com/wonny/aqiguard/pkg/httputil"
	"github.com/wonny/aqiguard/pkg/logger"
	"github.com/wonny/aqiguard/pkg/metrics"
	"github.com/wonny/aqiguard/pkg/redis"
)

// app holds the dependencies shared by every command
// ⭐ SSOT: components are wired together here only
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	redis   *redis.Client
	metrics *metrics.Manager

	store        *history.PostgresStore
	forecaster   *forecast.Forecaster
	engine       *backtest.Engine
	source       *tianqi.Client
	checker      *quality.Checker
	orchestrator *selfcheck.Orchestrator
}

// newApp loads config, connects to PostgreSQL and Redis, and builds the engine
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logger.New(cfg)

	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, continuing without cache and shared rate limit")
		rdb = redis.Disabled()
	}

	var m *metrics.Manager
	if cfg.MetricsEnabled {
		m = metrics.NewManager()
	}

	a := &app{cfg: cfg, log: log, db: db, redis: rdb, metrics: m}

	a.store = history.NewPostgresStore(db.Pool)
	a.forecaster = forecast.NewForecasterWithConfig(forecast.Config{
		Lags:      cfg.Forecast.Lags,
		MinMargin: cfg.Forecast.MinMargin,
		Horizon:   cfg.Forecast.Horizon,
	}, log.Zerolog())
	a.engine = backtest.NewEngine(a.forecaster, log)

	httpClient := httputil.New(cfg, log).
		WithLocalLimit(cfg.Tianqi.RatePerSec).
		WithRateLimiter(redis.NewRateLimiter(rdb, "aqiguard"), redis.TianqiRateLimitPerSec(cfg.Tianqi.RatePerSec))
	a.source = tianqi.NewClient(httpClient, log,
		tianqi.WithBaseURL(cfg.Tianqi.BaseURL),
		tianqi.WithCache(redis.NewCache(rdb, "aqiguard"), redis.TTLDaily),
	)

	a.checker = quality.NewChecker(a.store, a.source, log.Zerolog(), quality.WithMetrics(m))
	a.orchestrator = selfcheck.NewOrchestrator(a.store, a.engine, a.checker, m, log.Zerolog())

	return a, nil
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close Redis")
	}
	a.db.Close()
}

// forecastCache is nil when Redis is off so handlers skip the cache path
func (a *app) forecastCache() *redis.Cache {
	if !a.redis.Enabled() {
		return nil
	}
	return redis.NewCache(a.redis, "aqiguard")
}
