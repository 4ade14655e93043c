package selfcheck

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wonny/aqiguard/internal/backtest"
	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/quality"
	"github.com/wonny/aqiguard/pkg/metrics"
)

// Backtester replays one-day-ahead forecasts over stored history
type Backtester interface {
	Run(ctx context.Context, config backtest.Config, history []contracts.DailyRecord) (*contracts.ForecastEval, error)
}

// ConsistencyChecker validates stored records against the authoritative source
type ConsistencyChecker interface {
	Check(ctx context.Context, config quality.Config) (*contracts.ConsistencyReport, error)
}

// Config holds one self-check run's parameters
type Config struct {
	Area          string
	BacktestDays  int
	Threshold     float64 // backtest MAPE bound
	SampleSize    int
	WebErrorLimit float64
	RecentDays    int
	VacuousPass   bool
	LookupTimeout time.Duration
	Concurrency   int
	RatePerSec    float64
}

// DefaultConfig returns the per-call defaults of the combined route
func DefaultConfig() Config {
	return Config{
		BacktestDays:  7,
		Threshold:     0.3,
		SampleSize:    20,
		WebErrorLimit: 0.05,
		RecentDays:    7,
		LookupTimeout: 20 * time.Second,
		Concurrency:   4,
	}
}

// Orchestrator runs the backtest and the consistency check and gates on both
// ⭐ SSOT: the combined pass/fail decision is made here only
type Orchestrator struct {
	store      contracts.HistoryStore
	backtester Backtester
	checker    ConsistencyChecker
	metrics    *metrics.Manager
	log        zerolog.Logger
	now        func() time.Time
}

// NewOrchestrator creates a new self-check orchestrator.
// m may be nil.
func NewOrchestrator(store contracts.HistoryStore, backtester Backtester, checker ConsistencyChecker, m *metrics.Manager, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		backtester: backtester,
		checker:    checker,
		metrics:    m,
		log:        log.With().Str("component", "selfcheck.orchestrator").Logger(),
		now:        time.Now,
	}
}

// =============================================================================
// Run
// =============================================================================

// Run executes both sub-checks concurrently and waits for both.
// A sub-check that cannot run leaves its section nil and adds to Error; OK is
// then false. Only invalid parameters fail the call itself.
func (o *Orchestrator) Run(ctx context.Context, config Config) (*contracts.SelfCheckReport, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	report := &contracts.SelfCheckReport{
		RunID: uuid.New().String(),
		Area:  config.Area,
	}
	startTime := o.now()

	var (
		wg                    sync.WaitGroup
		eval                  *contracts.ForecastEval
		consistency           *contracts.ConsistencyReport
		backtestErr, checkErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		eval, backtestErr = o.runBacktest(ctx, config)
	}()
	go func() {
		defer wg.Done()
		consistency, checkErr = o.checker.Check(ctx, quality.Config{
			Area:          config.Area,
			SampleSize:    config.SampleSize,
			RecentDays:    config.RecentDays,
			Limit:         config.WebErrorLimit,
			VacuousPass:   config.VacuousPass,
			LookupTimeout: config.LookupTimeout,
			Concurrency:   config.Concurrency,
			RatePerSec:    config.RatePerSec,
		})
	}()
	wg.Wait()

	var problems []string
	if backtestErr != nil {
		problems = append(problems, "forecast_eval: "+backtestErr.Error())
		o.log.Error().Err(backtestErr).Str("run_id", report.RunID).Str("area", config.Area).Msg("backtest could not run")
	} else {
		report.ForecastEval = eval.Summary()
		o.metrics.RecordBacktest(config.Area, eval.MAPE, eval.Pass)
	}

	if checkErr != nil {
		problems = append(problems, "web_consistency: "+checkErr.Error())
		o.log.Error().Err(checkErr).Str("run_id", report.RunID).Str("area", config.Area).Msg("consistency check could not run")
	} else {
		report.WebConsistency = consistency.Summary()
		o.metrics.RecordConsistency(config.Area, consistency.ErrorRate, string(consistency.Status))
	}

	report.Error = strings.Join(problems, "; ")
	report.OK = len(problems) == 0 && report.ForecastEval.Pass && report.WebConsistency.Pass

	o.metrics.RecordSelfCheck(config.Area, report.OK, startTime)

	event := o.log.Info()
	if !report.OK {
		event = o.log.Warn()
	}
	event.
		Str("run_id", report.RunID).
		Str("area", config.Area).
		Bool("ok", report.OK).
		Dur("duration", o.now().Sub(startTime)).
		Msg("self-check finished")

	return report, nil
}

// runBacktest reads the stored history of the area and replays the forecaster over it
func (o *Orchestrator) runBacktest(ctx context.Context, config Config) (*contracts.ForecastEval, error) {
	history, err := o.store.Read(ctx, config.Area, contracts.Date{}, contracts.Date{})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	return o.backtester.Run(ctx, backtest.Config{
		Area:      config.Area,
		Days:      config.BacktestDays,
		Threshold: config.Threshold,
	}, history)
}

func validateConfig(config Config) error {
	if config.BacktestDays < 1 {
		return contracts.Invalid("backtest_days", "must be >= 1, got %d", config.BacktestDays)
	}
	if config.Threshold <= 0 {
		return contracts.Invalid("mape_threshold", "must be > 0, got %v", config.Threshold)
	}
	if config.SampleSize < 1 {
		return contracts.Invalid("web_sample_size", "must be >= 1, got %d", config.SampleSize)
	}
	if config.WebErrorLimit < 0 || config.WebErrorLimit > 1 {
		return contracts.Invalid("web_error_rate_limit", "must be within [0, 1], got %v", config.WebErrorLimit)
	}
	if config.RecentDays < 0 {
		return contracts.Invalid("recent_days", "must be >= 0, got %d", config.RecentDays)
	}
	return nil
}
