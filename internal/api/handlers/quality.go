package handlers

import (
	"net/http"

	"github.com/wonny/aqiguard/internal/backtest"
	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/quality"
	"github.com/wonny/aqiguard/internal/selfcheck"
	"github.com/wonny/aqiguard/pkg/config"
	"github.com/wonny/aqiguard/pkg/logger"
	"github.com/wonny/aqiguard/pkg/metrics"
)

// QualityDefaults are the per-route defaults of the quality endpoints
type QualityDefaults struct {
	// forecast_eval uses the system-level acceptance bound
	EvalDays      int
	EvalThreshold float64

	// web_consistency
	Consistency quality.Config

	// selfcheck uses the stricter per-call bound
	SelfCheck selfcheck.Config
}

// DefaultQualityDefaults derives the route defaults from config
func DefaultQualityDefaults(cfg *config.Config) QualityDefaults {
	consistency := quality.DefaultConfig()
	consistency.LookupTimeout = cfg.SelfCheck.LookupTimeout
	consistency.Concurrency = cfg.SelfCheck.Concurrency
	consistency.RatePerSec = cfg.Tianqi.RatePerSec

	check := selfcheck.Config{
		BacktestDays:  cfg.SelfCheck.BacktestDays,
		Threshold:     cfg.SelfCheck.MAPEThreshold,
		SampleSize:    cfg.SelfCheck.SampleSize,
		WebErrorLimit: cfg.SelfCheck.WebErrorLimit,
		RecentDays:    cfg.SelfCheck.RecentDays,
		LookupTimeout: cfg.SelfCheck.LookupTimeout,
		Concurrency:   cfg.SelfCheck.Concurrency,
		RatePerSec:    cfg.Tianqi.RatePerSec,
	}

	return QualityDefaults{
		EvalDays:      cfg.Acceptance.BacktestDays,
		EvalThreshold: cfg.Acceptance.MAPEThreshold,
		Consistency:   consistency,
		SelfCheck:     check,
	}
}

// QualityHandler handles backtest, consistency and self-check endpoints
type QualityHandler struct {
	store        contracts.HistoryStore
	backtester   selfcheck.Backtester
	checker      selfcheck.ConsistencyChecker
	orchestrator *selfcheck.Orchestrator
	defaults     QualityDefaults
	metrics      *metrics.Manager
	logger       *logger.Logger
}

// NewQualityHandler creates a new quality handler
func NewQualityHandler(
	store contracts.HistoryStore,
	backtester selfcheck.Backtester,
	checker selfcheck.ConsistencyChecker,
	orchestrator *selfcheck.Orchestrator,
	defaults QualityDefaults,
	m *metrics.Manager,
	log *logger.Logger,
) *QualityHandler {
	return &QualityHandler{
		store:        store,
		backtester:   backtester,
		checker:      checker,
		orchestrator: orchestrator,
		defaults:     defaults,
		metrics:      m,
		logger:       log,
	}
}

// ForecastEval runs the walk-forward backtest
// GET /api/quality/forecast_eval?area=&backtest_days=&threshold=
func (h *QualityHandler) ForecastEval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	area := queryArea(r, DefaultArea)
	days, daysErr := queryInt(r, "backtest_days", h.defaults.EvalDays)
	threshold, thresholdErr := queryFloat(r, "threshold", h.defaults.EvalThreshold)
	if err := firstErr(daysErr, thresholdErr); err != nil {
		respondDomainError(w, h.logger, err, "forecast evaluation")
		return
	}

	history, err := h.store.Read(ctx, area, contracts.Date{}, contracts.Date{})
	if err != nil {
		respondDomainError(w, h.logger, err, "forecast evaluation")
		return
	}

	eval, err := h.backtester.Run(ctx, backtest.Config{Area: area, Days: days, Threshold: threshold}, history)
	if err != nil {
		respondDomainError(w, h.logger, err, "forecast evaluation")
		return
	}
	h.metrics.RecordBacktest(area, eval.MAPE, eval.Pass)

	respondJSON(w, http.StatusOK, eval)
}

// WebConsistency samples stored records and validates them against the source
// GET /api/quality/web_consistency?area=&sample_size=&recent_days=&web_error_rate_limit=&vacuous_pass=
func (h *QualityHandler) WebConsistency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg := h.defaults.Consistency
	cfg.Area = queryArea(r, "")

	var sizeErr, recentErr, limitErr, vacuousErr error
	cfg.SampleSize, sizeErr = queryInt(r, "sample_size", cfg.SampleSize)
	cfg.RecentDays, recentErr = queryInt(r, "recent_days", cfg.RecentDays)
	cfg.Limit, limitErr = queryFloat(r, "web_error_rate_limit", cfg.Limit)
	cfg.VacuousPass, vacuousErr = queryBool(r, "vacuous_pass", cfg.VacuousPass)
	if err := firstErr(sizeErr, recentErr, limitErr, vacuousErr); err != nil {
		respondDomainError(w, h.logger, err, "consistency check")
		return
	}

	report, err := h.checker.Check(ctx, cfg)
	if err != nil {
		respondDomainError(w, h.logger, err, "consistency check")
		return
	}
	h.metrics.RecordConsistency(cfg.Area, report.ErrorRate, string(report.Status))

	respondJSON(w, http.StatusOK, report)
}

// SelfCheck runs the combined gate
// GET /api/analysis/selfcheck?area=&backtest_days=&threshold=&web_sample_size=&web_error_rate_limit=
func (h *QualityHandler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg := h.defaults.SelfCheck
	cfg.Area = queryArea(r, DefaultArea)

	var daysErr, thresholdErr, sizeErr, limitErr, vacuousErr error
	cfg.BacktestDays, daysErr = queryInt(r, "backtest_days", cfg.BacktestDays)
	cfg.Threshold, thresholdErr = queryFloat(r, "threshold", cfg.Threshold)
	cfg.SampleSize, sizeErr = queryInt(r, "web_sample_size", cfg.SampleSize)
	cfg.WebErrorLimit, limitErr = queryFloat(r, "web_error_rate_limit", cfg.WebErrorLimit)
	cfg.VacuousPass, vacuousErr = queryBool(r, "vacuous_pass", cfg.VacuousPass)
	if err := firstErr(daysErr, thresholdErr, sizeErr, limitErr, vacuousErr); err != nil {
		respondDomainError(w, h.logger, err, "self-check")
		return
	}

	report, err := h.orchestrator.Run(ctx, cfg)
	if err != nil {
		respondDomainError(w, h.logger, err, "self-check")
		return
	}

	respondJSON(w, http.StatusOK, report)
}
