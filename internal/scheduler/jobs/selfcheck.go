package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/selfcheck"
	"github.com/wonny/aqiguard/pkg/config"
	"github.com/wonny/aqiguard/pkg/logger"
)

// SelfCheckRunner runs one combined self-check
type SelfCheckRunner interface {
	Run(ctx context.Context, config selfcheck.Config) (*contracts.SelfCheckReport, error)
}

// SelfCheckJob runs the system-level self-check for every configured area.
// It uses the acceptance bounds, not the per-call route defaults.
type SelfCheckJob struct {
	runner   SelfCheckRunner
	areas    []string
	base     selfcheck.Config
	schedule string
	logger   *logger.Logger

	mu   sync.RWMutex
	last map[string]*contracts.SelfCheckReport
}

// NewSelfCheckJob creates the daily self-check job from config
func NewSelfCheckJob(runner SelfCheckRunner, cfg *config.Config, log *logger.Logger) *SelfCheckJob {
	return &SelfCheckJob{
		runner: runner,
		areas:  cfg.SelfCheck.Areas,
		base: selfcheck.Config{
			BacktestDays:  cfg.Acceptance.BacktestDays,
			Threshold:     cfg.Acceptance.MAPEThreshold,
			SampleSize:    cfg.SelfCheck.SampleSize,
			WebErrorLimit: cfg.Acceptance.WebErrorLimit,
			RecentDays:    cfg.SelfCheck.RecentDays,
			LookupTimeout: cfg.SelfCheck.LookupTimeout,
			Concurrency:   cfg.SelfCheck.Concurrency,
			RatePerSec:    cfg.Tianqi.RatePerSec,
		},
		schedule: cfg.SelfCheck.Schedule,
		logger:   log,
		last:     make(map[string]*contracts.SelfCheckReport),
	}
}

// Name returns the job name
func (j *SelfCheckJob) Name() string {
	return "selfcheck"
}

// Schedule returns the cron schedule (with seconds)
func (j *SelfCheckJob) Schedule() string {
	if j.schedule == "" {
		return "0 0 7 * * *"
	}
	return j.schedule
}

// Run checks each area in turn. A failing gate is logged, not returned;
// only a run that could not start fails the job.
func (j *SelfCheckJob) Run(ctx context.Context) error {
	j.logger.WithField("areas", j.areas).Info("Starting scheduled self-check")

	failed := 0
	for _, area := range j.areas {
		if err := ctx.Err(); err != nil {
			return err
		}

		cfg := j.base
		cfg.Area = area

		report, err := j.runner.Run(ctx, cfg)
		if err != nil {
			j.logger.WithError(err).WithField("area", area).Error("Self-check could not start")
			failed++
			continue
		}

		j.mu.Lock()
		j.last[area] = report
		j.mu.Unlock()

		fields := map[string]interface{}{
			"area":   area,
			"run_id": report.RunID,
			"ok":     report.OK,
		}
		if report.ForecastEval != nil && report.ForecastEval.MAPE != nil {
			fields["mape"] = *report.ForecastEval.MAPE
		}
		if report.WebConsistency != nil {
			fields["error_rate"] = report.WebConsistency.ErrorRate
			fields["valid"] = report.WebConsistency.Valid
		}

		switch {
		case report.Error != "":
			j.logger.WithFields(fields).WithField("error", report.Error).Error("Self-check incomplete")
		case !report.OK:
			j.logger.WithFields(fields).Warn("Self-check gate failed")
		default:
			j.logger.WithFields(fields).Info("Self-check passed")
		}
	}

	if failed > 0 {
		return fmt.Errorf("self-check could not start for %d of %d areas", failed, len(j.areas))
	}
	return nil
}

// LastReport returns the most recent report of area, or nil
func (j *SelfCheckJob) LastReport(area string) *contracts.SelfCheckReport {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last[area]
}
