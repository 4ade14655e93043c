package backtest

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/forecast"
	"github.com/wonny/aqiguard/internal/stats"
	"github.com/wonny/aqiguard/pkg/logger"
)

// Predictor makes a one-day-ahead P50 prediction from history alone
type Predictor interface {
	PredictNext(ctx context.Context, area string, history []contracts.DailyRecord) (float64, error)
	MinHistory() int
}

// Engine runs walk-forward backtests of the forecaster
// ⭐ SSOT: forecast accuracy evaluation happens here only
type Engine struct {
	predictor Predictor
	logger    *logger.Logger
}

// Config holds one backtest run's parameters
type Config struct {
	Area      string
	Days      int     // evaluation window length, ending at the latest stored day
	Threshold float64 // pass when MAPE <= Threshold
}

// NewEngine creates a new backtest engine
func NewEngine(predictor Predictor, logger *logger.Logger) *Engine {
	return &Engine{
		predictor: predictor,
		logger:    logger,
	}
}

// Run replays the predictor over the last Days days, oldest first.
// The prediction for day D is made from records dated strictly before D.
// Day D is skipped when D or D-1 has no record.
func (e *Engine) Run(ctx context.Context, config Config, history []contracts.DailyRecord) (*contracts.ForecastEval, error) {
	if config.Days < 1 {
		return nil, contracts.Invalid("backtest_days", "must be >= 1, got %d", config.Days)
	}
	if config.Threshold <= 0 {
		return nil, contracts.Invalid("threshold", "must be > 0, got %v", config.Threshold)
	}

	startTime := time.Now()

	series := forecast.DailySeries(history)
	observed := make(map[contracts.Date]float64, len(series))
	for _, obs := range series {
		observed[obs.Date] = obs.AQI
	}

	need := e.predictor.MinHistory()
	if len(series) == 0 {
		return nil, &contracts.InsufficientDataError{Area: config.Area, What: "backtest history", Have: 0, Need: need}
	}

	end := series[len(series)-1].Date
	first := end.AddDays(-(config.Days - 1))

	before := 0
	for _, obs := range series {
		if obs.Date.Before(first) {
			before++
		}
	}
	if before < need {
		return nil, &contracts.InsufficientDataError{Area: config.Area, What: "backtest history", Have: before, Need: need}
	}

	result := &contracts.ForecastEval{
		Area:         config.Area,
		BacktestDays: config.Days,
		Threshold:    config.Threshold,
		Points:       make([]contracts.BacktestPoint, 0, config.Days),
	}

	for day := first; !day.After(end); day = day.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actual, ok := observed[day]
		if _, prevOK := observed[day.AddDays(-1)]; !ok || !prevOK {
			result.Skipped++
			continue
		}

		pred, err := e.predictor.PredictNext(ctx, config.Area, recordsBefore(history, day))
		if errors.Is(err, contracts.ErrInsufficientData) {
			result.Skipped++
			continue
		}
		if err != nil {
			return nil, err
		}

		result.Points = append(result.Points, contracts.BacktestPoint{
			Date: day,
			Real: actual,
			Pred: pred,
		})
	}

	e.aggregate(result)

	fields := map[string]interface{}{
		"area":      config.Area,
		"days":      config.Days,
		"points":    len(result.Points),
		"skipped":   result.Skipped,
		"excluded":  result.Excluded,
		"threshold": config.Threshold,
		"pass":      result.Pass,
		"duration":  time.Since(startTime).String(),
	}
	if result.MAPE != nil {
		fields["mape"] = *result.MAPE
	}
	if result.Pass {
		e.logger.WithFields(fields).Info("Backtest completed")
	} else {
		e.logger.WithFields(fields).Warn("Backtest did not pass")
	}

	return result, nil
}

// aggregate computes MAPE and the pass gate
func (e *Engine) aggregate(result *contracts.ForecastEval) {
	actual := make([]float64, len(result.Points))
	pred := make([]float64, len(result.Points))
	for i, p := range result.Points {
		actual[i] = p.Real
		pred[i] = p.Pred
	}

	m := stats.MAPE(actual, pred)
	result.MAPE = m.Value
	result.Excluded = m.Excluded
	result.Pass = m.Value != nil && *m.Value <= result.Threshold
}

// recordsBefore returns the records dated strictly before day
func recordsBefore(history []contracts.DailyRecord, day contracts.Date) []contracts.DailyRecord {
	out := make([]contracts.DailyRecord, 0, len(history))
	for _, r := range history {
		if r.Date.Before(day) {
			out = append(out, r)
		}
	}
	return out
}
