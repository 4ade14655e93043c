package selfcheck

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aqiguard/internal/backtest"
	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/forecast"
	"github.com/wonny/aqiguard/internal/history"
	"github.com/wonny/aqiguard/internal/quality"
	"github.com/wonny/aqiguard/pkg/logger"
	"github.com/wonny/aqiguard/pkg/metrics"
)

type stubBacktester struct {
	eval   *contracts.ForecastEval
	err    error
	called int32
	got    backtest.Config
}

func (s *stubBacktester) Run(ctx context.Context, config backtest.Config, history []contracts.DailyRecord) (*contracts.ForecastEval, error) {
	atomic.AddInt32(&s.called, 1)
	s.got = config
	return s.eval, s.err
}

type stubChecker struct {
	report *contracts.ConsistencyReport
	err    error
	called int32
	got    quality.Config
}

func (s *stubChecker) Check(ctx context.Context, config quality.Config) (*contracts.ConsistencyReport, error) {
	atomic.AddInt32(&s.called, 1)
	s.got = config
	return s.report, s.err
}

func mape(v float64) *float64 { return &v }

func passingEval() *contracts.ForecastEval {
	return &contracts.ForecastEval{MAPE: mape(0.1), Threshold: 0.3, Pass: true, Points: []contracts.BacktestPoint{}}
}

func passingConsistency() *contracts.ConsistencyReport {
	return &contracts.ConsistencyReport{SampleSize: 20, Evaluated: 20, Valid: 20, PassCount: 20, Limit: 0.05, Status: contracts.ConsistencyPass, Pass: true}
}

func newTestOrchestrator(b Backtester, c ConsistencyChecker) *Orchestrator {
	return NewOrchestrator(history.NewMemoryStore(), b, c, nil, zerolog.Nop())
}

func TestRun_BothPass(t *testing.T) {
	b := &stubBacktester{eval: passingEval()}
	c := &stubChecker{report: passingConsistency()}

	cfg := DefaultConfig()
	cfg.Area = "天河区"

	report, err := newTestOrchestrator(b, c).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, report.OK)
	assert.Empty(t, report.Error)
	assert.NotEmpty(t, report.RunID)
	require.NotNil(t, report.ForecastEval)
	require.NotNil(t, report.WebConsistency)
	assert.Equal(t, 0.1, *report.ForecastEval.MAPE)
	assert.Equal(t, 20, report.WebConsistency.Valid)

	assert.Equal(t, backtest.Config{Area: "天河区", Days: 7, Threshold: 0.3}, b.got)
	assert.Equal(t, 20, c.got.SampleSize)
	assert.Equal(t, 0.05, c.got.Limit)
	assert.Equal(t, "天河区", c.got.Area)
}

func TestRun_OKIsConjunction(t *testing.T) {
	failingEval := passingEval()
	failingEval.MAPE = mape(0.5)
	failingEval.Pass = false

	undetermined := passingConsistency()
	undetermined.Valid = 0
	undetermined.Status = contracts.ConsistencyUndetermined
	undetermined.Pass = false

	tests := []struct {
		name   string
		eval   *contracts.ForecastEval
		report *contracts.ConsistencyReport
		ok     bool
	}{
		{"both pass", passingEval(), passingConsistency(), true},
		{"backtest fails", failingEval, passingConsistency(), false},
		{"consistency undetermined", passingEval(), undetermined, false},
		{"both fail", failingEval, undetermined, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(&stubBacktester{eval: tt.eval}, &stubChecker{report: tt.report})
			report, err := o.Run(context.Background(), DefaultConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.ok, report.OK)
			assert.Empty(t, report.Error)
		})
	}
}

func TestRun_FailedSubCheckDoesNotStopTheOther(t *testing.T) {
	insufficient := &contracts.InsufficientDataError{Area: "天河区", What: "backtest history", Have: 10, Need: 21}
	b := &stubBacktester{err: insufficient}
	c := &stubChecker{report: passingConsistency()}

	report, err := newTestOrchestrator(b, c).Run(context.Background(), DefaultConfig())
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&c.called))
	assert.False(t, report.OK)
	assert.Nil(t, report.ForecastEval)
	require.NotNil(t, report.WebConsistency)
	assert.True(t, report.WebConsistency.Pass)
	assert.Contains(t, report.Error, "forecast_eval: ")
	assert.Contains(t, report.Error, "insufficient backtest history")
}

func TestRun_BothSubChecksFail(t *testing.T) {
	b := &stubBacktester{err: errors.New("boom")}
	c := &stubChecker{err: &contracts.InsufficientDataError{What: "stored records", Need: 1}}

	report, err := newTestOrchestrator(b, c).Run(context.Background(), DefaultConfig())
	require.NoError(t, err)

	assert.False(t, report.OK)
	assert.Nil(t, report.ForecastEval)
	assert.Nil(t, report.WebConsistency)
	assert.Contains(t, report.Error, "forecast_eval: boom")
	assert.Contains(t, report.Error, "web_consistency: ")
}

func TestRun_InvalidConfig(t *testing.T) {
	b := &stubBacktester{eval: passingEval()}
	c := &stubChecker{report: passingConsistency()}
	o := newTestOrchestrator(b, c)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero backtest days", func(c *Config) { c.BacktestDays = 0 }},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }},
		{"zero sample size", func(c *Config) { c.SampleSize = 0 }},
		{"limit above one", func(c *Config) { c.WebErrorLimit = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := o.Run(context.Background(), cfg)
			assert.ErrorIs(t, err, contracts.ErrInvalidInput)
		})
	}
	assert.Zero(t, atomic.LoadInt32(&b.called))
	assert.Zero(t, atomic.LoadInt32(&c.called))
}

func TestRun_RecordsMetrics(t *testing.T) {
	m := metrics.NewManager()
	o := NewOrchestrator(history.NewMemoryStore(), &stubBacktester{eval: passingEval()}, &stubChecker{report: passingConsistency()}, m, zerolog.Nop())

	cfg := DefaultConfig()
	cfg.Area = "海珠区"
	_, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "aqiguard_selfcheck_ok" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			found = true
			assert.Equal(t, 1.0, metric.GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

// fixedSource confirms every stored record as-is
type fixedSource struct {
	store *history.MemoryStore
}

func (f fixedSource) Lookup(ctx context.Context, area string, date contracts.Date) (*contracts.DailyRecord, error) {
	records, err := f.store.Read(ctx, area, date, date)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &contracts.LookupUnavailableError{Area: area, Date: date, Reason: "date not on page"}
	}
	return &records[0], nil
}

func TestRun_ConstantHistoryEndToEnd(t *testing.T) {
	store := history.NewMemoryStore()
	first := contracts.MustParseDate("2024-04-01")
	for i := 0; i < 30; i++ {
		store.Put(contracts.DailyRecord{
			Area: "X", Date: first.AddDays(i), AQI: 50,
			TempMax: 28, TempMin: 20, WindSpeed: 2,
		})
	}

	forecaster := forecast.NewForecaster(zerolog.Nop())
	engine := backtest.NewEngine(forecaster, logger.Nop())
	checker := quality.NewChecker(store, fixedSource{store: store}, zerolog.Nop(), quality.WithRand(rand.New(rand.NewSource(7))))

	o := NewOrchestrator(store, engine, checker, nil, zerolog.Nop())

	cfg := DefaultConfig()
	cfg.Area = "X"
	cfg.SampleSize = 5

	report, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Empty(t, report.Error)

	require.NotNil(t, report.ForecastEval)
	require.NotNil(t, report.ForecastEval.MAPE)
	assert.InDelta(t, 0, *report.ForecastEval.MAPE, 0.01)
	assert.Len(t, report.ForecastEval.Points, 7)
	for _, p := range report.ForecastEval.Points {
		assert.InDelta(t, 50, p.Pred, 0.5)
	}
	assert.True(t, report.ForecastEval.Pass)

	require.NotNil(t, report.WebConsistency)
	assert.Equal(t, 5, report.WebConsistency.Valid)
	assert.True(t, report.WebConsistency.Pass)
	assert.True(t, report.OK)
}
