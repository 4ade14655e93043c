package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/forecast"
	"github.com/wonny/aqiguard/pkg/logger"
)

// spyPredictor records what each call was allowed to see
type spyPredictor struct {
	minHistory int
	preds      []float64
	err        error

	calls []spyCall
}

type spyCall struct {
	latest contracts.Date
	count  int
}

func (s *spyPredictor) PredictNext(ctx context.Context, area string, history []contracts.DailyRecord) (float64, error) {
	var latest contracts.Date
	for _, r := range history {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	s.calls = append(s.calls, spyCall{latest: latest, count: len(history)})

	if s.err != nil {
		return 0, s.err
	}
	i := len(s.calls) - 1
	if i < len(s.preds) {
		return s.preds[i], nil
	}
	return 50, nil
}

func (s *spyPredictor) MinHistory() int { return s.minHistory }

func series(aqi ...float64) []contracts.DailyRecord {
	start := contracts.MustParseDate("2024-06-01")
	out := make([]contracts.DailyRecord, len(aqi))
	for i, v := range aqi {
		out[i] = contracts.DailyRecord{Date: start.AddDays(i), Area: "X", AQI: v, TempMax: 30, TempMin: 22, WindSpeed: 2}
	}
	return out
}

func TestRun_MAPEExample(t *testing.T) {
	spy := &spyPredictor{minHistory: 3, preds: []float64{55, 54, 44}}
	engine := NewEngine(spy, logger.Nop())

	history := series(48, 52, 47, 51, 50, 60, 40)

	res, err := engine.Run(context.Background(), Config{Area: "X", Days: 3, Threshold: 0.3}, history)
	require.NoError(t, err)

	require.Len(t, res.Points, 3)
	assert.Equal(t, []float64{50, 60, 40}, []float64{res.Points[0].Real, res.Points[1].Real, res.Points[2].Real})
	require.NotNil(t, res.MAPE)
	assert.Equal(t, 0.10, *res.MAPE)
	assert.True(t, res.Pass)
	assert.Equal(t, 0, res.Excluded)

	res, err = engine.Run(context.Background(), Config{Area: "X", Days: 3, Threshold: 0.05}, history)
	require.NoError(t, err)
	assert.False(t, res.Pass)
}

func TestRun_NoLookAhead(t *testing.T) {
	spy := &spyPredictor{minHistory: 5}
	engine := NewEngine(spy, logger.Nop())

	history := series(40, 41, 42, 43, 44, 45, 46, 47, 48, 49, 50, 51)
	// reversed input order must not matter
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	res, err := engine.Run(context.Background(), Config{Area: "X", Days: 6, Threshold: 0.3}, history)
	require.NoError(t, err)
	require.Len(t, res.Points, 6)
	require.Len(t, spy.calls, 6)

	for i, p := range res.Points {
		assert.True(t, spy.calls[i].latest.Before(p.Date), "prediction for %s saw %s", p.Date, spy.calls[i].latest)
		assert.Equal(t, p.Date.AddDays(-1), spy.calls[i].latest)
		if i > 0 {
			assert.True(t, res.Points[i-1].Date.Before(p.Date), "points must be oldest first")
		}
	}
}

func TestRun_ZeroRealExcluded(t *testing.T) {
	spy := &spyPredictor{minHistory: 2, preds: []float64{55, 10, 44}}
	engine := NewEngine(spy, logger.Nop())

	res, err := engine.Run(context.Background(), Config{Area: "X", Days: 3, Threshold: 0.3}, series(50, 50, 50, 0, 40))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Excluded)
	require.NotNil(t, res.MAPE)
	assert.Equal(t, 0.10, *res.MAPE)
}

func TestRun_AllZeroRealIsUndefined(t *testing.T) {
	spy := &spyPredictor{minHistory: 1}
	engine := NewEngine(spy, logger.Nop())

	res, err := engine.Run(context.Background(), Config{Area: "X", Days: 2, Threshold: 0.3}, series(10, 0, 0))
	require.NoError(t, err)

	assert.Nil(t, res.MAPE)
	assert.False(t, res.Pass)
	assert.Equal(t, 2, res.Excluded)
}

func TestRun_SkipsGaps(t *testing.T) {
	spy := &spyPredictor{minHistory: 2}
	engine := NewEngine(spy, logger.Nop())

	history := series(50, 50, 50, 50, 50, 50)
	// drop the 5th day: both day 5 (no real) and day 6 (no D-1) are skipped
	history = append(history[:4], history[5])

	res, err := engine.Run(context.Background(), Config{Area: "X", Days: 3, Threshold: 0.3}, history)
	require.NoError(t, err)

	assert.Len(t, res.Points, 1)
	assert.Equal(t, 2, res.Skipped)
}

func TestRun_InsufficientHistory(t *testing.T) {
	spy := &spyPredictor{minHistory: 21}
	engine := NewEngine(spy, logger.Nop())

	_, err := engine.Run(context.Background(), Config{Area: "X", Days: 7, Threshold: 0.3}, series(make([]float64, 27)...))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))

	var insufficient *contracts.InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "backtest history", insufficient.What)
	assert.Equal(t, 20, insufficient.Have)

	_, err = engine.Run(context.Background(), Config{Area: "X", Days: 7, Threshold: 0.3}, nil)
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))

	assert.Empty(t, spy.calls, "no prediction may run before the window check")
}

func TestRun_InvalidInput(t *testing.T) {
	engine := NewEngine(&spyPredictor{}, logger.Nop())

	_, err := engine.Run(context.Background(), Config{Area: "X", Days: 0, Threshold: 0.3}, series(1, 2, 3))
	assert.True(t, errors.Is(err, contracts.ErrInvalidInput))

	_, err = engine.Run(context.Background(), Config{Area: "X", Days: 1, Threshold: 0}, series(1, 2, 3))
	assert.True(t, errors.Is(err, contracts.ErrInvalidInput))
}

func TestRun_PredictorErrorIsFatal(t *testing.T) {
	spy := &spyPredictor{minHistory: 1, err: errors.New("solver exploded")}
	engine := NewEngine(spy, logger.Nop())

	_, err := engine.Run(context.Background(), Config{Area: "X", Days: 2, Threshold: 0.3}, series(1, 2, 3))
	assert.EqualError(t, err, "solver exploded")
}

func TestRun_Cancelled(t *testing.T) {
	engine := NewEngine(&spyPredictor{minHistory: 1}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, Config{Area: "X", Days: 2, Threshold: 0.3}, series(1, 2, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ConstantHistoryEndToEnd(t *testing.T) {
	engine := NewEngine(forecast.NewForecaster(zerolog.Nop()), logger.Nop())

	aqi := make([]float64, 30)
	for i := range aqi {
		aqi[i] = 50
	}

	res, err := engine.Run(context.Background(), Config{Area: "X", Days: 7, Threshold: 0.3}, series(aqi...))
	require.NoError(t, err)

	require.Len(t, res.Points, 7)
	for _, p := range res.Points {
		assert.InDelta(t, 50, p.Pred, 0.01)
	}
	require.NotNil(t, res.MAPE)
	assert.InDelta(t, 0, *res.MAPE, 0.001)
	assert.True(t, res.Pass)
}
