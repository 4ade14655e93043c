package forecast

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aqiguard/internal/contracts"
)

// buildHistory returns n consecutive days starting 2024-01-01
func buildHistory(area string, n int, gen func(i int) contracts.DailyRecord) []contracts.DailyRecord {
	start := contracts.MustParseDate("2024-01-01")
	out := make([]contracts.DailyRecord, n)
	for i := 0; i < n; i++ {
		r := gen(i)
		r.Area = area
		r.Date = start.AddDays(i)
		out[i] = r
	}
	return out
}

func constantHistory(n int) []contracts.DailyRecord {
	return buildHistory("X", n, func(i int) contracts.DailyRecord {
		return contracts.DailyRecord{AQI: 50, TempMax: float64(20 + i%4), TempMin: float64(12 + i%3), WindSpeed: 2}
	})
}

// noisyHistory is right-skewed and deterministic
func noisyHistory(n int) []contracts.DailyRecord {
	return buildHistory("天河区", n, func(i int) contracts.DailyRecord {
		aqi := 45 + 15*math.Sin(float64(i)/3) + float64((i*37)%11)
		if i%9 == 0 {
			aqi += 70
		}
		return contracts.DailyRecord{
			AQI:       math.Round(aqi),
			TempMax:   25 + 5*math.Sin(float64(i)/10),
			TempMin:   17 + 4*math.Sin(float64(i)/10),
			WindSpeed: (i * 5) % 4,
		}
	})
}

func newTestForecaster() *Forecaster {
	return NewForecaster(zerolog.Nop())
}

func TestForecast_ConstantHistory(t *testing.T) {
	f := newTestForecaster()
	history := constantHistory(30)

	res, err := f.Forecast(context.Background(), Request{Area: "X", History: history})
	require.NoError(t, err)

	require.Len(t, res.Forecast, 7)
	assert.Equal(t, history[29].Date, res.AsOf)
	assert.Equal(t, 30-7, res.ModelInfo.TrainSamples)
	assert.Equal(t, 7, res.ModelInfo.Lags)

	for _, p := range res.Forecast {
		assert.InDelta(t, 50, p.AQIP50, 0.01)
		assert.InDelta(t, 50, p.AQIP10, 0.01)
		assert.InDelta(t, 50, p.AQIP90, 0.01)
		assert.Equal(t, "优", p.Level)
		assert.Equal(t, "#4caf50", p.Color)
		require.NotNil(t, p.Confidence)
		assert.InDelta(t, 1.0, *p.Confidence, 0.001)
	}
}

func TestForecast_QuantilesOrderedAndNonNegative(t *testing.T) {
	f := newTestForecaster()

	for _, n := range []int{21, 45, 120} {
		res, err := f.Forecast(context.Background(), Request{Area: "天河区", History: noisyHistory(n)})
		require.NoError(t, err, "n=%d", n)

		for _, p := range res.Forecast {
			assert.GreaterOrEqual(t, p.AQIP10, 0.0)
			assert.LessOrEqual(t, p.AQIP10, p.AQIP50, "n=%d date=%s", n, p.Date)
			assert.LessOrEqual(t, p.AQIP50, p.AQIP90, "n=%d date=%s", n, p.Date)

			band := contracts.BandFor(p.AQIP50)
			assert.Equal(t, band.Level, p.Level)
			assert.Equal(t, band.Tip, p.Tip)
		}
	}
}

func TestForecast_DatesFollowLatestInput(t *testing.T) {
	f := newTestForecaster()
	history := noisyHistory(60)

	// shuffle order and drop a middle day; output dates depend only on the latest date
	shuffled := append([]contracts.DailyRecord{history[59]}, history[:30]...)
	shuffled = append(shuffled, history[31:59]...)

	res, err := f.Forecast(context.Background(), Request{Area: "天河区", History: shuffled})
	require.NoError(t, err)

	latest := history[59].Date
	for i, p := range res.Forecast {
		assert.Equal(t, latest.AddDays(i+1), p.Date)
	}
}

func TestForecast_Idempotent(t *testing.T) {
	f := newTestForecaster()
	history := noisyHistory(90)

	a, err := f.Forecast(context.Background(), Request{Area: "天河区", History: history})
	require.NoError(t, err)
	b, err := f.Forecast(context.Background(), Request{Area: "天河区", History: history})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestForecast_InsufficientData(t *testing.T) {
	f := newTestForecaster()

	_, err := f.Forecast(context.Background(), Request{Area: "X", History: constantHistory(20)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))

	var insufficient *contracts.InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 20, insufficient.Have)
	assert.Equal(t, 21, insufficient.Need)

	// duplicates of the same date do not count as extra days
	dup := append(constantHistory(20), constantHistory(20)...)
	_, err = f.Forecast(context.Background(), Request{Area: "X", History: dup})
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))

	_, err = f.Forecast(context.Background(), Request{Area: "X", History: constantHistory(21)})
	assert.NoError(t, err)
}

func TestForecast_AsOfTruncatesHistory(t *testing.T) {
	f := newTestForecaster()
	history := noisyHistory(60)
	asOf := history[39].Date

	res, err := f.Forecast(context.Background(), Request{Area: "天河区", AsOf: asOf, History: history})
	require.NoError(t, err)

	assert.Equal(t, asOf, res.AsOf)
	assert.Equal(t, asOf.AddDays(1), res.Forecast[0].Date)

	direct, err := f.Forecast(context.Background(), Request{Area: "天河区", History: history[:40]})
	require.NoError(t, err)
	assert.Equal(t, direct.Forecast, res.Forecast)
}

func TestForecast_MeteoInputs(t *testing.T) {
	f := newTestForecaster()

	// AQI driven by wind: calm days are dirtier
	history := buildHistory("海珠区", 80, func(i int) contracts.DailyRecord {
		wind := (i*i + 3*i) % 7
		return contracts.DailyRecord{AQI: float64(110 - 12*wind), TempMax: 28, TempMin: 20, WindSpeed: wind}
	})

	week := func(wind float64) []contracts.MeteoInput {
		m := make([]contracts.MeteoInput, 7)
		for i := range m {
			m[i] = contracts.MeteoInput{MaxTemp: 28, MinTemp: 20, WindSpeed: wind}
		}
		return m
	}

	calm, err := f.Forecast(context.Background(), Request{Area: "海珠区", History: history, Meteo: week(0)})
	require.NoError(t, err)
	windy, err := f.Forecast(context.Background(), Request{Area: "海珠区", History: history, Meteo: week(6)})
	require.NoError(t, err)

	assert.Greater(t, calm.Forecast[0].AQIP50, windy.Forecast[0].AQIP50)
	assert.Contains(t, calm.ModelInfo.Note, "request")

	flat, err := f.Forecast(context.Background(), Request{Area: "海珠区", History: history})
	require.NoError(t, err)
	assert.Contains(t, flat.ModelInfo.Note, "last observed")
}

func TestForecast_InvalidMeteo(t *testing.T) {
	f := newTestForecaster()
	history := constantHistory(30)

	tests := []struct {
		name  string
		meteo []contracts.MeteoInput
	}{
		{"too few entries", make([]contracts.MeteoInput, 6)},
		{"min above max", []contracts.MeteoInput{{MaxTemp: 10, MinTemp: 20}, {}, {}, {}, {}, {}, {}}},
		{"negative wind", []contracts.MeteoInput{{WindSpeed: -1}, {}, {}, {}, {}, {}, {}}},
		{"nan", []contracts.MeteoInput{{MaxTemp: math.NaN()}, {}, {}, {}, {}, {}, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Forecast(context.Background(), Request{Area: "X", History: history, Meteo: tt.meteo})
			assert.True(t, errors.Is(err, contracts.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestForecast_Cancelled(t *testing.T) {
	f := newTestForecaster()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Forecast(ctx, Request{Area: "X", History: constantHistory(30)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictNext(t *testing.T) {
	f := newTestForecaster()

	pred, err := f.PredictNext(context.Background(), "X", constantHistory(25))
	require.NoError(t, err)
	assert.InDelta(t, 50, pred, 0.01)

	_, err = f.PredictNext(context.Background(), "X", constantHistory(5))
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))
}

func TestOrderQuantiles(t *testing.T) {
	tests := []struct {
		name          string
		a, b, c       float64
		p10, p50, p90 float64
	}{
		{"already ordered", 10, 20, 30, 10, 20, 30},
		{"crossed", 60, 40, 50, 40, 50, 60},
		{"negative clamped", -5, 3, -1, 0, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p10, p50, p90 := orderQuantiles(tt.a, tt.b, tt.c)
			assert.Equal(t, tt.p10, p10)
			assert.Equal(t, tt.p50, p50)
			assert.Equal(t, tt.p90, p90)
		})
	}
}

func TestConfidence(t *testing.T) {
	narrow := Confidence(45, 50, 55)
	wide := Confidence(30, 50, 90)

	assert.Greater(t, narrow, wide)
	assert.Equal(t, 1.0, Confidence(50, 50, 50))
	assert.Equal(t, 0.5, Confidence(0, 0, 1))
	assert.Equal(t, 0.833, narrow)
}

func TestDailySeries_AveragesSameDate(t *testing.T) {
	d := contracts.MustParseDate("2024-03-01")
	records := []contracts.DailyRecord{
		{Date: d.AddDays(1), Area: "天河区", AQI: 60, TempMax: 30, TempMin: 20, WindSpeed: 2},
		{Date: d, Area: "天河区", AQI: 40, TempMax: 28, TempMin: 18, WindSpeed: 1},
		{Date: d, Area: "海珠区", AQI: 60, TempMax: 30, TempMin: 20, WindSpeed: 3},
		{Date: d, Area: "越秀区", AQI: math.NaN()},
	}

	series := DailySeries(records)
	require.Len(t, series, 2)
	assert.Equal(t, d, series[0].Date)
	assert.Equal(t, 50.0, series[0].AQI)
	assert.Equal(t, 29.0, series[0].MaxTemp)
	assert.Equal(t, 2.0, series[0].WindSpeed)
	assert.Equal(t, 60.0, series[1].AQI)
}
