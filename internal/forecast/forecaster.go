package forecast

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/stats"
)

// Config holds quantile forecaster settings
type Config struct {
	Lags      int // AQI lags used as features
	MinMargin int // distinct days required on top of Lags
	Horizon   int // days forecast ahead
	Fit       stats.QuantileOptions
}

// DefaultConfig returns the production forecaster settings
func DefaultConfig() Config {
	return Config{
		Lags:      7,
		MinMargin: 14,
		Horizon:   7,
		Fit:       stats.DefaultQuantileOptions(),
	}
}

// MinDays is the smallest number of distinct days a fit accepts
func (c Config) MinDays() int {
	return c.Lags + c.MinMargin
}

// Request is one forecast call
type Request struct {
	Area    string
	AsOf    contracts.Date          // zero: latest date in History
	History []contracts.DailyRecord // records of Area (city-wide input is averaged per date)
	Meteo   []contracts.MeteoInput  // optional, exactly Horizon entries
}

// Forecaster produces recursive multi-day P10/P50/P90 AQI forecasts
// ⭐ SSOT: every AQI forecast and one-day-ahead prediction comes from here
//
// Pure: identical requests give identical results.
type Forecaster struct {
	config Config
	log    zerolog.Logger
}

// NewForecaster creates a forecaster with the default settings
func NewForecaster(log zerolog.Logger) *Forecaster {
	return NewForecasterWithConfig(DefaultConfig(), log)
}

// NewForecasterWithConfig creates a forecaster with custom settings
func NewForecasterWithConfig(config Config, log zerolog.Logger) *Forecaster {
	if config.Fit.MaxIter <= 0 {
		config.Fit = stats.DefaultQuantileOptions()
	}
	return &Forecaster{
		config: config,
		log:    log.With().Str("component", "forecast.forecaster").Logger(),
	}
}

// Config returns the forecaster settings
func (f *Forecaster) Config() Config {
	return f.config
}

// =============================================================================
// Forecast
// =============================================================================

// Forecast fits one quantile model per level and rolls them forward Horizon days.
// Each step feeds its P50 back as the next lag input for all levels.
// Crossing quantiles are sorted into order; this is a correction of the
// independently fitted curves, not an exact joint estimate.
func (f *Forecaster) Forecast(ctx context.Context, req Request) (*contracts.ForecastResult, error) {
	if len(req.Meteo) > 0 {
		if err := f.validateMeteo(req.Meteo); err != nil {
			return nil, err
		}
	}

	series, err := f.prepare(req.Area, req.AsOf, req.History)
	if err != nil {
		return nil, err
	}

	X, y := trainingSet(series, f.config.Lags)
	models := make([]*stats.QuantileModel, len(contracts.ForecastQuantiles))
	for i, q := range contracts.ForecastQuantiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := stats.FitQuantile(X, y, q, f.config.Fit)
		if err != nil {
			return nil, fmt.Errorf("fit quantile %.2f: %w", q, err)
		}
		models[i] = m
	}

	last := series[len(series)-1]
	recent := recentAQI(series, f.config.Lags)
	points := make([]contracts.ForecastPoint, 0, f.config.Horizon)

	for step := 0; step < f.config.Horizon; step++ {
		meteo := f.meteoFor(step, last, req.Meteo)
		row := featureRow(recent, f.config.Lags, meteo)

		raw := make([]float64, len(models))
		for i, m := range models {
			raw[i] = m.Predict(row)
		}
		p10, p50, p90 := orderQuantiles(raw[0], raw[1], raw[2])

		points = append(points, newPoint(last.Date.AddDays(step+1), p10, p50, p90))

		// synthetic history: today's P50 becomes tomorrow's lag 1
		recent = append([]float64{p50}, recent[:len(recent)-1]...)
	}

	note := "future meteorology held at the last observed max_temp/min_temp/wind_speed"
	if len(req.Meteo) > 0 {
		note = "future meteorology taken from request meteo_7d"
	}

	f.log.Debug().
		Str("area", req.Area).
		Str("as_of", last.Date.String()).
		Int("train_samples", len(y)).
		Float64("p50_day1", points[0].AQIP50).
		Msg("forecast generated")

	return &contracts.ForecastResult{
		Area:     req.Area,
		AsOf:     last.Date,
		Forecast: points,
		ModelInfo: contracts.ModelInfo{
			TrainSamples: len(y),
			Lags:         f.config.Lags,
			Quantiles:    contracts.ForecastQuantiles,
			Note:         note,
		},
	}, nil
}

// PredictNext returns the one-day-ahead P50 for the day after the latest record.
// Future meteorology is held at the last observed values, so no record dated
// after the history is consulted.
func (f *Forecaster) PredictNext(ctx context.Context, area string, history []contracts.DailyRecord) (float64, error) {
	series, err := f.prepare(area, contracts.Date{}, history)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	X, y := trainingSet(series, f.config.Lags)
	m, err := stats.FitQuantile(X, y, 0.5, f.config.Fit)
	if err != nil {
		return 0, fmt.Errorf("fit median: %w", err)
	}

	last := series[len(series)-1]
	row := featureRow(recentAQI(series, f.config.Lags), f.config.Lags, f.meteoFor(0, last, nil))
	return stats.Round(stats.ClampNonNegative(m.Predict(row)), 2), nil
}

// prepare builds the daily series up to asOf and enforces the minimum history
func (f *Forecaster) prepare(area string, asOf contracts.Date, history []contracts.DailyRecord) ([]DayObservation, error) {
	if !asOf.IsZero() {
		cut := make([]contracts.DailyRecord, 0, len(history))
		for _, r := range history {
			if !r.Date.After(asOf) {
				cut = append(cut, r)
			}
		}
		history = cut
	}

	series := DailySeries(history)
	if len(series) < f.config.MinDays() {
		return nil, &contracts.InsufficientDataError{
			Area: area,
			What: "forecast history",
			Have: len(series),
			Need: f.config.MinDays(),
		}
	}
	return series, nil
}

func (f *Forecaster) validateMeteo(meteo []contracts.MeteoInput) error {
	if len(meteo) != f.config.Horizon {
		return contracts.Invalid("meteo_7d", "expected %d entries, got %d", f.config.Horizon, len(meteo))
	}
	for i, m := range meteo {
		if !finite(m.MaxTemp) || !finite(m.MinTemp) || !finite(m.WindSpeed) {
			return contracts.Invalid("meteo_7d", "entry %d has a non-numeric value", i)
		}
		if m.MinTemp > m.MaxTemp {
			return contracts.Invalid("meteo_7d", "entry %d has min_temp above max_temp", i)
		}
		if m.WindSpeed < 0 {
			return contracts.Invalid("meteo_7d", "entry %d has negative wind_speed", i)
		}
	}
	return nil
}

func (f *Forecaster) meteoFor(step int, last DayObservation, supplied []contracts.MeteoInput) contracts.MeteoInput {
	if step < len(supplied) {
		return supplied[step]
	}
	return contracts.MeteoInput{MaxTemp: last.MaxTemp, MinTemp: last.MinTemp, WindSpeed: last.WindSpeed}
}

// recentAQI returns the last lags AQI values, most recent first
func recentAQI(series []DayObservation, lags int) []float64 {
	out := make([]float64, lags)
	for k := 0; k < lags; k++ {
		out[k] = series[len(series)-1-k].AQI
	}
	return out
}

// orderQuantiles clamps to >= 0 and sorts so that p10 <= p50 <= p90
func orderQuantiles(a, b, c float64) (p10, p50, p90 float64) {
	vals := []float64{stats.ClampNonNegative(a), stats.ClampNonNegative(b), stats.ClampNonNegative(c)}
	sort.Float64s(vals)
	return vals[0], vals[1], vals[2]
}

func newPoint(date contracts.Date, p10, p50, p90 float64) contracts.ForecastPoint {
	p10, p50, p90 = stats.Round(p10, 2), stats.Round(p50, 2), stats.Round(p90, 2)
	band := contracts.BandFor(p50)
	conf := Confidence(p10, p50, p90)

	return contracts.ForecastPoint{
		Date:       date,
		AQIP10:     p10,
		AQIP50:     p50,
		AQIP90:     p90,
		Level:      band.Level,
		Color:      band.Color,
		Tip:        band.Tip,
		Confidence: &conf,
	}
}

// Confidence decreases monotonically with the band width relative to p50
func Confidence(p10, p50, p90 float64) float64 {
	denom := p50
	if denom < 1 {
		denom = 1
	}
	return stats.Round(1/(1+(p90-p10)/denom), 3)
}

// MinHistory is the number of distinct days PredictNext needs
func (f *Forecaster) MinHistory() int {
	return f.config.MinDays()
}
