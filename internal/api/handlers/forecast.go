package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/forecast"
	"github.com/wonny/aqiguard/pkg/logger"
	"github.com/wonny/aqiguard/pkg/metrics"
	"github.com/wonny/aqiguard/pkg/redis"
)

// ForecastHandler handles the 7-day forecast endpoints
// ⭐ SSOT: forecast HTTP handlers live in this struct only
type ForecastHandler struct {
	store      contracts.HistoryStore
	forecaster *forecast.Forecaster
	cache      *redis.Cache
	cacheTTL   time.Duration
	metrics    *metrics.Manager
	logger     *logger.Logger
}

// NewForecastHandler creates a new forecast handler.
// cache and m may be nil.
func NewForecastHandler(
	store contracts.HistoryStore,
	forecaster *forecast.Forecaster,
	cache *redis.Cache,
	cacheTTL time.Duration,
	m *metrics.Manager,
	log *logger.Logger,
) *ForecastHandler {
	return &ForecastHandler{
		store:      store,
		forecaster: forecaster,
		cache:      cache,
		cacheTTL:   cacheTTL,
		metrics:    m,
		logger:     log,
	}
}

// Forecast7d forecasts the next 7 days from the stored history
// GET /api/analysis/forecast_7d?area=&start=&end=
func (h *ForecastHandler) Forecast7d(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	area := queryArea(r, DefaultArea)
	start, startErr := queryDate(r, "start")
	end, endErr := queryDate(r, "end")
	if err := firstErr(startErr, endErr); err != nil {
		respondDomainError(w, h.logger, err, "forecast")
		return
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		respondDomainError(w, h.logger, contracts.Invalid("end", "before start"), "forecast")
		return
	}

	compute := func() (interface{}, error) {
		history, err := h.store.Read(ctx, area, start, end)
		if err != nil {
			return nil, err
		}
		return h.forecast(r, forecast.Request{Area: area, History: history})
	}

	if h.cache == nil {
		result, err := compute()
		if err != nil {
			respondDomainError(w, h.logger, err, "forecast")
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	var result contracts.ForecastResult
	hit, err := h.cache.GetOrSet(ctx, redis.ForecastKey(area, start.String(), end.String()), &result, h.cacheTTL, compute)
	if err != nil {
		respondDomainError(w, h.logger, err, "forecast")
		return
	}
	if hit {
		h.logger.WithField("area", area).Debug("forecast served from cache")
	}
	respondJSON(w, http.StatusOK, result)
}

// PredictRequest is the body of the explicit-meteorology forecast
type PredictRequest struct {
	Area  string                 `json:"area"`
	Meteo []contracts.MeteoInput `json:"meteo_7d"`
}

// Predict7d forecasts the next 7 days using caller supplied meteorology
// POST /api/predict/aqi_7d
func (h *ForecastHandler) Predict7d(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Area == "" {
		req.Area = DefaultArea
	}
	if req.Meteo != nil && len(req.Meteo) != h.forecaster.Config().Horizon {
		respondDomainError(w, h.logger, contracts.Invalid("meteo_7d", "must have %d entries, got %d", h.forecaster.Config().Horizon, len(req.Meteo)), "forecast")
		return
	}

	history, err := h.store.Read(ctx, req.Area, contracts.Date{}, contracts.Date{})
	if err != nil {
		respondDomainError(w, h.logger, err, "forecast")
		return
	}

	result, err := h.forecast(r, forecast.Request{Area: req.Area, History: history, Meteo: req.Meteo})
	if err != nil {
		respondDomainError(w, h.logger, err, "forecast")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *ForecastHandler) forecast(r *http.Request, req forecast.Request) (*contracts.ForecastResult, error) {
	startTime := time.Now()
	result, err := h.forecaster.Forecast(r.Context(), req)
	h.metrics.RecordForecast(time.Since(startTime), err)
	return result, err
}
