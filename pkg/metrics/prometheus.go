package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup outcomes recorded by RecordLookup.
const (
	LookupValid       = "valid"
	LookupUnavailable = "unavailable"
	LookupTimeout     = "timeout"
	LookupCancelled   = "cancelled"
)

// Manager owns every Prometheus metric of the service.
// A nil *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	// Forecasting
	forecastsTotal   *prometheus.CounterVec
	forecastDuration prometheus.Histogram

	// Self-check gates
	backtestMAPE     *prometheus.GaugeVec
	backtestPass     *prometheus.GaugeVec
	consistencyRate  *prometheus.GaugeVec
	consistencyPass  *prometheus.GaugeVec
	selfCheckOK      *prometheus.GaugeVec
	selfCheckRuns    *prometheus.CounterVec
	selfCheckLastRun prometheus.Gauge

	// External source
	lookupsTotal *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager. By default it registers on a fresh
// registry so that tests and multiple instances never collide.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "aqiguard",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.forecastsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "forecasts_total",
		Help:      "Forecast requests by outcome",
	}, []string{"outcome"})

	m.forecastDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "forecast_duration_seconds",
		Help:      "Time spent fitting and producing a 7-day forecast",
		Buckets:   m.histogramBuckets,
	})

	m.backtestMAPE = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "backtest_mape",
		Help:      "Latest walk-forward MAPE per area",
	}, []string{"area"})

	m.backtestPass = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "backtest_pass",
		Help:      "1 if the latest backtest passed its threshold",
	}, []string{"area"})

	m.consistencyRate = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "consistency_error_rate",
		Help:      "Latest stored-vs-authoritative mismatch rate per area",
	}, []string{"area"})

	m.consistencyPass = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "consistency_pass",
		Help:      "1 pass, 0 fail, -1 undetermined",
	}, []string{"area"})

	m.selfCheckOK = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "selfcheck_ok",
		Help:      "1 if the latest self-check passed both gates",
	}, []string{"area"})

	m.selfCheckRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "selfcheck_runs_total",
		Help:      "Self-check runs by result",
	}, []string{"result"})

	m.selfCheckLastRun = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "selfcheck_last_run_unixtime",
		Help:      "Unix time of the latest self-check",
	})

	m.lookupsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "external_lookups_total",
		Help:      "Authoritative source lookups by outcome",
	}, []string{"outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordForecast records one forecast call.
func (m *Manager) RecordForecast(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.forecastsTotal.WithLabelValues(outcome).Inc()
	m.forecastDuration.Observe(duration.Seconds())
}

// RecordLookup records one authoritative source lookup.
func (m *Manager) RecordLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordBacktest sets the backtest gauges. mape is nil when undefined.
func (m *Manager) RecordBacktest(area string, mape *float64, pass bool) {
	if m == nil {
		return
	}
	if mape != nil {
		m.backtestMAPE.WithLabelValues(area).Set(*mape)
	}
	m.backtestPass.WithLabelValues(area).Set(boolGauge(pass))
}

// RecordConsistency sets the consistency gauges. status is pass, fail or undetermined.
func (m *Manager) RecordConsistency(area string, errorRate float64, status string) {
	if m == nil {
		return
	}
	m.consistencyRate.WithLabelValues(area).Set(errorRate)

	v := -1.0
	switch status {
	case "pass":
		v = 1
	case "fail":
		v = 0
	}
	m.consistencyPass.WithLabelValues(area).Set(v)
}

// RecordSelfCheck records the combined gate of one self-check run.
func (m *Manager) RecordSelfCheck(area string, ok bool, at time.Time) {
	if m == nil {
		return
	}
	result := "fail"
	if ok {
		result = "ok"
	}
	m.selfCheckOK.WithLabelValues(area).Set(boolGauge(ok))
	m.selfCheckRuns.WithLabelValues(result).Inc()
	m.selfCheckLastRun.Set(float64(at.Unix()))
}

// RecordHTTP records one served HTTP request.
func (m *Manager) RecordHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
