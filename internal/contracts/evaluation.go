package contracts

// BacktestPoint pairs a realized AQI with the one-day-ahead P50 made
// strictly from data before Date
type BacktestPoint struct {
	Date Date    `json:"date"`
	Real float64 `json:"real"`
	Pred float64 `json:"pred"`
}

// ForecastEval is the walk-forward backtest report.
// MAPE is nil when no point had a non-zero real value.
type ForecastEval struct {
	Area         string          `json:"area"`
	BacktestDays int             `json:"backtest_days"`
	MAPE         *float64        `json:"mape"`
	Threshold    float64         `json:"threshold"`
	Points       []BacktestPoint `json:"points"`
	Excluded     int             `json:"excluded"` // points with real == 0
	Skipped      int             `json:"skipped"`  // window days with no usable record
	Pass         bool            `json:"pass"`
}

// ConsistencyItem compares one stored record with the authoritative source.
// Web fields are nil when the lookup was not valid.
type ConsistencyItem struct {
	Area       string   `json:"area"`
	Date       Date     `json:"date"`
	DBAQI      float64  `json:"db_aqi"`
	WebAQI     *float64 `json:"web_aqi"`
	DBMaxTemp  float64  `json:"db_max_temp"`
	WebMaxTemp *float64 `json:"web_max_temp"`
	DBMinTemp  float64  `json:"db_min_temp"`
	WebMinTemp *float64 `json:"web_min_temp"`
	Valid      bool     `json:"valid"`
	OK         bool     `json:"ok"`
	Reason     string   `json:"reason,omitempty"` // why the lookup was not valid
}

// ConsistencyStatus is the three-valued outcome of a consistency check
type ConsistencyStatus string

const (
	ConsistencyPass         ConsistencyStatus = "pass"
	ConsistencyFail         ConsistencyStatus = "fail"
	ConsistencyUndetermined ConsistencyStatus = "undetermined"
)

// ConsistencyReport is the resampled consistency check result
type ConsistencyReport struct {
	Items      []ConsistencyItem `json:"items"`
	SampleSize int               `json:"sample_size"` // records drawn
	Evaluated  int               `json:"evaluated"`   // lookups that completed
	Cancelled  int               `json:"cancelled"`   // lookups abandoned on cancellation
	Valid      int               `json:"valid"`
	PassCount  int               `json:"pass_count"`
	FailCount  int               `json:"fail_count"`
	ErrorRate  float64           `json:"error_rate"`
	Limit      float64           `json:"limit"`
	Status     ConsistencyStatus `json:"status"`
	Pass       bool              `json:"pass"`
}

// WebConsistencySummary is the consistency section of a self-check report
type WebConsistencySummary struct {
	ErrorRate  float64           `json:"error_rate"`
	Limit      float64           `json:"limit"`
	Valid      int               `json:"valid"`
	SampleSize int               `json:"sample_size"`
	Evaluated  int               `json:"evaluated"`
	Status     ConsistencyStatus `json:"status"`
	Pass       bool              `json:"pass"`
}

// ForecastEvalSummary is the backtest section of a self-check report
type ForecastEvalSummary struct {
	MAPE      *float64        `json:"mape"`
	Threshold float64         `json:"threshold"`
	Points    []BacktestPoint `json:"points"`
	Excluded  int             `json:"excluded"`
	Pass      bool            `json:"pass"`
}

// SelfCheckReport is the combined gate.
// A section is nil when its sub-check could not run; Error then says why and OK is false.
type SelfCheckReport struct {
	RunID          string                 `json:"run_id"`
	Area           string                 `json:"area"`
	WebConsistency *WebConsistencySummary `json:"web_consistency"`
	ForecastEval   *ForecastEvalSummary   `json:"forecast_eval"`
	OK             bool                   `json:"ok"`
	Error          string                 `json:"error,omitempty"`
}

// Summary reduces a consistency report to its self-check section
func (r *ConsistencyReport) Summary() *WebConsistencySummary {
	return &WebConsistencySummary{
		ErrorRate:  r.ErrorRate,
		Limit:      r.Limit,
		Valid:      r.Valid,
		SampleSize: r.SampleSize,
		Evaluated:  r.Evaluated,
		Status:     r.Status,
		Pass:       r.Pass,
	}
}

// Summary reduces a backtest report to its self-check section
func (e *ForecastEval) Summary() *ForecastEvalSummary {
	return &ForecastEvalSummary{
		MAPE:      e.MAPE,
		Threshold: e.Threshold,
		Points:    e.Points,
		Excluded:  e.Excluded,
		Pass:      e.Pass,
	}
}
