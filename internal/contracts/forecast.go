package contracts

// Quantile levels produced by the forecaster
var ForecastQuantiles = []float64{0.1, 0.5, 0.9}

// ForecastPoint is one day of a probabilistic AQI forecast.
// Confidence is nil when unknown, which is not the same as zero.
type ForecastPoint struct {
	Date       Date     `json:"date"`
	AQIP10     float64  `json:"aqi_p10"`
	AQIP50     float64  `json:"aqi_p50"`
	AQIP90     float64  `json:"aqi_p90"`
	Level      string   `json:"level"`
	Color      string   `json:"color"`
	Tip        string   `json:"tip"`
	Confidence *float64 `json:"confidence"`
}

// ModelInfo describes the fitted model behind a forecast
type ModelInfo struct {
	TrainSamples int       `json:"train_samples"`
	Lags         int       `json:"lags"`
	Quantiles    []float64 `json:"quantiles,omitempty"`
	Note         string    `json:"note,omitempty"`
}

// ForecastResult is the full response of one forecast call
type ForecastResult struct {
	Area      string          `json:"area"`
	AsOf      Date            `json:"as_of"`
	Forecast  []ForecastPoint `json:"forecast"`
	ModelInfo ModelInfo       `json:"model_info"`
}

// RiskBand maps an AQI range to its display annotation
type RiskBand struct {
	Max   float64 // inclusive upper bound
	Level string
	Color string
	Tip   string
}

// RiskBands is the fixed AQI breakpoint table, ordered by Max
// ⭐ SSOT: level, colour and tip always come from this table
var RiskBands = []RiskBand{
	{Max: 50, Level: "优", Color: "#4caf50", Tip: "空气质量令人满意，基本无空气污染，各类人群可正常活动。"},
	{Max: 100, Level: "良", Color: "#ffc107", Tip: "空气质量可接受，但某些污染物可能对极少数异常敏感人群健康有较弱影响。"},
	{Max: 150, Level: "轻度污染", Color: "#ff9800", Tip: "易感人群症状有轻度加剧，健康人群出现刺激症状。建议儿童、老年人及心脏病、呼吸系统疾病患者减少长时间、高强度的户外锻炼。"},
	{Max: 200, Level: "中度污染", Color: "#f44336", Tip: "进一步加剧易感人群症状，可能对健康人群心脏、呼吸系统有影响。建议儿童、老年人及心脏病、呼吸系统疾病患者避免长时间、高强度的户外锻炼，一般人群适量减少户外运动。"},
	{Max: 300, Level: "重度污染", Color: "#9c27b0", Tip: "心脏病和肺病患者症状显著加剧，运动耐受力降低，健康人群普遍出现症状。建议儿童、老年人和心脏病、肺病患者应停留在室内，停止户外运动，一般人群避免户外运动。"},
}

// SevereBand covers everything above the last breakpoint
var SevereBand = RiskBand{Level: "严重污染", Color: "#795548", Tip: "健康人群运动耐受力降低，有明显强烈症状，提前出现某些疾病。建议儿童、老年人和病人应停留在室内，避免体力消耗，一般人群应避免户外活动。"}

// UnknownBand is used when no AQI value is available
var UnknownBand = RiskBand{Level: "未知", Color: "#9e9e9e", Tip: "数据缺失，无法评估。"}

// BandFor returns the risk band of an AQI value
func BandFor(aqi float64) RiskBand {
	if aqi != aqi || aqi < 0 { // NaN or negative
		return UnknownBand
	}
	for _, b := range RiskBands {
		if aqi <= b.Max {
			return b
		}
	}
	return SevereBand
}
