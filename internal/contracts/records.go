package contracts

import "strings"

// DailyRecord is one day of observations for one area
// ⭐ SSOT: at most one record per (area, date); records are never mutated here
type DailyRecord struct {
	Date          Date    `json:"date"`
	Area          string  `json:"area"`
	AQI           float64 `json:"aqi"`
	TempMax       float64 `json:"temp_max"`
	TempMin       float64 `json:"temp_min"`
	WindSpeed     int     `json:"wind_speed"`     // Beaufort-like level, e.g. 3 for "3级"
	WindDirection string  `json:"wind_direction"` // e.g. "东北风"
	Weather       string  `json:"weather"`        // e.g. "多云"
}

// MeteoInput is a caller supplied meteorological input for one future day
type MeteoInput struct {
	MaxTemp   float64 `json:"max_temp"`
	MinTemp   float64 `json:"min_temp"`
	WindSpeed float64 `json:"wind_speed"`
}

// cityAliases select the whole city (no area filter)
var cityAliases = map[string]bool{
	"广州":  true,
	"广州市": true,
	"全市":  true,
	"全部":  true,
	"all": true,
	"ALL": true,
}

// IsCityWide reports whether area means "every district"
func IsCityWide(area string) bool {
	area = strings.TrimSpace(area)
	return area == "" || cityAliases[area]
}
