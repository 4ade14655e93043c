package forecast

import (
	"math"
	"sort"

	"github.com/wonny/aqiguard/internal/contracts"
)

// DayObservation is one calendar day of the modelled series
type DayObservation struct {
	Date      contracts.Date
	AQI       float64
	MaxTemp   float64
	MinTemp   float64
	WindSpeed float64
}

// DailySeries collapses records into one observation per date, oldest first.
// Several records on the same date (city-wide input) are averaged.
// Records with a non-finite AQI or temperature are dropped.
func DailySeries(records []contracts.DailyRecord) []DayObservation {
	type acc struct {
		n   int
		sum DayObservation
	}
	byDate := make(map[contracts.Date]*acc)

	for _, r := range records {
		if r.Date.IsZero() || !finite(r.AQI) || !finite(r.TempMax) || !finite(r.TempMin) || r.AQI < 0 {
			continue
		}
		a, ok := byDate[r.Date]
		if !ok {
			a = &acc{}
			byDate[r.Date] = a
		}
		a.n++
		a.sum.AQI += r.AQI
		a.sum.MaxTemp += r.TempMax
		a.sum.MinTemp += r.TempMin
		a.sum.WindSpeed += float64(r.WindSpeed)
	}

	series := make([]DayObservation, 0, len(byDate))
	for d, a := range byDate {
		n := float64(a.n)
		series = append(series, DayObservation{
			Date:      d,
			AQI:       a.sum.AQI / n,
			MaxTemp:   a.sum.MaxTemp / n,
			MinTemp:   a.sum.MinTemp / n,
			WindSpeed: a.sum.WindSpeed / n,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	return series
}

// trainingSet builds lagged samples: target day t uses AQI of the lags
// preceding observations plus day t's own meteorology
func trainingSet(series []DayObservation, lags int) ([][]float64, []float64) {
	var X [][]float64
	var y []float64

	for t := lags; t < len(series); t++ {
		row := make([]float64, 0, lags+3)
		for k := 1; k <= lags; k++ {
			row = append(row, series[t-k].AQI)
		}
		row = append(row, series[t].MaxTemp, series[t].MinTemp, series[t].WindSpeed)

		X = append(X, row)
		y = append(y, series[t].AQI)
	}

	return X, y
}

// featureRow builds the inference row for one future day.
// recent holds the latest AQI values, most recent first.
func featureRow(recent []float64, lags int, meteo contracts.MeteoInput) []float64 {
	row := make([]float64, 0, lags+3)
	row = append(row, recent[:lags]...)
	return append(row, meteo.MaxTemp, meteo.MinTemp, meteo.WindSpeed)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
