package tianqi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/history"
)

// Row is one day of a history page. Nil fields were blank or unparsable.
type Row struct {
	Date    contracts.Date `json:"date"`
	MaxTemp *float64       `json:"max_temp"`
	MinTemp *float64       `json:"min_temp"`
	Weather string         `json:"weather"`
	Wind    string         `json:"wind"`
	AQI     *int           `json:"aqi"`
}

// ParseHistoryPage extracts the rows of the history table.
// Temperatures come either as "30°/22°" in one cell or as two cells.
func ParseHistoryPage(html string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table.history-table").First()
	if table.Length() == 0 {
		return nil, nil
	}

	var rows []Row
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		cells := make([]string, 0, 6)
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if len(cells) < 6 {
			return
		}

		fields := strings.Fields(cells[0])
		if len(fields) == 0 {
			return
		}
		date, err := contracts.ParseDate(fields[0])
		if err != nil {
			return
		}

		row := Row{Date: date}
		if strings.Contains(cells[1], "/") {
			parts := strings.SplitN(cells[1], "/", 2)
			row.MaxTemp = parseTemp(parts[0])
			row.MinTemp = parseTemp(parts[1])
			row.Weather, row.Wind = cells[2], cells[3]
		} else {
			row.MaxTemp = parseTemp(cells[1])
			row.MinTemp = parseTemp(cells[2])
			row.Weather, row.Wind = cells[3], cells[4]
		}
		row.AQI = parseAQI(cells[5])

		rows = append(rows, row)
	})

	return rows, nil
}

// parseTemp keeps digits, sign and decimal point ("-3°" is -3)
func parseTemp(s string) *float64 {
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '-' || r == '.' {
			return r
		}
		return -1
	}, s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseAQI keeps the digits of a cell such as "42 优"
func parseAQI(s string) *int {
	s = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

// complete reports whether the row carries every compared field
func (r Row) complete() bool {
	return r.AQI != nil && r.MaxTemp != nil && r.MinTemp != nil
}

// record converts a complete row, normalizing wind and weather text
func (r Row) record(area string) *contracts.DailyRecord {
	rec := &contracts.DailyRecord{
		Date:    r.Date,
		Area:    area,
		AQI:     float64(*r.AQI),
		TempMax: *r.MaxTemp,
		TempMin: *r.MinTemp,
		Weather: history.SimplifyWeather(r.Weather),
	}
	rec.WindSpeed, rec.WindDirection, _ = history.ParseWind(r.Wind)
	return rec
}

// Records converts the complete rows of a page into stored records of area.
// Incomplete rows are dropped.
func Records(area string, rows []Row) []contracts.DailyRecord {
	out := make([]contracts.DailyRecord, 0, len(rows))
	for _, row := range rows {
		if row.complete() {
			out = append(out, *row.record(area))
		}
	}
	return out
}
