package history

import (
	"regexp"
	"strconv"
	"strings"
)

var digitsRe = regexp.MustCompile(`\d+`)

// ParseWind splits a wind text such as "东北风3级" into level 3 and direction "东北风".
// ok is false when the text carries no level.
func ParseWind(text string) (speed int, direction string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", false
	}

	direction = digitsRe.ReplaceAllString(text, "")
	direction = strings.TrimSpace(strings.ReplaceAll(direction, "级", ""))

	m := digitsRe.FindString(text)
	if m == "" {
		return 0, direction, false
	}
	speed, err := strconv.Atoi(m)
	if err != nil {
		return 0, direction, false
	}
	return speed, direction, true
}

// SimplifyWeather keeps the main weather before "~" ("多云~小雨" is "多云")
func SimplifyWeather(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "~"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
