package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var (
	dayFirstSlash = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})$`)
	yearFirst     = regexp.MustCompile(`^(\d{4})[/\-.](\d{1,2})[/\-.](\d{1,2})$`)
	longSpanish   = regexp.MustCompile(`(?i)^(\d{1,2})\s+de\s+([a-záéíóúñ]+)\s+(?:de\s+|del\s+)?(\d{4})$`)
)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June, "julio": time.July,
	"agosto": time.August, "septiembre": time.September, "setiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

// ParseStudyDate converts a report date into YYYY-MM-DD. Numeric dates are
// always read day first ("07/08/2025" is the 7th of August).
func ParseStudyDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if len(s) == 10 && strings.Contains(s, "-") {
		if _, err := time.Parse(DateLayout, s); err == nil {
			return s, true
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), true
	}
	if len(s) > 10 && s[10] == 'T' {
		if t, err := time.Parse(DateLayout, s[:10]); err == nil {
			return t.Format(DateLayout), true
		}
	}

	if m := yearFirst.FindStringSubmatch(s); m != nil {
		return build(m[1], m[2], m[3])
	}
	if m := dayFirstSlash.FindStringSubmatch(s); m != nil {
		year := m[3]
		switch len(year) {
		case 2:
			year = "20" + year
		case 4:
		default:
			return "", false
		}
		return build(year, m[2], m[1])
	}
	if m := longSpanish.FindStringSubmatch(s); m != nil {
		month, ok := spanishMonths[strings.ToLower(m[2])]
		if !ok {
			return "", false
		}
		return build(m[3], strconv.Itoa(int(month)), m[1])
	}
	return "", false
}

// NormalizeStudyDate is ParseStudyDate falling back to the date of now.
func NormalizeStudyDate(raw string, now time.Time) string {
	if d, ok := ParseStudyDate(raw); ok {
		return d
	}
	return now.Format(DateLayout)
}

func build(year, month, day string) (string, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	s := fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	t, err := time.Parse(DateLayout, s)
	if err != nil || t.Format(DateLayout) != s {
		return "", false
	}
	return s, true
}
