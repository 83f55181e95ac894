package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout        = "2006-01-02"
	dateDisplayLayout = "Monday, January 02, 2006"
	dateShortLayout   = "Monday, January 02"
)

var ordinalSuffix = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)

type dateLayoutSpec struct {
	layout  string
	hasYear bool
}

// Tried in order; ambiguous numeric dates resolve month-first.
var dateLayouts = []dateLayoutSpec{
	{"2006-1-2", true},
	{"2-1-2006", true},
	{"1/2/2006", true},
	{"2/1/2006", true},
	{"January 2", false},
	{"Jan 2", false},
	{"2 January", false},
	{"2 Jan", false},
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// ParseDate resolves relative and absolute date phrases against now. The
// result keeps now's location.
func ParseDate(input string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.Join(strings.Fields(s), " ")
	today := truncateDay(now)

	switch s {
	case "today", "now":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "day after tomorrow":
		return today.AddDate(0, 0, 2), nil
	}

	if strings.Contains(s, "next") {
		for i, day := range weekdays {
			if strings.Contains(s, day) {
				current := (int(today.Weekday()) + 6) % 7
				ahead := i - current
				if ahead <= 0 {
					ahead += 7
				}
				return today.AddDate(0, 0, ahead), nil
			}
		}
		if strings.Contains(s, "week") {
			return today.AddDate(0, 0, 7), nil
		}
	}

	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ",", "")
	for _, l := range dateLayouts {
		parsed, err := time.ParseInLocation(l.layout, s, now.Location())
		if err != nil {
			continue
		}
		if l.hasYear {
			return parsed, nil
		}
		candidate := time.Date(today.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, now.Location())
		if candidate.Month() != parsed.Month() {
			continue
		}
		if candidate.Before(today) {
			candidate = time.Date(today.Year()+1, parsed.Month(), parsed.Day(), 0, 0, 0, 0, now.Location())
		}
		return candidate, nil
	}

	return time.Time{}, fmt.Errorf("could not parse date: %s", s)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NormalizeTime converts spoken or written clock times ("2pm", "2:30 p.m.",
// "14:00") to HH:MM. Input that cannot be parsed is returned stripped so the
// slot check can reject it.
func NormalizeTime(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.ReplaceAll(s, " ", "")

	isPM := strings.Contains(s, "pm") || strings.Contains(s, "p.m")
	isAM := strings.Contains(s, "am") || strings.Contains(s, "a.m")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, "pm", "")
	s = strings.ReplaceAll(s, "am", "")

	var hour, minute int
	var err error
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return s
		}
		if hour, err = strconv.Atoi(parts[0]); err != nil {
			return s
		}
		if parts[1] != "" {
			if minute, err = strconv.Atoi(parts[1]); err != nil {
				return s
			}
		}
	} else {
		if hour, err = strconv.Atoi(s); err != nil {
			return s
		}
	}

	switch {
	case isPM && hour < 12:
		hour += 12
	case isAM && hour == 12:
		hour = 0
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}
