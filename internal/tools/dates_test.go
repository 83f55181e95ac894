package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday.
var refNow = time.Date(2026, time.January, 21, 15, 30, 0, 0, time.UTC)

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"today":              "2026-01-21",
		"Now":                "2026-01-21",
		"tomorrow":           "2026-01-22",
		"day after tomorrow": "2026-01-23",
		"next monday":        "2026-01-26",
		"next Wednesday":     "2026-01-28",
		"next thursday":      "2026-01-22",
		"next week":          "2026-01-28",
		"2026-01-22":         "2026-01-22",
		"2026-3-5":           "2026-03-05",
		"22-01-2026":         "2026-01-22",
		"01/30/2026":         "2026-01-30",
		"30/01/2026":         "2026-01-30",
		"March 15th":         "2026-03-15",
		"mar 15":             "2026-03-15",
		"15 March":           "2026-03-15",
		"1st jan":            "2027-01-01",
		"January 21":         "2026-01-21",
	}
	for in, want := range cases {
		got, err := ParseDate(in, refNow)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.Format(dateLayout), in)
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "someday", "13/13/2026", "next blursday"} {
		_, err := ParseDate(in, refNow)
		assert.Error(t, err, in)
	}
}

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"2pm":       "14:00",
		"2 PM":      "14:00",
		"2:30 p.m.": "14:30",
		"2:30pm":    "14:30",
		"12pm":      "12:00",
		"12am":      "00:00",
		"9am":       "09:00",
		"9 a.m.":    "09:00",
		"14:00":     "14:00",
		"9":         "09:00",
		"10:":       "10:00",
		"noon":      "noon",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTime(in), in)
	}
}
