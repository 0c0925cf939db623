package core

// convert.go coerces raw cells to typed field values.
//
// These functions handle the messy reality of spreadsheet data:
//   - Currency symbols, codes and thousand separators in numbers
//   - Various boolean spellings (yes/true/1)
//   - Day-first and year-first dates with any of / - . as separator
//
// Every coercion reports ok=false when the cell is absent (null, missing or
// blank). Absent values are left out of ParsedRow.Data.

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/tabimport/internal/schema"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are
// assumed to be in the previous century.
var TwoDigitYearPivot = 20

// directDateLayouts are tried before the numeric split. They are limited to
// layouts that cannot confuse day and month.
var directDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"Mon, 02 Jan 2006",
}

// Coerce converts v to the Go representation of t: string, float64, bool,
// or a YYYY-MM-DD string for dates. ok is false when the value is absent.
func Coerce(v Value, t schema.FieldType) (any, bool) {
	return coerceAt(v, t, time.Now())
}

func coerceAt(v Value, t schema.FieldType, now time.Time) (any, bool) {
	switch t {
	case schema.TypeNumber:
		return CoerceNumber(v)
	case schema.TypeBoolean:
		return CoerceBool(v)
	case schema.TypeDate:
		return coerceDate(v, now)
	default:
		return CoerceString(v)
	}
}

// CoerceString trims the cell. Empty is absent.
func CoerceString(v Value) (string, bool) {
	s := strings.TrimSpace(v.String())
	return s, s != ""
}

// CoerceNumber keeps only digits, '.' and '-' and parses the rest.
// A present but unparsable cell coerces to 0, so "45,230.50 ZMW" is
// 45230.5 and "abc" is 0.
func CoerceNumber(v Value) (float64, bool) {
	if n, ok := v.Number(); ok {
		return n, true
	}

	s, ok := CoerceString(v)
	if !ok {
		return 0, false
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c == '.' || c == '-' {
			b.WriteByte(c)
		}
	}

	n, err := strconv.ParseFloat(numericPrefix(b.String()), 64)
	if err != nil {
		return 0, true
	}
	return n, true
}

// numericPrefix returns the longest leading part of s of the form
// [-]digits[.digits], so "1.2.3" reads as 1.2 and "10-20" as 10.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j > i+1 || digits > 0 {
			digits += j - i - 1
			i = j
		}
	}
	if digits == 0 {
		return ""
	}
	return s[:i]
}

// CoerceBool is true iff the lowercased cell is "true", "yes" or "1".
func CoerceBool(v Value) (bool, bool) {
	if b, ok := v.Bool(); ok {
		return b, true
	}

	s, ok := CoerceString(v)
	if !ok {
		return false, false
	}

	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true, true
	default:
		return false, true
	}
}

// CoerceDate parses the cell as a calendar date and renders it YYYY-MM-DD.
// Unparsable dates are absent.
func CoerceDate(v Value) (string, bool) {
	return coerceDate(v, time.Now())
}

func coerceDate(v Value, now time.Time) (string, bool) {
	s, ok := CoerceString(v)
	if !ok {
		return "", false
	}

	for _, layout := range directDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) != 3 {
		return "", false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return "", false
		}
		nums[i] = n
	}
	a, b, c := nums[0], nums[1], nums[2]

	var year, month, day int
	switch {
	case a > 31:
		year, month, day = a, b, c
	case c > 31:
		year, month, day = c, b, a
	default:
		return "", false
	}

	if year < 100 && len(strings.TrimSpace(parts[yearPart(a)])) <= 2 {
		year = expandYear(year, now)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// yearPart returns which split part held the year given the first part.
func yearPart(first int) int {
	if first > 31 {
		return 0
	}
	return 2
}

// expandYear maps a 2-digit year to a full year around now.
func expandYear(yy int, now time.Time) int {
	century := now.Year() / 100 * 100
	year := century + yy
	if year > now.Year()+TwoDigitYearPivot {
		year -= 100
	}
	return year
}
