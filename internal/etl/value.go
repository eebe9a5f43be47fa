package etl

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Coercion helpers shared by the flatteners and job transforms. The
// defaults follow the warehouse column policy: missing text becomes the
// empty string, missing counts 0, missing percentages 0.0.

// Str returns v as a string, or "" when absent.
func Str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Count returns v as an integer, or 0 when absent or unparseable.
func Count(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Percent returns v as a float, or 0.0 when absent or unparseable.
func Percent(v any) float64 {
	f, ok := Float(v)
	if !ok {
		return 0
	}
	return f
}

// Float parses v as a float. Numeric strings may use a comma decimal
// separator ("12,5"); the comma is replaced with a dot before parsing.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatOrNil is Float with a nil result for absent values, for columns
// whose policy is an explicit null rather than 0.
func FloatOrNil(v any) any {
	f, ok := Float(v)
	if !ok {
		return nil
	}
	return f
}

// Date layouts seen upstream. Some custom fields are day-first, some are
// not; callers pick per field via dayFirst.
var (
	monthFirstLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "01/02/2006"}
	dayFirstLayouts   = []string{"02/01/2006", "02-01-2006", "2006-01-02"}
)

// Date parses v as a UTC calendar date. dayFirst selects the day/month
// ordering for slash-separated values; the ordering is a per-field
// property of the upstream, not a global one. Absent or unparseable
// values yield nil.
func Date(v any, dayFirst bool) any {
	s := strings.TrimSpace(Str(v))
	if s == "" {
		return nil
	}
	layouts := monthFirstLayouts
	if dayFirst {
		layouts = dayFirstLayouts
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			y, m, d := ts.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
	}
	return nil
}

// Timestamp parses v as a UTC-aware instant. Absent or unparseable
// values yield nil.
func Timestamp(v any) any {
	s := strings.TrimSpace(Str(v))
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return nil
}

// Truncate limits a string to n runes. Used for columns with a declared
// warehouse width (e.g. comments capped at 200).
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// equalValue compares two stored values for the loader's change check.
// Both sides being an "empty" representation (nil or "") counts as
// equal so representation drift never triggers spurious updates.
func equalValue(a, b any) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Equal(bt)
		}
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return af == bf
	}
	return Str(a) == Str(b)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	default:
		return false
	}
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
