package etl

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// LeftJoin merges cols from the right table into every row of the left
// table where left[leftKey] == right[rightKey]. Every driving row
// survives; unmatched rows get nil for each joined column. When several
// right rows share a key the first one wins.
func LeftJoin(left, right *Table, leftKey, rightKey string, cols ...string) *Table {
	index := make(map[string]Row, right.Len())
	for _, r := range right.Rows {
		k := Str(r[rightKey])
		if _, seen := index[k]; !seen {
			index[k] = r
		}
	}

	outCols := append(append([]string{}, left.Cols...), cols...)
	out := NewTable(outCols...)
	for _, l := range left.Rows {
		nr := make(Row, len(outCols))
		for _, c := range left.Cols {
			nr[c] = l[c]
		}
		match, ok := index[Str(l[leftKey])]
		for _, c := range cols {
			if ok {
				nr[c] = match[c]
			} else {
				nr[c] = nil
			}
		}
		out.Append(nr)
	}
	return out
}

// LatestPerKey resolves repeated relationship records ("most recent
// wins"): rows are ordered by tsCol descending and only the first row
// per key is kept. tsCol may hold time.Time values or parseable
// timestamp strings; unparseable timestamps sort last.
func LatestPerKey(t *Table, key, tsCol string) *Table {
	sorted := make([]Row, len(t.Rows))
	copy(sorted, t.Rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rowTime(sorted[i], tsCol).After(rowTime(sorted[j], tsCol))
	})

	out := NewTable(t.Cols...)
	seen := make(map[string]bool, len(sorted))
	for _, r := range sorted {
		k := Str(r[key])
		if seen[k] {
			continue
		}
		seen[k] = true
		out.Append(r)
	}
	return out
}

func rowTime(r Row, col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	default:
		if ts := Timestamp(v); ts != nil {
			return ts.(time.Time)
		}
		return time.Time{}
	}
}

// FuzzyLookup resolves a free-text value against a small reference
// table: the first reference row whose compareCol value is contained in
// target (case-insensitive, diacritic-stripped, trailing whitespace
// trimmed) yields its idCol value. No match returns sentinel, so every
// row ends up in a bucket.
func FuzzyLookup(target string, ref *Table, compareCol, idCol string, sentinel any) any {
	needle := normalizeMatch(target)
	for _, r := range ref.Rows {
		cmp := normalizeMatch(Str(r[compareCol]))
		if cmp != "" && strings.Contains(needle, cmp) {
			return r[idCol]
		}
	}
	return sentinel
}

func normalizeMatch(s string) string {
	s = strings.ToLower(strings.TrimRight(s, " \t"))
	return stripDiacritics(s)
}

// stripDiacritics removes combining marks after NFD decomposition so
// "Construcción" matches "Construccion".
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

// GroupSum collapses rows sharing the key tuple into one logical row:
// each sumCol is added together, every other column takes its value
// from the first row of the group. Group order follows first
// appearance.
func GroupSum(t *Table, keys []string, sumCols ...string) *Table {
	out := NewTable(t.Cols...)
	index := make(map[string]int)
	for _, r := range t.Rows {
		k := groupKey(r, keys)
		if i, ok := index[k]; ok {
			for _, sumCol := range sumCols {
				sum, _ := Float(out.Rows[i][sumCol])
				add, _ := Float(r[sumCol])
				out.Rows[i][sumCol] = sum + add
			}
			continue
		}
		nr := make(Row, len(r))
		for c, v := range r {
			nr[c] = v
		}
		index[k] = out.Len()
		out.Append(nr)
	}
	return out
}

func groupKey(r Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = formatCSV(r[k])
	}
	return strings.Join(parts, "\x1f")
}
