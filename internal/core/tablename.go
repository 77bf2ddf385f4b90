package core

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ReservedTablePrefixes are claimed by storage backends for their own tables.
var ReservedTablePrefixes = []string{"_tableapi", "sqlite_", "goose_"}

var whitespaceRun = regexp.MustCompile(`\s+`)

// TableNameFromFile derives a table name from an uploaded file name: the
// base name is cut at its first dot, lower-cased, and whitespace runs become
// underscores. "Q1 Sales.2024.csv" becomes "q1_sales".
func TableNameFromFile(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	name := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(base)), "_")
	return truncateName(name)
}

// ValidateTableName checks a name is usable as a table key on every backend.
func ValidateTableName(name string) error {
	if err := ValidateName("table", name); err != nil {
		return err
	}
	lower := strings.ToLower(name)
	for _, p := range ReservedTablePrefixes {
		if strings.HasPrefix(lower, p) {
			return ErrValidation("table name %q uses the reserved prefix %q", name, p)
		}
	}
	return nil
}

func truncateName(s string) string { return truncateTo(s, MaxNameLength) }

// truncateTo shortens s to at most n bytes without splitting a rune.
func truncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// NormalizeHeader makes file column names usable as column keys. Cells are
// trimmed, blanks become column_<n> (1-based), names are cut to
// MaxNameLength, and case-insensitive duplicates get _2, _3, ... suffixes.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.ToValidUTF8(strings.ReplaceAll(strings.TrimSpace(h), "\x00", ""), "\uFFFD")
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		name = truncateName(name)

		candidate := name
		for n := 2; seen[strings.ToLower(candidate)]; n++ {
			suffix := "_" + strconv.Itoa(n)
			candidate = truncateTo(name, MaxNameLength-len(suffix)) + suffix
		}
		seen[strings.ToLower(candidate)] = true
		out[i] = candidate
	}
	return out
}
