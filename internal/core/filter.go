package core

// filter.go turns query-string equality constraints into predicates over
// stored records and into parameterized WHERE fragments for SQL backends.
//
// Filter values arrive as text and are coerced without consulting the
// schema: "true"/"false" become booleans, numeric text becomes a number,
// and everything else stays a string. Binding a coerced value to a column
// then requires the kinds to agree. The one exception is a string filter
// against a date column, which matches when it parses to the same date, so
// dates compare by their canonical text on every backend.

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Filter is one equality constraint.
type Filter struct {
	Column string
	Raw    string
	Value  Value
}

// Filters are conjoined. They are kept sorted by column so generated SQL is stable.
type Filters []Filter

// ParseFilters builds filters from query parameters, skipping reserved keys.
// When a key repeats, the last value wins.
func ParseFilters(params map[string][]string, reserved ...string) Filters {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}

	var out Filters
	for key, vals := range params {
		if skip[key] || len(vals) == 0 {
			continue
		}
		raw := vals[len(vals)-1]
		out = append(out, Filter{Column: key, Raw: raw, Value: CoerceFilterValue(raw)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// CoerceFilterValue applies the text coercion rules for filter values.
func CoerceFilterValue(raw string) Value {
	if b, ok := ParseBool(raw); ok {
		return BoolValue(b)
	}
	if f, ok := ParseNumber(raw); ok {
		return NumberValue(f)
	}
	return StringValue(raw)
}

// FilterBinding resolves the value a filter compares against a column of type t.
// The second result is false when no stored value of that column can match.
func FilterBinding(f Filter, t SemanticType) (Value, bool) {
	want := f.Value
	switch t {
	case TypeDate:
		if want.Kind() == KindString {
			if d, ok := ParseDate(want.Str()); ok && FormatDate(d) == want.Str() {
				return DateValue(d), true
			}
			return Value{}, false
		}
		return Value{}, false
	case TypeNumber:
		return want, want.Kind() == KindNumber
	case TypeBoolean:
		return want, want.Kind() == KindBool
	default:
		return want, want.Kind() == KindString
	}
}

// Match reports whether rec satisfies every filter against the given schema.
// Filters on columns the table does not have match nothing.
func (fs Filters) Match(rec Record, cols map[string]ColumnSchema) bool {
	for _, f := range fs {
		t, ok := filterColumnType(f.Column, cols)
		if !ok {
			return false
		}
		want, ok := FilterBinding(f, t)
		if !ok {
			return false
		}
		got, ok := rec.Get(f.Column)
		if !ok || got.IsNull() || !got.Equal(want) {
			return false
		}
	}
	return true
}

// Predicate returns Match bound to a schema.
func (fs Filters) Predicate(cols []ColumnSchema) func(Record) bool {
	idx := ColumnIndex(cols)
	return func(rec Record) bool { return fs.Match(rec, idx) }
}

func filterColumnType(name string, cols map[string]ColumnSchema) (SemanticType, bool) {
	if name == ReservedColumn {
		return TypeNumber, true
	}
	c, ok := cols[name]
	return c.Type, ok
}

// QuoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// DollarPlaceholder is PostgreSQL's $N style.
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// QuestionPlaceholder is SQLite's ? style.
func QuestionPlaceholder(int) string { return "?" }

// WhereBuilder accumulates AND-ed equality conditions with bound arguments.
// Column names are always quoted; values are never interpolated.
type WhereBuilder struct {
	conditions  []string
	args        []any
	argIndex    int
	placeholder Placeholder
}

// NewWhereBuilder creates a builder using $N placeholders.
func NewWhereBuilder() *WhereBuilder {
	return NewWhereBuilderWith(DollarPlaceholder, 1)
}

// NewWhereBuilderWith creates a builder with a placeholder style and first argument index.
func NewWhereBuilderWith(p Placeholder, start int) *WhereBuilder {
	if p == nil {
		p = DollarPlaceholder
	}
	if start < 1 {
		start = 1
	}
	return &WhereBuilder{argIndex: start, placeholder: p}
}

// Add appends `"column" = <param>`.
func (wb *WhereBuilder) Add(column string, value any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = %s", QuoteIdentifier(column), wb.placeholder(wb.argIndex)))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// AddFalse appends a condition no row satisfies.
func (wb *WhereBuilder) AddFalse() {
	wb.conditions = append(wb.conditions, "1 = 0")
}

// BindFunc converts a filter value for a column into a driver argument.
// Returning false makes the condition unsatisfiable.
type BindFunc func(column string, v Value, t SemanticType) (any, bool)

// AddFilters adds every filter through bind. Filters that cannot match the
// table collapse the clause to false.
func (wb *WhereBuilder) AddFilters(fs Filters, cols []ColumnSchema, bind BindFunc) {
	idx := ColumnIndex(cols)
	for _, f := range fs {
		t, ok := filterColumnType(f.Column, idx)
		if !ok {
			wb.AddFalse()
			continue
		}
		want, ok := FilterBinding(f, t)
		if !ok {
			wb.AddFalse()
			continue
		}
		arg, ok := bind(f.Column, want, t)
		if !ok {
			wb.AddFalse()
			continue
		}
		wb.Add(f.Column, arg)
	}
}

// Build returns " WHERE ..." (or "") and the ordered arguments.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex is the index the next bound parameter would take.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}
