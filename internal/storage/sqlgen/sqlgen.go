// Package sqlgen builds the SQL shared by the relational backends.
//
// Table and column names come from uploaded files and request bodies, so
// every identifier goes through core.QuoteIdentifier and every value is a
// bound parameter. Nothing here talks to a database.
package sqlgen

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// MetaTable records every table's declared columns.
const MetaTable = "_tableapi_tables"

// Dialect captures what differs between the SQL backends.
type Dialect struct {
	Placeholder core.Placeholder
	// IDColumn is the DDL for the identity column.
	IDColumn string
	// Types maps semantic types to column types.
	Types map[core.SemanticType]string
	// BindDate converts a date into the argument stored in date columns.
	BindDate func(time.Time) any
}

// Query is SQL text plus its ordered arguments.
type Query struct {
	SQL  string
	Args []any
}

func (d Dialect) columnType(t core.SemanticType) string {
	if ct, ok := d.Types[t]; ok {
		return ct
	}
	return d.Types[core.TypeString]
}

func (d Dialect) placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// CreateTable renders CREATE TABLE IF NOT EXISTS for a table and its columns.
func (d Dialect) CreateTable(table string, cols []core.ColumnSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s %s", core.QuoteIdentifier(table), core.QuoteIdentifier(core.ReservedColumn), d.IDColumn)
	for _, c := range cols {
		fmt.Fprintf(&b, ", %s %s", core.QuoteIdentifier(c.Name), d.columnType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

// AddColumn renders ALTER TABLE ... ADD COLUMN.
func (d Dialect) AddColumn(table string, c core.ColumnSchema) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", core.QuoteIdentifier(table), core.QuoteIdentifier(c.Name), d.columnType(c.Type))
}

// DropTable renders DROP TABLE IF EXISTS.
func (d Dialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + core.QuoteIdentifier(table)
}

// Insert renders an INSERT returning the assigned id.
func (d Dialect) Insert(table string, row core.Row) Query {
	return Query{
		SQL:  d.InsertStatement(table, row.Names()) + " RETURNING " + core.QuoteIdentifier(core.ReservedColumn),
		Args: d.Args(row),
	}
}

// InsertStatement renders an INSERT of the named columns, for statements
// prepared once and executed per row.
func (d Dialect) InsertStatement(table string, names []string) string {
	if len(names) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", core.QuoteIdentifier(table))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		core.QuoteIdentifier(table), quoteList(names), d.placeholders(1, len(names)))
}

// Select renders the projection of every column in schema order.
func (d Dialect) Select(table string, cols []core.ColumnSchema) string {
	names := make([]string, 0, len(cols)+1)
	names = append(names, core.ReservedColumn)
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s", quoteList(names), core.QuoteIdentifier(table))
}

// GetByID renders a single-record lookup.
func (d Dialect) GetByID(table string, cols []core.ColumnSchema, id int64) Query {
	return Query{
		SQL:  fmt.Sprintf("%s WHERE %s = %s", d.Select(table, cols), core.QuoteIdentifier(core.ReservedColumn), d.Placeholder(1)),
		Args: []any{id},
	}
}

// List renders the count and page queries for a filtered listing.
// A limit of zero or less means no limit.
func (d Dialect) List(table string, cols []core.ColumnSchema, q core.ListQuery) (count, page Query) {
	wb := core.NewWhereBuilderWith(d.Placeholder, 1)
	wb.AddFilters(q.Filters, cols, d.BindFilter)
	where, args := wb.Build()

	count = Query{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s%s", core.QuoteIdentifier(table), where),
		Args: args,
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = math.MaxInt64
	}
	offset := int64(q.Offset)
	if offset < 0 {
		offset = 0
	}
	next := wb.NextArgIndex()
	page = Query{
		SQL: fmt.Sprintf("%s%s ORDER BY %s LIMIT %s OFFSET %s",
			d.Select(table, cols), where, core.QuoteIdentifier(core.ReservedColumn), d.Placeholder(next), d.Placeholder(next+1)),
		Args: append(append([]any{}, args...), limit, offset),
	}
	return count, page
}

// Update renders an UPDATE of the patch fields returning the full record.
// The patch must not be empty.
func (d Dialect) Update(table string, cols []core.ColumnSchema, id int64, patch core.Row) Query {
	sets := make([]string, len(patch))
	for i, f := range patch {
		sets[i] = fmt.Sprintf("%s = %s", core.QuoteIdentifier(f.Name), d.Placeholder(i+1))
	}
	names := make([]string, 0, len(cols)+1)
	names = append(names, core.ReservedColumn)
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return Query{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
			core.QuoteIdentifier(table), strings.Join(sets, ", "),
			core.QuoteIdentifier(core.ReservedColumn), d.Placeholder(len(patch)+1), quoteList(names)),
		Args: append(d.Args(patch), id),
	}
}

// Delete renders a delete by id.
func (d Dialect) Delete(table string, id int64) Query {
	return Query{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s = %s", core.QuoteIdentifier(table), core.QuoteIdentifier(core.ReservedColumn), d.Placeholder(1)),
		Args: []any{id},
	}
}

// Bind converts a value into a driver argument.
func (d Dialect) Bind(v core.Value) any {
	switch v.Kind() {
	case core.KindString:
		return v.Str()
	case core.KindNumber:
		return v.Number()
	case core.KindBool:
		return v.Bool()
	case core.KindDate:
		if d.BindDate != nil {
			return d.BindDate(v.Time())
		}
		return v.Time()
	default:
		return nil
	}
}

// Args binds every field of row in order.
func (d Dialect) Args(row core.Row) []any {
	args := make([]any, len(row))
	for i, f := range row {
		args[i] = d.Bind(f.Value)
	}
	return args
}

// BindFilter is the core.BindFunc for this dialect. Ids bind as integers;
// fractional or non-positive ids match nothing.
func (d Dialect) BindFilter(column string, v core.Value, _ core.SemanticType) (any, bool) {
	if column == core.ReservedColumn {
		n := v.Number()
		if n != math.Trunc(n) || n < 1 || n > 1<<53 {
			return nil, false
		}
		return int64(n), true
	}
	return d.Bind(v), true
}

// BindDateText stores dates as their canonical text.
func BindDateText(t time.Time) any { return core.FormatDate(t) }

// Decode converts a scanned driver value for a column of type t.
func Decode(src any, t core.SemanticType) (core.Value, error) {
	if src == nil {
		return core.Null(), nil
	}
	if b, ok := src.([]byte); ok {
		src = string(b)
	}

	switch t {
	case core.TypeNumber:
		switch x := src.(type) {
		case float64:
			return core.NumberValue(x), nil
		case float32:
			return core.NumberValue(float64(x)), nil
		case int64:
			return core.NumberValue(float64(x)), nil
		case int32:
			return core.NumberValue(float64(x)), nil
		case string:
			if f, ok := core.ParseNumber(x); ok {
				return core.NumberValue(f), nil
			}
		}
	case core.TypeBoolean:
		switch x := src.(type) {
		case bool:
			return core.BoolValue(x), nil
		case int64:
			return core.BoolValue(x != 0), nil
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return core.BoolValue(b), nil
			}
		}
	case core.TypeDate:
		switch x := src.(type) {
		case time.Time:
			return core.DateValue(x), nil
		case string:
			if d, ok := core.ParseDate(x); ok {
				return core.DateValue(d), nil
			}
		}
	default:
		switch x := src.(type) {
		case string:
			return core.StringValue(x), nil
		default:
			v, err := core.ValueOf(x)
			if err != nil {
				return core.Value{}, err
			}
			return core.StringValue(v.Text()), nil
		}
	}
	return core.Value{}, fmt.Errorf("decode %s column: unexpected %T value", t, src)
}

// DecodeID converts a scanned id.
func DecodeID(src any) (int64, error) {
	switch x := src.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("decode id: unexpected %T value", src)
	}
}

// DecodeRecord builds a record from scanned values laid out as Select does.
func DecodeRecord(vals []any, cols []core.ColumnSchema) (core.Record, error) {
	if len(vals) != len(cols)+1 {
		return core.Record{}, fmt.Errorf("decode record: got %d values for %d columns", len(vals), len(cols)+1)
	}
	id, err := DecodeID(vals[0])
	if err != nil {
		return core.Record{}, err
	}
	fields := make(core.Row, len(cols))
	for i, c := range cols {
		v, err := Decode(vals[i+1], c.Type)
		if err != nil {
			return core.Record{}, fmt.Errorf("column %q: %w", c.Name, err)
		}
		fields[i] = core.Field{Name: c.Name, Value: v}
	}
	return core.Record{ID: id, Fields: fields}, nil
}

// EncodeColumns serializes a column list for the metadata table.
func EncodeColumns(cols []core.ColumnSchema) ([]byte, error) {
	if cols == nil {
		cols = []core.ColumnSchema{}
	}
	return json.Marshal(cols)
}

// DecodeColumns parses a column list from the metadata table.
func DecodeColumns(data []byte) ([]core.ColumnSchema, error) {
	var cols []core.ColumnSchema
	if len(data) == 0 {
		return cols, nil
	}
	if err := json.Unmarshal(data, &cols); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	for i := range cols {
		cols[i].Observed = cols[i].Observed.Add(cols[i].Type)
	}
	return cols, nil
}

// Columns returns the column list a write needs after adding extra.
func Columns(cols, extra []core.ColumnSchema) []core.ColumnSchema {
	out := make([]core.ColumnSchema, 0, len(cols)+len(extra))
	return append(append(out, cols...), extra...)
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = core.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
