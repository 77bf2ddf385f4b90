package core

// Infer aggregates per-column type observations into a committed schema.
//
// The column set comes from the first row's keys only. For each column the
// set of observed types (not counts) decides the dominant type by fixed
// precedence, and a column is nullable iff any value was missing or empty.
// Mixed columns never error; Observed keeps the full type set.
func Infer(rows []RawRow) []ColumnSchema {
	if len(rows) == 0 {
		return []ColumnSchema{}
	}

	names := rows[0].Names()
	cols := make([]ColumnSchema, len(names))
	for i, name := range names {
		cols[i].Name = name
	}

	for _, row := range rows {
		for i := range cols {
			raw, ok := row.Get(cols[i].Name)
			if !ok || isAbsent(raw) {
				cols[i].Nullable = true
				continue
			}
			cols[i].Observed = cols[i].Observed.Add(Detect(raw))
		}
	}

	for i := range cols {
		cols[i].Type = cols[i].Observed.Dominant()
	}
	return cols
}

func isAbsent(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case Value:
		return v.IsNull() || (v.Kind() == KindString && v.Str() == "")
	default:
		return false
	}
}

// CoerceRow converts raw cells to their column types. Cells that cannot be
// represented become null; their column names are returned in nulled.
// Columns outside cols are dropped.
func CoerceRow(raw RawRow, cols []ColumnSchema) (row Row, nulled []string) {
	row = make(Row, 0, len(cols))
	for _, c := range cols {
		cell, ok := raw.Get(c.Name)
		if !ok {
			continue
		}
		v, err := ValueOf(cell)
		if err != nil {
			nulled = append(nulled, c.Name)
			row = append(row, Field{Name: c.Name, Value: Null()})
			continue
		}
		out, ok := Convert(v, c.Type)
		if !ok {
			nulled = append(nulled, c.Name)
		}
		row = append(row, Field{Name: c.Name, Value: out})
	}
	return row, nulled
}

// MarkNullable sets Nullable on every column named in nulled.
func MarkNullable(cols []ColumnSchema, nulled map[string]bool) {
	for i := range cols {
		if nulled[cols[i].Name] {
			cols[i].Nullable = true
		}
	}
}

// NormalizeRow converts a write payload to the table's column types.
// Unconvertible values are a validation error naming the column. Nulls for
// columns the table does not have are dropped.
func NormalizeRow(row Row, cols []ColumnSchema) (Row, error) {
	idx := ColumnIndex(cols)
	out := make(Row, 0, len(row))
	for _, f := range row {
		if f.Name == ReservedColumn {
			continue
		}
		c, ok := idx[f.Name]
		if !ok {
			if !f.Value.IsNull() {
				out = append(out, f)
			}
			continue
		}
		v, ok := Convert(f.Value, c.Type)
		if !ok {
			return nil, ErrValidation("invalid %s value for column %q: %s", c.Type, f.Name, f.Value)
		}
		out = append(out, Field{Name: f.Name, Value: v})
	}
	return out, nil
}
