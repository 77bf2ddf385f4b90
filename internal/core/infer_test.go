package core

import (
	"testing"
)

func rawRows(header []string, rows ...[]any) []RawRow {
	out := make([]RawRow, len(rows))
	for i, r := range rows {
		out[i] = NewRawRow(header, r)
	}
	return out
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		rows []RawRow
		want []ColumnSchema
	}{
		{
			name: "empty input has no columns",
			rows: nil,
			want: []ColumnSchema{},
		},
		{
			name: "name age active",
			rows: rawRows([]string{"name", "age", "active"},
				[]any{"Alice", "30", "true"},
				[]any{"Bob", "", "false"},
			),
			want: []ColumnSchema{
				{Name: "name", Type: TypeString, Nullable: false},
				{Name: "age", Type: TypeNumber, Nullable: true},
				{Name: "active", Type: TypeBoolean, Nullable: false},
			},
		},
		{
			name: "number beats boolean",
			rows: rawRows([]string{"mixed"}, []any{"3"}, []any{"4.5"}, []any{"true"}),
			want: []ColumnSchema{{Name: "mixed", Type: TypeNumber}},
		},
		{
			name: "number beats date and string",
			rows: rawRows([]string{"m"}, []any{"2024-01-01"}, []any{"hello"}, []any{"7"}),
			want: []ColumnSchema{{Name: "m", Type: TypeNumber}},
		},
		{
			name: "date beats boolean and string",
			rows: rawRows([]string{"m"}, []any{"true"}, []any{"x"}, []any{"2024-01-01"}),
			want: []ColumnSchema{{Name: "m", Type: TypeDate}},
		},
		{
			name: "boolean beats string",
			rows: rawRows([]string{"m"}, []any{"x"}, []any{"false"}),
			want: []ColumnSchema{{Name: "m", Type: TypeBoolean}},
		},
		{
			name: "all empty column is nullable string",
			rows: rawRows([]string{"e"}, []any{""}, []any{nil}),
			want: []ColumnSchema{{Name: "e", Type: TypeString, Nullable: true}},
		},
		{
			name: "missing trailing cell counts as absent",
			rows: rawRows([]string{"a", "b"}, []any{"1", "2"}, []any{"3"}),
			want: []ColumnSchema{{Name: "a", Type: TypeNumber}, {Name: "b", Type: TypeNumber, Nullable: true}},
		},
		{
			name: "native spreadsheet values",
			rows: rawRows([]string{"flag", "n"}, []any{true, 2.0}, []any{false, 3.0}),
			want: []ColumnSchema{{Name: "flag", Type: TypeBoolean}, {Name: "n", Type: TypeNumber}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Infer(tt.rows)
			if len(got) != len(tt.want) {
				t.Fatalf("Infer() returned %d columns, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Name != tt.want[i].Name || got[i].Type != tt.want[i].Type || got[i].Nullable != tt.want[i].Nullable {
					t.Errorf("column %d = {%s %s %v}, want {%s %s %v}", i,
						got[i].Name, got[i].Type, got[i].Nullable,
						tt.want[i].Name, tt.want[i].Type, tt.want[i].Nullable)
				}
			}
		})
	}
}

func TestInfer_ColumnsFromFirstRowOnly(t *testing.T) {
	first := NewRawRow([]string{"a"}, []any{"1"})
	second := NewRawRow([]string{"a", "extra"}, []any{"2", "x"})

	got := Infer([]RawRow{first, second})
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("Infer() = %+v, want only column a", got)
	}
}

func TestInfer_NullableIndependentOfType(t *testing.T) {
	for _, cell := range []string{"5", "true", "2024-01-01", "text"} {
		got := Infer(rawRows([]string{"c"}, []any{cell}, []any{""}))
		if !got[0].Nullable {
			t.Errorf("column with %q and an empty value is not nullable", cell)
		}
	}
}

func TestInfer_KeepsObservedTypes(t *testing.T) {
	got := Infer(rawRows([]string{"m"}, []any{"3"}, []any{"true"}, []any{"x"}))
	obs := got[0].Observed
	for _, typ := range []SemanticType{TypeNumber, TypeBoolean, TypeString} {
		if !obs.Has(typ) {
			t.Errorf("Observed missing %s", typ)
		}
	}
	if obs.Has(TypeDate) {
		t.Error("Observed should not contain date")
	}
	if !obs.Mixed() {
		t.Error("Observed should report mixed types")
	}
}

func TestCoerceRow(t *testing.T) {
	cols := []ColumnSchema{
		{Name: "name", Type: TypeString},
		{Name: "age", Type: TypeNumber, Nullable: true},
		{Name: "active", Type: TypeBoolean},
	}
	raw := NewRawRow([]string{"name", "age", "active"}, []any{"Bob", "unknown", "false"})

	row, nulled := CoerceRow(raw, cols)
	if len(nulled) != 1 || nulled[0] != "age" {
		t.Errorf("nulled = %v, want [age]", nulled)
	}
	if v, _ := row.Get("age"); !v.IsNull() {
		t.Errorf("age = %v, want null", v)
	}
	if v, _ := row.Get("active"); !v.Equal(BoolValue(false)) {
		t.Errorf("active = %v, want false", v)
	}
}

func TestMarkNullable(t *testing.T) {
	cols := []ColumnSchema{{Name: "code", Type: TypeNumber}, {Name: "label", Type: TypeString}}
	MarkNullable(cols, map[string]bool{"code": true, "missing": true})

	if !cols[0].Nullable {
		t.Error("code should be nullable")
	}
	if cols[1].Nullable {
		t.Error("label should stay non-nullable")
	}
}

func TestNormalizeRow(t *testing.T) {
	cols := []ColumnSchema{{Name: "age", Type: TypeNumber}, {Name: "when", Type: TypeDate}}

	row, err := NormalizeRow(Row{{"age", StringValue("41")}, {"id", NumberValue(99)}, {"new", StringValue("x")}}, cols)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if _, ok := row.Get("id"); ok {
		t.Error("id should be dropped from write payload")
	}
	if v, _ := row.Get("age"); !v.Equal(NumberValue(41)) {
		t.Errorf("age = %v, want 41", v)
	}
	if v, _ := row.Get("new"); !v.Equal(StringValue("x")) {
		t.Errorf("unknown field should pass through, got %v", v)
	}

	if _, err := NormalizeRow(Row{{"when", StringValue("tomorrow")}}, cols); !IsValidation(err) {
		t.Errorf("NormalizeRow(bad date) err = %v, want validation error", err)
	}
}

func TestPrepareRow(t *testing.T) {
	cols := []ColumnSchema{{Name: "age", Type: TypeNumber}}

	added, row, err := PrepareRow(cols, Row{
		{"age", StringValue("7")},
		{"score", NumberValue(1.5)},
		{"note", Null()},
	})
	if err != nil {
		t.Fatalf("PrepareRow: %v", err)
	}
	if len(added) != 1 || added[0].Name != "score" || added[0].Type != TypeNumber || !added[0].Nullable {
		t.Errorf("added = %+v, want one nullable number column score", added)
	}
	if _, ok := row.Get("note"); ok {
		t.Error("null field for unknown column should be dropped")
	}
	if v, _ := row.Get("age"); !v.Equal(NumberValue(7)) {
		t.Errorf("age = %v, want 7", v)
	}

	if _, _, err := PrepareRow(cols, Row{{"", StringValue("x")}}); !IsValidation(err) {
		t.Errorf("PrepareRow(empty column name) err = %v, want validation error", err)
	}
}

func TestProject(t *testing.T) {
	cols := []ColumnSchema{{Name: "a"}, {Name: "b"}}
	got := Project(Row{{"b", NumberValue(2)}, {"z", NumberValue(9)}}, cols)
	if len(got) != 2 || got[0].Name != "a" || !got[0].Value.IsNull() || !got[1].Value.Equal(NumberValue(2)) {
		t.Errorf("Project = %+v", got)
	}
}
