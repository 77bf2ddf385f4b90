package core

import (
	"context"
	"strings"
)

// SemanticType is the closed set of types a raw value can be classified into.
type SemanticType string

const (
	TypeString  SemanticType = "string"
	TypeNumber  SemanticType = "number"
	TypeBoolean SemanticType = "boolean"
	TypeDate    SemanticType = "date"
)

// Valid reports whether t is one of the known semantic types.
func (t SemanticType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate:
		return true
	default:
		return false
	}
}

// TypeSet records which semantic types were observed for a column.
type TypeSet uint8

const (
	seenString TypeSet = 1 << iota
	seenNumber
	seenBoolean
	seenDate
)

// Add returns the set with t included.
func (s TypeSet) Add(t SemanticType) TypeSet {
	switch t {
	case TypeNumber:
		return s | seenNumber
	case TypeBoolean:
		return s | seenBoolean
	case TypeDate:
		return s | seenDate
	default:
		return s | seenString
	}
}

// Has reports whether t was observed.
func (s TypeSet) Has(t SemanticType) bool {
	return s == s.Add(t)
}

// Types lists the observed types in precedence order.
func (s TypeSet) Types() []SemanticType {
	var out []SemanticType
	for _, t := range typePrecedence {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Mixed reports whether more than one type was observed.
func (s TypeSet) Mixed() bool {
	return len(s.Types()) > 1
}

// typePrecedence orders types from most to least dominant.
var typePrecedence = []SemanticType{TypeNumber, TypeDate, TypeBoolean, TypeString}

// Dominant picks the single committed type using fixed precedence:
// number > date > boolean > string. Frequency is irrelevant.
func (s TypeSet) Dominant() SemanticType {
	for _, t := range typePrecedence {
		if s.Has(t) {
			return t
		}
	}
	return TypeString
}

// ColumnSchema describes one inferred column.
type ColumnSchema struct {
	Name     string       `json:"name" yaml:"name"`
	Type     SemanticType `json:"type" yaml:"type"`
	Nullable bool         `json:"nullable" yaml:"nullable"`

	// Observed keeps every type seen while sampling so a strict mode can
	// report conflicts without re-reading the data.
	Observed TypeSet `json:"-" yaml:"-"`
}

// DataSchema is the result of inferring a file.
type DataSchema struct {
	TableName  string         `json:"tableName" yaml:"tableName"`
	Columns    []ColumnSchema `json:"columns" yaml:"columns"`
	SampleData []RawRow       `json:"sampleData" yaml:"sampleData"`
}

// ReservedColumn is the store-assigned identity column.
const ReservedColumn = "id"

// ListQuery selects a page of records.
type ListQuery struct {
	Filters Filters
	Limit   int
	Offset  int
}

// ListResult is a page of records plus the number of records matching the filters.
type ListResult struct {
	Records []Record
	Total   int64
}

// TableRegistry owns the mapping from table name to schema and storage.
type TableRegistry interface {
	// CreateTable is idempotent: an existing table keeps its schema and data.
	CreateTable(ctx context.Context, name string, columns []ColumnSchema) error
	ListTables(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, name string) ([]ColumnSchema, bool, error)
	DropTable(ctx context.Context, name string) (bool, error)
	Reset(ctx context.Context) error
}

// RecordStore provides CRUD over one table's records.
//
// Reads against a missing table behave as an empty table. Writes create
// the table on first use.
type RecordStore interface {
	Insert(ctx context.Context, table string, row Row) (Record, error)
	// InsertBatch applies every row or none of them.
	InsertBatch(ctx context.Context, table string, rows []Row) error
	GetByID(ctx context.Context, table string, id int64) (Record, bool, error)
	List(ctx context.Context, table string, q ListQuery) (ListResult, error)
	Update(ctx context.Context, table string, id int64, patch Row) (Record, bool, error)
	Delete(ctx context.Context, table string, id int64) (bool, error)
}

// Store is a complete storage backend.
type Store interface {
	TableRegistry
	RecordStore
	Ping(ctx context.Context) error
	Close() error
}

// StorableColumns drops the reserved id column and duplicate names.
func StorableColumns(cols []ColumnSchema) []ColumnSchema {
	out := make([]ColumnSchema, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c.Name == ReservedColumn || seen[c.Name] {
			continue
		}
		if !c.Type.Valid() {
			c.Type = TypeString
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

// ExtendColumns returns columns for fields of row that cols does not declare.
// New columns are nullable and typed from the value kind. A null value says
// nothing about its type and adds no column.
func ExtendColumns(cols []ColumnSchema, row Row) []ColumnSchema {
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.Name] = true
	}

	var added []ColumnSchema
	for _, f := range row {
		if f.Name == ReservedColumn || known[f.Name] || f.Value.IsNull() {
			continue
		}
		known[f.Name] = true
		added = append(added, ColumnSchema{
			Name:     f.Name,
			Type:     f.Value.Kind().SemanticType(),
			Nullable: true,
			Observed: TypeSet(0).Add(f.Value.Kind().SemanticType()),
		})
	}
	return added
}

// ColumnIndex maps column names to their schema.
func ColumnIndex(cols []ColumnSchema) map[string]ColumnSchema {
	idx := make(map[string]ColumnSchema, len(cols))
	for _, c := range cols {
		idx[c.Name] = c
	}
	return idx
}

// ValidateName checks a table or column name is usable as a storage key.
func ValidateName(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return ErrValidation("%s name is empty", kind)
	case strings.ContainsRune(name, 0):
		return ErrValidation("%s name contains a NUL byte", kind)
	case len(name) > MaxNameLength:
		return ErrValidation("%s name %q exceeds %d bytes", kind, name, MaxNameLength)
	}
	return nil
}

// MaxNameLength matches the PostgreSQL identifier limit.
const MaxNameLength = 63

// PrepareRow readies a write payload for a table with columns cols. It
// returns the columns the payload adds to the schema and the payload
// converted to the column types. The reserved id field is dropped.
func PrepareRow(cols []ColumnSchema, row Row) ([]ColumnSchema, Row, error) {
	for _, f := range row {
		if f.Name == ReservedColumn {
			continue
		}
		if err := ValidateName("column", f.Name); err != nil {
			return nil, nil, err
		}
	}
	added := ExtendColumns(cols, row)
	all := make([]ColumnSchema, 0, len(cols)+len(added))
	all = append(append(all, cols...), added...)
	norm, err := NormalizeRow(row, all)
	if err != nil {
		return nil, nil, err
	}
	return added, norm, nil
}

// Project lays fields out in schema order, filling absent columns with null.
func Project(fields Row, cols []ColumnSchema) Row {
	out := make(Row, len(cols))
	for i, c := range cols {
		v, _ := fields.Get(c.Name)
		out[i] = Field{Name: c.Name, Value: v}
	}
	return out
}
