package core

import (
	"bytes"
	"errors"
	"io"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Field is one named value in a row.
type Field struct {
	Name  string
	Value Value
}

// Row is an ordered mapping from column name to value.
// Names are unique; Set replaces in place of appending.
type Row []Field

// Get returns the value stored under name.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set returns a copy of r with name set to v. Existing fields keep their position.
func (r Row) Set(name string, v Value) Row {
	out := r.Clone()
	for i := range out {
		if out[i].Name == name {
			out[i].Value = v
			return out
		}
	}
	return append(out, Field{Name: name, Value: v})
}

// Without returns a copy of r without the named field.
func (r Row) Without(name string) Row {
	out := make(Row, 0, len(r))
	for _, f := range r {
		if f.Name != name {
			out = append(out, f)
		}
	}
	return out
}

// Names lists field names in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := r.writeFields(&buf, false); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Row) writeFields(buf *bytes.Buffer, leadingComma bool) error {
	for i, f := range r {
		if i > 0 || leadingComma {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	return nil
}

// Record is a stored row plus its store-assigned id.
type Record struct {
	ID     int64
	Fields Row
}

// Merge applies patch as a shallow merge. Fields in patch overwrite,
// absent fields are preserved, and an id in the patch is ignored.
func (rec Record) Merge(patch Row) Record {
	fields := rec.Fields.Clone()
	for _, f := range patch {
		if f.Name == ReservedColumn {
			continue
		}
		fields = fields.Set(f.Name, f.Value)
	}
	return Record{ID: rec.ID, Fields: fields}
}

// Get returns a field value; "id" resolves to the record id.
func (rec Record) Get(name string) (Value, bool) {
	if name == ReservedColumn {
		return NumberValue(float64(rec.ID)), true
	}
	return rec.Fields.Get(name)
}

// MarshalJSON renders the record as a flat object with id first.
func (rec Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	id, err := json.Marshal(rec.ID)
	if err != nil {
		return nil, err
	}
	buf.Write(id)
	if err := rec.Fields.Without(ReservedColumn).writeFields(&buf, true); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawRow is a parsed file row before type conversion. Keys keep file column order.
type RawRow struct {
	names  []string
	values map[string]any
}

// NewRawRow builds a row from parallel name and cell slices.
// Missing trailing cells are left absent.
func NewRawRow(names []string, cells []any) RawRow {
	r := RawRow{values: make(map[string]any, len(names))}
	for i, name := range names {
		if i < len(cells) {
			r.Set(name, cells[i])
		} else {
			r.names = append(r.names, name)
		}
	}
	return r
}

// Set stores a cell, appending the key if new.
func (r *RawRow) Set(name string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[name]; !ok && !r.has(name) {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

func (r RawRow) has(name string) bool {
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

// Get returns the cell stored under name. A key without a cell reports false.
func (r RawRow) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names lists keys in file order.
func (r RawRow) Names() []string {
	return append([]string(nil), r.names...)
}

func (r RawRow) Len() int { return len(r.names) }

func (r RawRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML renders the row as a mapping in file order.
func (r RawRow) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range r.names {
		var val yaml.Node
		if err := val.Encode(r.values[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, &val)
	}
	return node, nil
}

// DecodeRow reads one JSON object into a Row, keeping key order.
// Nested objects and arrays are rejected; a repeated key keeps the last value.
func DecodeRow(r io.Reader) (Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrValidation("request body is empty")
		}
		return nil, ErrValidation("invalid JSON body: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrValidation("request body must be a JSON object")
	}

	var row Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, ErrValidation("invalid JSON body: %v", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, ErrValidation("invalid JSON body: expected field name")
		}
		if err := ValidateName("column", name); err != nil {
			return nil, err
		}

		tok, err = dec.Token()
		if err != nil {
			return nil, ErrValidation("invalid JSON body: %v", err)
		}
		if _, nested := tok.(json.Delim); nested {
			return nil, ErrValidation("field %q: nested objects and arrays are not supported", name)
		}
		v, err := ValueOf(tok)
		if err != nil {
			return nil, ErrValidation("field %q: %v", name, err)
		}
		row = row.Set(name, v)
	}

	if _, err := dec.Token(); err != nil {
		return nil, ErrValidation("invalid JSON body: %v", err)
	}
	if dec.More() {
		return nil, ErrValidation("request body must contain a single JSON object")
	}
	return row, nil
}
