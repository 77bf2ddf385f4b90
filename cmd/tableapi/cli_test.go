package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// newTestApp returns an app reading configuration from vars only.
func newTestApp(vars map[string]string) (*app, *bytes.Buffer) {
	out := &bytes.Buffer{}
	lookup := func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
	return &app{lookup: lookup, out: out}, out
}

func run(t *testing.T, a *app, args ...string) error {
	t.Helper()
	t.Cleanup(func() { _ = a.close() })
	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--env-file="}, args...))
	return cmd.Execute()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const peopleCSV = "Name,Age,Active\nAda,36,true\nLin,41,false\n"

func TestInferCmd_JSON(t *testing.T) {
	a, out := newTestApp(nil)
	path := writeFile(t, t.TempDir(), "People.csv", peopleCSV)

	require.NoError(t, run(t, a, "infer", path, "-o", "json"))

	var got struct {
		TableName string `json:"tableName"`
		Columns   []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		SampleData []map[string]any `json:"sampleData"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "people", got.TableName)
	require.Len(t, got.Columns, 3)
	assert.Equal(t, []string{"Name", "Age", "Active"}, []string{got.Columns[0].Name, got.Columns[1].Name, got.Columns[2].Name},
		"headers keep their case")
	assert.Equal(t, string(core.TypeNumber), got.Columns[1].Type)
	assert.Equal(t, string(core.TypeBoolean), got.Columns[2].Type)
	assert.Len(t, got.SampleData, 2)
}

func TestInferCmd_YAMLAndTable(t *testing.T) {
	path := writeFile(t, t.TempDir(), "people.csv", peopleCSV)

	a, out := newTestApp(nil)
	require.NoError(t, run(t, a, "infer", path, "-o", "yaml"))
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "people", got["tableName"])

	a, out = newTestApp(nil)
	require.NoError(t, run(t, a, "infer", path))
	assert.Contains(t, out.String(), "Table people (csv, 2 rows)")
	assert.Contains(t, out.String(), "COLUMN")
	assert.Contains(t, out.String(), "number")
}

func TestInferCmd_Errors(t *testing.T) {
	dir := t.TempDir()

	a, _ := newTestApp(nil)
	err := run(t, a, "infer", filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	a, _ = newTestApp(nil)
	err = run(t, a, "infer", writeFile(t, dir, "notes.pdf", "%PDF"))
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestLoadThenListTables(t *testing.T) {
	dir := t.TempDir()
	vars := map[string]string{
		"STORAGE_DRIVER": "sqlite",
		"SQLITE_PATH":    filepath.Join(dir, "cli.sqlite"),
	}
	people := writeFile(t, dir, "people.csv", peopleCSV)
	orders := writeFile(t, dir, "orders.csv", "Order ID,Total\n1,9.5\n2,12\n3,7\n")

	a, out := newTestApp(vars)
	require.NoError(t, run(t, a, "load", people, orders, "-j", "2"))
	assert.Contains(t, out.String(), "people")
	assert.Contains(t, out.String(), "orders")
	assert.Nil(t, a.store, "store is closed after the command")

	a, out = newTestApp(vars)
	require.NoError(t, run(t, a, "tables", "-o", "json"))
	var tables []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &tables))
	assert.Equal(t, []string{"orders", "people"}, tables)

	a, out = newTestApp(vars)
	require.NoError(t, run(t, a, "schema", "orders", "-o", "json"))
	var schema struct {
		Columns    []map[string]any `json:"columns"`
		SampleData []map[string]any `json:"sampleData"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &schema))
	assert.Len(t, schema.Columns, 2)
	assert.Len(t, schema.SampleData, 3)

	a, _ = newTestApp(vars)
	require.NoError(t, run(t, a, "drop", "orders", "--yes"))

	a, out = newTestApp(vars)
	require.NoError(t, run(t, a, "tables"))
	assert.NotContains(t, out.String(), "orders")
	assert.Contains(t, out.String(), "people")
}

func TestLoadCmd_JSONResults(t *testing.T) {
	a, out := newTestApp(map[string]string{"STORAGE_DRIVER": "memory"})
	path := writeFile(t, t.TempDir(), "people.csv", peopleCSV)

	require.NoError(t, run(t, a, "load", path, "-o", "json"))

	var results []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "people.csv", results[0]["fileName"])
	assert.EqualValues(t, 2, results[0]["rowsInserted"])
}

func TestLoadCmd_StopsOnBadFile(t *testing.T) {
	dir := t.TempDir()
	a, _ := newTestApp(map[string]string{"STORAGE_DRIVER": "memory"})

	err := run(t, a, "load", writeFile(t, dir, "people.csv", peopleCSV), writeFile(t, dir, "empty.csv", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty.csv")
}

func TestSchemaCmd_MissingTable(t *testing.T) {
	a, _ := newTestApp(map[string]string{"STORAGE_DRIVER": "memory"})
	err := run(t, a, "schema", "nope")
	var nf *core.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDestructiveCmdsRequireConfirmation(t *testing.T) {
	for _, args := range [][]string{{"reset"}, {"drop", "people"}} {
		a, _ := newTestApp(map[string]string{"STORAGE_DRIVER": "memory"})
		assert.ErrorIs(t, run(t, a, args...), errNotConfirmed, "args %v", args)
	}

	a, out := newTestApp(map[string]string{"STORAGE_DRIVER": "memory"})
	require.NoError(t, run(t, a, "reset", "--yes"))
	assert.Contains(t, out.String(), "All tables dropped")
}

func TestRootCmd_Validation(t *testing.T) {
	a, _ := newTestApp(nil)
	err := run(t, a, "tables", "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")

	a, _ = newTestApp(map[string]string{"STORAGE_DRIVER": "oracle"})
	assert.Error(t, run(t, a, "tables"))

	a, _ = newTestApp(nil)
	err = run(t, a, "tables", "--driver", "oracle")
	assert.ErrorContains(t, err, "oracle")
}
