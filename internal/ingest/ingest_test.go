package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tableapi/internal/core"
)

func cell(t *testing.T, row core.RawRow, name string) any {
	t.Helper()
	v, ok := row.Get(name)
	require.True(t, ok, "missing cell %q", name)
	return v
}

func TestParseCSV(t *testing.T) {
	body := "name,age,active\r\nAlice,30,true\r\n\r\nBob,,false\r\n"

	f, err := Parse(strings.NewReader(body), "people.csv", "text/csv")
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, f.Format)
	assert.Equal(t, []string{"name", "age", "active"}, f.Header)
	require.Len(t, f.Rows, 2, "blank line should be skipped")
	assert.Equal(t, "Alice", cell(t, f.Rows[0], "name"))
	assert.Equal(t, "", cell(t, f.Rows[1], "age"))
	assert.Equal(t, int64(len(body)), f.Bytes)

	cols := core.Infer(f.Rows)
	require.Len(t, cols, 3)
	assert.Equal(t, core.TypeNumber, cols[1].Type)
	assert.True(t, cols[1].Nullable)
}

func TestParseCSV_BOMAndInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"with BOM", "\xEF\xBB\xBFcity,code\nK\xF8benhavn,1\n"},
		{"without BOM", "city,code\nK\xF8benhavn,1\n"},
		{"UTF-16 BOM", "\xFF\xFEc\x00i\x00t\x00y\x00,\x00c\x00o\x00d\x00e\x00\n\x00K\x00\xF8\x00b\x00e\x00n\x00h\x00a\x00v\x00n\x00,\x001\x00\n\x00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(strings.NewReader(tt.body), "cities.csv", "")
			require.NoError(t, err)
			assert.Equal(t, []string{"city", "code"}, f.Header, "BOM must not leak into the first header")
			city, _ := cell(t, f.Rows[0], "city").(string)
			assert.True(t, utf8.ValidString(city), "cell %q is not valid UTF-8", city)
		})
	}

	f, err := Parse(strings.NewReader("\xEF\xBB\xBFcity\nK\xF8benhavn\n"), "cities.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "K\uFFFDbenhavn", cell(t, f.Rows[0], "city"))
}

func TestParseCSV_RaggedRows(t *testing.T) {
	body := "a,b,c\n1,2\n3,4,5,6\n"

	f, err := Parse(strings.NewReader(body), "r.csv", "text/csv")
	require.NoError(t, err)
	require.Len(t, f.Rows, 2)

	_, ok := f.Rows[0].Get("c")
	assert.False(t, ok, "short row leaves trailing column absent")
	assert.Equal(t, []string{"a", "b", "c"}, f.Rows[1].Names(), "extra cells are dropped")
}

func TestParseCSV_HeaderNormalization(t *testing.T) {
	f, err := Parse(strings.NewReader(" Name ,,name,\nx,y,z,w\n"), "h.csv", "text/csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "column_2", "name_2", "column_4"}, f.Header)
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""), "empty.csv", "text/csv")
	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.Equal(t, "FILE005", core.MapError(err).Code)
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	f, err := Parse(strings.NewReader("a,b\n"), "h.csv", "text/csv")
	require.NoError(t, err)
	assert.Empty(t, f.Rows)
	assert.Empty(t, core.Infer(f.Rows))
}

func xlsxBytes(t *testing.T) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]any{"name", "age", "active", "joined"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A2", &[]any{"Alice", 30, true, "2024-01-15"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A3", &[]any{"Bob", nil, false, "2024-02-01"}))

	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	f, err := Parse(bytes.NewReader(xlsxBytes(t)), "People List.xlsx", MediaTypeXLSX)
	require.NoError(t, err)

	assert.Equal(t, FormatXLSX, f.Format)
	assert.Equal(t, []string{"name", "age", "active", "joined"}, f.Header)
	require.Len(t, f.Rows, 2)
	assert.Equal(t, true, cell(t, f.Rows[0], "active"))
	assert.Equal(t, false, cell(t, f.Rows[1], "active"))

	cols := core.Infer(f.Rows)
	require.Len(t, cols, 4)
	assert.Equal(t, core.TypeString, cols[0].Type)
	assert.Equal(t, core.TypeNumber, cols[1].Type)
	assert.True(t, cols[1].Nullable)
	assert.Equal(t, core.TypeBoolean, cols[2].Type)
	assert.Equal(t, core.TypeDate, cols[3].Type)
}

func TestParse_SniffsLegacyExcelType(t *testing.T) {
	f, err := Parse(bytes.NewReader(xlsxBytes(t)), "book.xls", MediaTypeLegacyXL)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f.Format)

	f, err = Parse(strings.NewReader("a\n1\n"), "export.csv", MediaTypeLegacyXL)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f.Format)

	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
	_, err = Parse(bytes.NewReader(ole), "old.xls", MediaTypeLegacyXL)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestParse_ResolvesByExtension(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		mediaType string
		want      Format
		wantErr   error
	}{
		{"csv extension", "a.csv", "application/octet-stream", FormatCSV, nil},
		{"csv with params", "a.bin", "text/csv; charset=utf-8", FormatCSV, nil},
		{"unknown extension", "a.pdf", "", "", ErrUnsupportedType},
		{"unsupported type", "a.csv", "application/pdf", "", ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(strings.NewReader("x\n1\n"), tt.fileName, tt.mediaType)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, "FILE006", core.MapError(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Format)
		})
	}
}

func TestParse_CorruptSpreadsheet(t *testing.T) {
	_, err := Parse(strings.NewReader("PK\x03\x04garbage"), "bad.xlsx", MediaTypeXLSX)
	require.Error(t, err)
	assert.Equal(t, "FILE007", core.MapError(err).Code)
}
