// Package ingest decodes uploaded tabular files into raw rows.
//
// CSV input is decoded through a BOM-skipping UTF-8 transformer so files
// saved by spreadsheet programs on Windows parse cleanly; invalid byte
// sequences become U+FFFD rather than failing the upload. XLSX workbooks
// are read with excelize and only the first sheet is used.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// Format is a supported file encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Media types accepted for upload.
const (
	MediaTypeCSV      = "text/csv"
	MediaTypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypeLegacyXL = "application/vnd.ms-excel"
)

var (
	ErrEmptyFile       = errors.New("empty file: no header row found")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// File is a decoded upload.
type File struct {
	Name   string
	Format Format
	Header []string
	Rows   []core.RawRow
	Bytes  int64
}

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Parse decodes r according to its declared media type, falling back to the
// file extension when the type is missing or generic.
func Parse(r io.Reader, fileName, mediaType string) (*File, error) {
	counter := &countingReader{r: r}
	br := bufio.NewReader(counter)

	format, err := resolveFormat(br, fileName, mediaType)
	if err != nil {
		return nil, err
	}

	var f *File
	switch format {
	case FormatXLSX:
		f, err = parseXLSX(br)
	default:
		f, err = parseCSV(br)
	}
	if err != nil {
		return nil, err
	}
	f.Name = fileName
	f.Format = format
	f.Bytes = counter.n
	return f, nil
}

// ParseFunc adapts Parse to core.ParseFunc.
func ParseFunc(r io.Reader, fileName, mediaType string) (*core.ParsedFile, error) {
	f, err := Parse(r, fileName, mediaType)
	if err != nil {
		return nil, err
	}
	return &core.ParsedFile{Format: string(f.Format), Rows: f.Rows, Bytes: f.Bytes}, nil
}

func resolveFormat(br *bufio.Reader, fileName, mediaType string) (Format, error) {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}

	switch mt {
	case MediaTypeCSV, "application/csv", "text/plain", "text/x-csv", "application/x-csv":
		return FormatCSV, nil
	case MediaTypeXLSX:
		return FormatXLSX, nil
	case MediaTypeLegacyXL:
		// Browsers on Windows report .csv files with this type.
		return sniff(br)
	case "", "application/octet-stream":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	switch strings.ToLower(path.Ext(fileName)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xls":
		return sniff(br)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileName)
	}
}

func sniff(br *bufio.Reader) (Format, error) {
	head, _ := br.Peek(len(ole2Magic))
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(head, ole2Magic):
		return "", fmt.Errorf("%w: legacy .xls workbooks are not supported, save as .xlsx", ErrUnsupportedType)
	default:
		return FormatCSV, nil
	}
}

// buildRows pairs each record with the normalized header. Rows whose cells
// are all empty are skipped.
func buildRows(header []string, records [][]any) []core.RawRow {
	rows := make([]core.RawRow, 0, len(records))
	for _, rec := range records {
		if blank(rec) {
			continue
		}
		if len(rec) > len(header) {
			rec = rec[:len(header)]
		}
		rows = append(rows, core.NewRawRow(header, rec))
	}
	return rows
}

func blank(cells []any) bool {
	for _, c := range cells {
		if s, ok := c.(string); !ok || s != "" {
			return false
		}
	}
	return true
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
