package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// utf8Reader strips a leading BOM (UTF-8 or UTF-16, which is then decoded)
// and replaces invalid UTF-8 with U+FFFD. The BOM override hands UTF-8
// input through untouched, so a second decoder does the replacement.
func utf8Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(unicode.UTF8.NewDecoder()),
		unicode.UTF8.NewDecoder(),
	))
}

func parseCSV(r io.Reader) (*File, error) {
	cr := csv.NewReader(utf8Reader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	header := core.NormalizeHeader(first)

	var records [][]any
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		cells := make([]any, len(rec))
		for i, c := range rec {
			cells[i] = strings.TrimSpace(c)
		}
		records = append(records, cells)
	}

	return &File{Header: header, Rows: buildRows(header, records)}, nil
}
