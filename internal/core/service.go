package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/logging"
)

// ParsedFile is an uploaded file decoded into raw rows.
type ParsedFile struct {
	Format string
	Rows   []RawRow
	Bytes  int64
}

// ParseFunc decodes an upload. The media type may be empty.
type ParseFunc func(r io.Reader, fileName, mediaType string) (*ParsedFile, error)

// IngestObserver is notified when an ingest finishes, successfully or not.
type IngestObserver interface {
	ObserveIngest(format string, result *IngestResult, elapsed time.Duration, err error)
}

// IngestResult describes one ingested file.
type IngestResult struct {
	IngestID     string     `json:"ingestId" yaml:"ingestId"`
	FileName     string     `json:"fileName" yaml:"fileName"`
	Format       string     `json:"format" yaml:"format"`
	Schema       DataSchema `json:"schema" yaml:"schema"`
	RowsParsed   int        `json:"rowsParsed" yaml:"rowsParsed"`
	RowsInserted int        `json:"rowsInserted" yaml:"rowsInserted"`
	// CellsCoerced counts cells that did not fit their column type and were stored as null.
	CellsCoerced int           `json:"cellsCoerced" yaml:"cellsCoerced"`
	Duration     time.Duration `json:"durationNs" yaml:"duration"`
}

// Page is a resolved limit and offset.
type Page struct {
	Limit  int
	Offset int
}

// Reserved list query parameters; every other parameter is a filter.
const (
	ParamLimit  = "limit"
	ParamOffset = "offset"
)

// Service implements the boundary operations over a Store: table lookup,
// file ingestion and record CRUD. Handlers and the CLI talk to the Service,
// never to the Store directly.
type Service struct {
	store    Store
	parse    ParseFunc
	limiter  *IngestLimiter
	upload   config.UploadConfig
	page     config.PageConfig
	observer IngestObserver
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithIngestObserver registers an observer for finished ingests.
func WithIngestObserver(o IngestObserver) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// NewService creates a Service. cfg supplies upload and pagination limits.
func NewService(store Store, parse ParseFunc, cfg *config.Config, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		parse:   parse,
		limiter: NewIngestLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		upload:  cfg.Upload,
		page:    cfg.Page,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListTables returns every table name in sorted order.
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	return s.store.ListTables(ctx)
}

// requireTable returns the table's columns or a NotFound error.
func (s *Service) requireTable(ctx context.Context, table string) ([]ColumnSchema, error) {
	cols, ok, err := s.store.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, TableNotFound(table)
	}
	return cols, nil
}

// GetTableSchema returns a table's columns with its first records as sample data.
func (s *Service) GetTableSchema(ctx context.Context, table string) (*DataSchema, error) {
	cols, err := s.requireTable(ctx, table)
	if err != nil {
		return nil, err
	}
	res, err := s.store.List(ctx, table, ListQuery{Limit: s.sampleSize()})
	if err != nil {
		return nil, err
	}
	sample := make([]RawRow, len(res.Records))
	for i, rec := range res.Records {
		sample[i] = recordSample(rec)
	}
	return &DataSchema{TableName: table, Columns: cols, SampleData: sample}, nil
}

func recordSample(rec Record) RawRow {
	var r RawRow
	r.Set(ReservedColumn, rec.ID)
	for _, f := range rec.Fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// DropTable removes a table and its records.
func (s *Service) DropTable(ctx context.Context, table string) error {
	dropped, err := s.store.DropTable(ctx, table)
	if err != nil {
		return err
	}
	if !dropped {
		return TableNotFound(table)
	}
	logging.WithFields(ctx, "table", table).Info("table dropped")
	return nil
}

// Reset drops every table.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	logging.FromContext(ctx).Warn("registry reset")
	return nil
}

func (s *Service) sampleSize() int {
	if s.upload.SampleRows > 0 {
		return s.upload.SampleRows
	}
	return 5
}

// InferFile parses a file and infers its schema without storing anything.
func (s *Service) InferFile(r io.Reader, fileName, mediaType string) (*DataSchema, *ParsedFile, error) {
	name := TableNameFromFile(fileName)
	if err := ValidateTableName(name); err != nil {
		return nil, nil, err
	}
	parsed, err := s.parse(r, fileName, mediaType)
	if err != nil {
		return nil, nil, parseError(err)
	}
	return s.inferParsed(name, parsed), parsed, nil
}

func (s *Service) inferParsed(name string, parsed *ParsedFile) *DataSchema {
	sample := parsed.Rows
	if n := s.upload.InferRows; n > 0 && len(sample) > n {
		sample = sample[:n]
	}
	head := parsed.Rows
	if n := s.sampleSize(); len(head) > n {
		head = head[:n]
	}
	return &DataSchema{TableName: name, Columns: Infer(sample), SampleData: head}
}

// Ingest parses an uploaded file, creates its table if needed and stores the
// rows. At most Upload.MaxConcurrent ingests run at once; a caller waiting
// longer than Upload.MaxWaitTime gets ErrIngestBusy.
//
// An existing table keeps its schema. Cells are converted to the stored
// column types and columns the table lacks are added.
func (s *Service) Ingest(ctx context.Context, r io.Reader, fileName, mediaType string) (*IngestResult, error) {
	return s.ingest(ctx, fileName, func() (*ParsedFile, error) {
		return s.parse(r, fileName, mediaType)
	})
}

// LoadFile ingests rows that were parsed elsewhere, such as by the CLI's
// parallel loader. It applies the same limits and rules as Ingest.
func (s *Service) LoadFile(ctx context.Context, fileName string, parsed *ParsedFile) (*IngestResult, error) {
	if parsed == nil {
		return nil, fmt.Errorf("load %s: no parsed content", fileName)
	}
	return s.ingest(ctx, fileName, func() (*ParsedFile, error) { return parsed, nil })
}

func (s *Service) ingest(ctx context.Context, fileName string, parse func() (*ParsedFile, error)) (result *IngestResult, err error) {
	start := time.Now()
	format := ""
	defer func() {
		if result != nil {
			result.Duration = time.Since(start)
		}
		if s.observer != nil {
			s.observer.ObserveIngest(format, result, time.Since(start), err)
		}
	}()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.upload.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.upload.Timeout)
		defer cancel()
	}

	ingestID := uuid.New().String()
	name := TableNameFromFile(fileName)
	log := logging.WithFields(ctx, "ingest_id", ingestID, "file", fileName, "table", name)

	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	parsed, err := parse()
	if err != nil {
		return nil, parseError(err)
	}
	format = parsed.Format
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema := s.inferParsed(name, parsed)
	rows := parsed.Rows
	if !s.upload.PersistAll && len(rows) > s.sampleSize() {
		rows = rows[:s.sampleSize()]
	}

	// Coerce before creating the table so a column that loses a cell is
	// committed as nullable.
	stored, exists, err := s.store.GetSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	cols := mergeColumns(stored, StorableColumns(schema.Columns))
	batch, coerced, nulled := coerceRows(rows, cols)
	MarkNullable(schema.Columns, nulled)

	if !exists {
		if err := s.store.CreateTable(ctx, name, StorableColumns(schema.Columns)); err != nil {
			return nil, err
		}
		// A concurrent ingest may have created the table first with other types.
		current, err := s.requireTable(ctx, name)
		if err != nil {
			return nil, err
		}
		if !sameTypes(current, cols) {
			cols = mergeColumns(current, StorableColumns(schema.Columns))
			batch, coerced, nulled = coerceRows(rows, cols)
			MarkNullable(schema.Columns, nulled)
		}
	}
	if err := s.store.InsertBatch(ctx, name, batch); err != nil {
		return nil, err
	}

	result = &IngestResult{
		IngestID:     ingestID,
		FileName:     fileName,
		Format:       parsed.Format,
		Schema:       *schema,
		RowsParsed:   len(parsed.Rows),
		RowsInserted: len(batch),
		CellsCoerced: coerced,
	}
	log.Info("file ingested",
		"format", parsed.Format,
		"bytes", parsed.Bytes,
		"columns", len(schema.Columns),
		"rows_parsed", result.RowsParsed,
		"rows_inserted", result.RowsInserted,
		"cells_coerced", coerced,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func coerceRows(rows []RawRow, cols []ColumnSchema) ([]Row, int, map[string]bool) {
	batch := make([]Row, len(rows))
	coerced := 0
	nulled := make(map[string]bool)
	for i, raw := range rows {
		var lost []string
		batch[i], lost = CoerceRow(raw, cols)
		coerced += len(lost)
		for _, name := range lost {
			nulled[name] = true
		}
	}
	return batch, coerced, nulled
}

// sameTypes reports whether every column of want exists in got with the same type.
func sameTypes(got, want []ColumnSchema) bool {
	idx := ColumnIndex(got)
	for _, c := range want {
		if g, ok := idx[c.Name]; !ok || g.Type != c.Type {
			return false
		}
	}
	return true
}

// mergeColumns keeps stored columns as they are and appends inferred ones the
// table does not have yet.
func mergeColumns(stored, inferred []ColumnSchema) []ColumnSchema {
	idx := ColumnIndex(stored)
	out := append([]ColumnSchema{}, stored...)
	for _, c := range inferred {
		if _, ok := idx[c.Name]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// IngestStatus reports active and maximum concurrent ingests.
func (s *Service) IngestStatus() (active, capacity int) {
	return s.limiter.Active(), s.limiter.Capacity()
}

// WaitForIngests blocks until no ingest is running or ctx ends.
func (s *Service) WaitForIngests(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ResolvePage applies the pagination rules to raw limit and offset text:
// a missing, invalid or non-positive limit takes the default, a limit above
// the maximum is capped, and a missing, invalid or negative offset is zero.
func (s *Service) ResolvePage(limit, offset string) Page {
	def, maxLimit := s.page.DefaultLimit, s.page.MaxLimit
	if def <= 0 {
		def = 100
	}
	if maxLimit <= 0 {
		maxLimit = def
	}
	p := Page{Limit: def}
	if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil && n >= 1 {
		p.Limit = n
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if n, err := strconv.Atoi(strings.TrimSpace(offset)); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// ListRecords lists a table's records. params are query parameters: limit and
// offset page the result and every other key is an equality filter.
func (s *Service) ListRecords(ctx context.Context, table string, params map[string][]string) (ListResult, Page, error) {
	if _, err := s.requireTable(ctx, table); err != nil {
		return ListResult{}, Page{}, err
	}
	page := s.ResolvePage(firstValue(params[ParamLimit]), firstValue(params[ParamOffset]))
	res, err := s.store.List(ctx, table, ListQuery{
		Filters: ParseFilters(params, ParamLimit, ParamOffset),
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
	return res, page, err
}

func firstValue(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// ParseRecordID parses a record id path segment.
func ParseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, ErrValidation("invalid record id: %q", raw)
	}
	return id, nil
}

// GetRecord returns one record or a NotFound error.
func (s *Service) GetRecord(ctx context.Context, table string, id int64) (Record, error) {
	if _, err := s.requireTable(ctx, table); err != nil {
		return Record{}, err
	}
	rec, ok, err := s.store.GetByID(ctx, table, id)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, RecordNotFound(table, id)
	}
	return rec, nil
}

// CreateRecord inserts a row into an existing table.
func (s *Service) CreateRecord(ctx context.Context, table string, row Row) (Record, error) {
	if _, err := s.requireTable(ctx, table); err != nil {
		return Record{}, err
	}
	return s.store.Insert(ctx, table, row)
}

// UpdateRecord merges patch into a record.
func (s *Service) UpdateRecord(ctx context.Context, table string, id int64, patch Row) (Record, error) {
	if _, err := s.requireTable(ctx, table); err != nil {
		return Record{}, err
	}
	rec, ok, err := s.store.Update(ctx, table, id, patch)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, RecordNotFound(table, id)
	}
	return rec, nil
}

// DeleteRecord removes a record.
func (s *Service) DeleteRecord(ctx context.Context, table string, id int64) error {
	if _, err := s.requireTable(ctx, table); err != nil {
		return err
	}
	deleted, err := s.store.Delete(ctx, table, id)
	if err != nil {
		return err
	}
	if !deleted {
		return RecordNotFound(table, id)
	}
	return nil
}

// parseError classifies a decoding failure as bad input. Limit errors such
// as an oversized body keep their own type.
func parseError(err error) error {
	if errors.Is(err, ErrTooLarge) || IsValidation(err) {
		return err
	}
	return ErrValidation("%s", err.Error())
}
