package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/logging"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before parts spill to temporary files.
const multipartMemory = 32 << 20

// UploadResult describes one ingested file.
type UploadResult struct {
	IngestID     string              `json:"ingestId"`
	FileName     string              `json:"fileName"`
	TableName    string              `json:"tableName"`
	Format       string              `json:"format"`
	APIURL       string              `json:"apiUrl"`
	Endpoints    []string            `json:"endpoints"`
	Schema       *openapi3.Schema    `json:"schema"`
	Columns      []core.ColumnSchema `json:"columns"`
	SampleData   []core.RawRow       `json:"sampleData"`
	RowsParsed   int                 `json:"rowsParsed"`
	RowsInserted int                 `json:"rowsInserted"`
	CellsCoerced int                 `json:"cellsCoerced"`
	DurationMS   int64               `json:"durationMs"`
}

// handleUpload ingests one or more files from the multipart fields "files"
// and "file". Files are processed one at a time in request order; the first
// failure ends the request and files before it stay ingested.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	if r.ContentLength > maxSize {
		s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrTooLarge, maxSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	// Large files outlive the server-wide write deadline.
	if d := s.cfg.Upload.Timeout; d > 0 {
		rc := http.NewResponseController(w)
		deadline := time.Now().Add(d + time.Minute)
		_ = rc.SetReadDeadline(deadline)
		_ = rc.SetWriteDeadline(deadline)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes: %w", core.ErrTooLarge, maxSize, err))
			return
		}
		s.respondError(w, r, core.ErrValidation("invalid multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["file"])
	if len(headers) == 0 {
		s.respondError(w, r, core.ErrValidation("no file provided"))
		return
	}

	results := make([]UploadResult, 0, len(headers))
	for _, fh := range headers {
		res, err := s.ingestPart(r, fh)
		if err != nil {
			logging.FromContext(r.Context()).Warn("upload stopped",
				"file", fh.Filename,
				"ingested", len(results),
				"remaining", len(headers)-len(results),
			)
			s.respondError(w, r, err)
			return
		}
		results = append(results, uploadResult(res))
	}
	s.respond(w, r, http.StatusCreated, results)
}

func (s *Server) ingestPart(r *http.Request, fh *multipart.FileHeader) (*core.IngestResult, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return s.service.Ingest(r.Context(), f, fh.Filename, fh.Header.Get("Content-Type"))
}

func uploadResult(res *core.IngestResult) UploadResult {
	table := res.Schema.TableName
	base := "/api/data/" + url.PathEscape(table)
	return UploadResult{
		IngestID:  res.IngestID,
		FileName:  res.FileName,
		TableName: table,
		Format:    res.Format,
		APIURL:    base,
		Endpoints: []string{
			"GET " + base,
			"POST " + base,
			"GET " + base + "/{id}",
			"PUT " + base + "/{id}",
			"DELETE " + base + "/{id}",
		},
		Schema:       recordSchema(res.Schema.Columns, true),
		Columns:      res.Schema.Columns,
		SampleData:   res.Schema.SampleData,
		RowsParsed:   res.RowsParsed,
		RowsInserted: res.RowsInserted,
		CellsCoerced: res.CellsCoerced,
		DurationMS:   res.Duration.Milliseconds(),
	}
}
