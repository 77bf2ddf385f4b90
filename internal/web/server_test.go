package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/ingest"
	"github.com/JonMunkholm/tableapi/internal/metrics"
	"github.com/JonMunkholm/tableapi/internal/storage/memory"
)

const peopleCSV = "name,age,active\nAlice,30,true\nBob,25,false\nCarol,30,false\n"

type response struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Code       string          `json:"code"`
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Rate.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	svc := core.NewService(memory.New(), ingest.ParseFunc, cfg)
	return NewServer(svc, cfg, opts...)
}

func do(t *testing.T, s *Server, method, path string, body []byte, header http.Header) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func multipartBody(t *testing.T, field string, files map[string]string) ([]byte, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), http.Header{"Content-Type": {mw.FormDataContentType()}}
}

func upload(t *testing.T, s *Server, fileName, content string) []UploadResult {
	t.Helper()
	body, header := multipartBody(t, "files", map[string]string{fileName: content})
	rec, resp := do(t, s, http.MethodPost, "/api/upload", body, header)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var results []UploadResult
	require.NoError(t, json.Unmarshal(resp.Data, &results))
	return results
}

func TestUpload_CreatesTable(t *testing.T) {
	s := newTestServer(t, nil)

	results := upload(t, s, "People.csv", peopleCSV)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "people", res.TableName)
	assert.Equal(t, "/api/data/people", res.APIURL)
	assert.Equal(t, 3, res.RowsParsed)
	assert.Equal(t, 3, res.RowsInserted)
	assert.NotEmpty(t, res.IngestID)
	require.NotNil(t, res.Schema)
	assert.Contains(t, res.Schema.Properties, "age")
	assert.ElementsMatch(t, []string{"id", "name", "age", "active"}, res.Schema.Required)

	_, resp := do(t, s, http.MethodGet, "/api/tables", nil, nil)
	var tables []string
	require.NoError(t, json.Unmarshal(resp.Data, &tables))
	assert.Equal(t, []string{"people"}, tables)
}

func TestUpload_SingleFileField(t *testing.T) {
	s := newTestServer(t, nil)
	body, header := multipartBody(t, "file", map[string]string{"orders.csv": "sku,qty\nA1,2\n"})
	rec, _ := do(t, s, http.MethodPost, "/api/upload", body, header)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestUpload_Errors(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		s := newTestServer(t, nil)
		body, header := multipartBody(t, "other", map[string]string{"x.csv": peopleCSV})
		rec, resp := do(t, s, http.MethodPost, "/api/upload", body, header)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, "FILE004", resp.Code)
	})

	t.Run("unsupported type", func(t *testing.T) {
		s := newTestServer(t, nil)
		body, header := multipartBody(t, "files", map[string]string{"notes.pdf": "%PDF-1.4"})
		rec, resp := do(t, s, http.MethodPost, "/api/upload", body, header)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE006", resp.Code)
	})

	t.Run("too large", func(t *testing.T) {
		s := newTestServer(t, func(c *config.Config) { c.Upload.MaxFileSize = 64 })
		body, header := multipartBody(t, "files", map[string]string{"big.csv": strings.Repeat("a,b\n", 100)})
		rec, resp := do(t, s, http.MethodPost, "/api/upload", body, header)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "FILE001", resp.Code)
	})
}

func TestRecordEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	upload(t, s, "people.csv", peopleCSV)

	t.Run("list with pagination", func(t *testing.T) {
		rec, resp := do(t, s, http.MethodGet, "/api/data/people?limit=2&offset=1", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, resp.Pagination)
		assert.Equal(t, Pagination{Limit: 2, Offset: 1, Total: 3}, *resp.Pagination)

		var records []map[string]any
		require.NoError(t, json.Unmarshal(resp.Data, &records))
		require.Len(t, records, 2)
		assert.EqualValues(t, 2, records[0]["id"])
		assert.Equal(t, "Bob", records[0]["name"])
	})

	t.Run("list with filter", func(t *testing.T) {
		_, resp := do(t, s, http.MethodGet, "/api/data/people?age=30", nil, nil)
		assert.EqualValues(t, 2, resp.Pagination.Total)
	})

	t.Run("get", func(t *testing.T) {
		rec, resp := do(t, s, http.MethodGet, "/api/data/people/1", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var record map[string]any
		require.NoError(t, json.Unmarshal(resp.Data, &record))
		assert.Equal(t, "Alice", record["name"])
		assert.Equal(t, 30.0, record["age"])
		assert.Equal(t, true, record["active"])
	})

	t.Run("create update delete", func(t *testing.T) {
		rec, resp := do(t, s, http.MethodPost, "/api/data/people", []byte(`{"name":"Dave","age":"41","city":"Oslo"}`), nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "/api/data/people/4", rec.Header().Get("Location"))
		var created map[string]any
		require.NoError(t, json.Unmarshal(resp.Data, &created))
		assert.EqualValues(t, 4, created["id"])
		assert.Equal(t, 41.0, created["age"])
		assert.Equal(t, "Oslo", created["city"])

		rec, resp = do(t, s, http.MethodPatch, "/api/data/people/4", []byte(`{"active":true}`), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var updated map[string]any
		require.NoError(t, json.Unmarshal(resp.Data, &updated))
		assert.Equal(t, "Dave", updated["name"])
		assert.Equal(t, true, updated["active"])

		rec, _ = do(t, s, http.MethodDelete, "/api/data/people/4", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec, resp = do(t, s, http.MethodGet, "/api/data/people/4", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "REC001", resp.Code)
	})

	t.Run("client errors", func(t *testing.T) {
		tests := []struct {
			name     string
			method   string
			path     string
			body     string
			wantCode int
			wantErr  string
		}{
			{"unknown table", http.MethodGet, "/api/data/missing", "", http.StatusNotFound, "TBL001"},
			{"non-numeric id", http.MethodGet, "/api/data/people/abc", "", http.StatusBadRequest, "VAL006"},
			{"missing record", http.MethodDelete, "/api/data/people/99", "", http.StatusNotFound, "REC001"},
			{"malformed json", http.MethodPost, "/api/data/people", "{", http.StatusBadRequest, "VAL005"},
			{"array body", http.MethodPost, "/api/data/people", "[1]", http.StatusBadRequest, "VAL005"},
			{"nested value", http.MethodPost, "/api/data/people", `{"tags":["a"]}`, http.StatusBadRequest, "VAL004"},
			{"bad number", http.MethodPut, "/api/data/people/1", `{"age":"old"}`, http.StatusBadRequest, "VAL002"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec, resp := do(t, s, tt.method, tt.path, []byte(tt.body), nil)
				assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				assert.False(t, resp.Success)
				assert.Equal(t, tt.wantErr, resp.Code)
			})
		}
	})
}

func TestTableEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	upload(t, s, "people.csv", peopleCSV)

	rec, resp := do(t, s, http.MethodGet, "/api/tables/people", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var schema core.DataSchema
	require.NoError(t, json.Unmarshal(resp.Data, &schema))
	assert.Equal(t, "people", schema.TableName)
	assert.Len(t, schema.Columns, 3)

	rec, _ = do(t, s, http.MethodDelete, "/api/tables/people", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, resp = do(t, s, http.MethodGet, "/api/tables/people", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TBL001", resp.Code)
}

func TestDocs_IsValidOpenAPI(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Security.RequireAPIKey = true; c.Security.APIKeys = []string{"k"} })
	body, header := multipartBody(t, "files", map[string]string{"people.csv": peopleCSV})
	header.Set("X-API-Key", "k")
	rec, _ := do(t, s, http.MethodPost, "/api/upload", body, header)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/docs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := openapi3.NewLoader().LoadFromData(rec.Body.Bytes())
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	assert.NotNil(t, doc.Paths.Value("/api/data/people"))
	assert.NotNil(t, doc.Paths.Value("/api/data/people/{id}"))
	assert.Contains(t, doc.Components.Schemas, "Table_people")
	assert.Len(t, doc.Security, 1)
}

func TestAuth_ProtectsAPI(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Security.RequireAPIKey = true; c.Security.APIKeys = []string{"secret"} })

	rec, resp := do(t, s, http.MethodGet, "/api/tables", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH001", resp.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/tables", nil, http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/tables", nil, http.Header{"X-Api-Key": {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/docs", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	s := newTestServer(t, nil, WithMetrics(m))
	do(t, s, http.MethodGet, "/api/tables", nil, nil)

	rec, _ := do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tableapi_http_requests_total{method="GET",route="/api/tables",status="200"} 1`)
}

func TestSecurityHeadersAndUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)
	rec, resp := do(t, s, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.TableNotFound("t"), http.StatusNotFound},
		{core.ErrValidation("bad"), http.StatusBadRequest},
		{fmt.Errorf("acquire: %w", core.ErrIngestBusy), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("file too large: %w", &http.MaxBytesError{Limit: 1}), http.StatusRequestEntityTooLarge},
		{fmt.Errorf("parse: %w", core.ErrTooLarge), http.StatusRequestEntityTooLarge},
		{core.ErrStorage("insert", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestRespondError_HidesStorageDetail(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/data/x", nil)
	s.respondError(rec, req, core.ErrStorage("list", errors.New(`relation "secret_table" does not exist`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret_table")
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DB000", resp.Code)
}
