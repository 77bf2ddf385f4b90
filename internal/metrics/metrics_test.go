package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/storage/memory"
)

func TestNew_InstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.ObserveHTTP("/api/tables", http.MethodGet, 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.httpRequests.WithLabelValues("/api/tables", "GET", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.httpRequests.WithLabelValues("/api/tables", "GET", "200")))
}

func TestObserveIngest(t *testing.T) {
	m := New()
	m.ObserveIngest("csv", &core.IngestResult{RowsInserted: 10, CellsCoerced: 2}, time.Second, nil)
	m.ObserveIngest("", nil, time.Millisecond, core.ErrValidation("empty file"))
	m.ObserveIngest("xlsx", nil, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("csv", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("unknown", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingests.WithLabelValues("xlsx", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.ingestRows.WithLabelValues("csv")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestCoerced))
}

func TestInstrumentStore(t *testing.T) {
	m := New()
	s := m.InstrumentStore(memory.New())
	ctx := context.Background()

	require.NoError(t, s.CreateTable(ctx, "people", nil))
	_, err := s.Insert(ctx, "people", core.Row{{Name: "name", Value: core.StringValue("Ada")}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "people", core.Row{{Name: "", Value: core.StringValue("x")}})
	require.Error(t, err)
	_, ok, err := s.GetByID(ctx, "people", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("create_table", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("insert", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("get", "ok")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.ObserveHTTP("", http.MethodGet, 404, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `tableapi_http_requests_total{method="GET",route="unmatched",status="404"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
