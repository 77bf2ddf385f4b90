package metrics

import (
	"context"
	"time"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// InstrumentStore wraps s so every call is counted and timed.
func (m *Metrics) InstrumentStore(s core.Store) core.Store {
	return &instrumentedStore{next: s, m: m}
}

type instrumentedStore struct {
	next core.Store
	m    *Metrics
}

var _ core.Store = (*instrumentedStore)(nil)

// observe is deferred with a pointer to the named error result.
func (s *instrumentedStore) observe(op string, start time.Time, err *error) {
	s.m.observeStore(op, start, *err)
}

func (s *instrumentedStore) CreateTable(ctx context.Context, name string, columns []core.ColumnSchema) (err error) {
	defer s.observe("create_table", time.Now(), &err)
	return s.next.CreateTable(ctx, name, columns)
}

func (s *instrumentedStore) ListTables(ctx context.Context) (_ []string, err error) {
	defer s.observe("list_tables", time.Now(), &err)
	return s.next.ListTables(ctx)
}

func (s *instrumentedStore) GetSchema(ctx context.Context, name string) (_ []core.ColumnSchema, _ bool, err error) {
	defer s.observe("get_schema", time.Now(), &err)
	return s.next.GetSchema(ctx, name)
}

func (s *instrumentedStore) DropTable(ctx context.Context, name string) (_ bool, err error) {
	defer s.observe("drop_table", time.Now(), &err)
	return s.next.DropTable(ctx, name)
}

func (s *instrumentedStore) Reset(ctx context.Context) (err error) {
	defer s.observe("reset", time.Now(), &err)
	return s.next.Reset(ctx)
}

func (s *instrumentedStore) Insert(ctx context.Context, table string, row core.Row) (_ core.Record, err error) {
	defer s.observe("insert", time.Now(), &err)
	return s.next.Insert(ctx, table, row)
}

func (s *instrumentedStore) InsertBatch(ctx context.Context, table string, rows []core.Row) (err error) {
	defer s.observe("insert_batch", time.Now(), &err)
	return s.next.InsertBatch(ctx, table, rows)
}

func (s *instrumentedStore) GetByID(ctx context.Context, table string, id int64) (_ core.Record, _ bool, err error) {
	defer s.observe("get", time.Now(), &err)
	return s.next.GetByID(ctx, table, id)
}

func (s *instrumentedStore) List(ctx context.Context, table string, q core.ListQuery) (_ core.ListResult, err error) {
	defer s.observe("list", time.Now(), &err)
	return s.next.List(ctx, table, q)
}

func (s *instrumentedStore) Update(ctx context.Context, table string, id int64, patch core.Row) (_ core.Record, _ bool, err error) {
	defer s.observe("update", time.Now(), &err)
	return s.next.Update(ctx, table, id, patch)
}

func (s *instrumentedStore) Delete(ctx context.Context, table string, id int64) (_ bool, err error) {
	defer s.observe("delete", time.Now(), &err)
	return s.next.Delete(ctx, table, id)
}

func (s *instrumentedStore) Ping(ctx context.Context) (err error) {
	defer s.observe("ping", time.Now(), &err)
	return s.next.Ping(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
