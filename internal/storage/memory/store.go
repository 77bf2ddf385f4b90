// Package memory implements core.Store in process memory.
//
// The registry map is guarded by one RWMutex and every table carries its own
// RWMutex, so writers to different tables never contend. A table's id counter
// lives inside the table and is only advanced while its write lock is held.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/JonMunkholm/tableapi/internal/core"
)

// Store is an in-memory core.Store.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

type table struct {
	mu      sync.RWMutex
	columns []core.ColumnSchema
	records []core.Record // ascending id
	nextID  int64
	dropped bool
}

var _ core.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func newTable(cols []core.ColumnSchema) *table {
	return &table{columns: cols, nextID: 1}
}

func (s *Store) lookup(name string) *table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name]
}

// obtain returns the named table, creating an empty one if needed.
func (s *Store) obtain(name string) *table {
	if t := s.lookup(name); t != nil {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t
	}
	t := newTable(nil)
	s.tables[name] = t
	return t
}

// lockLive write-locks the named table, retrying if a concurrent drop
// detached it between lookup and lock.
func (s *Store) lockLive(name string) *table {
	for {
		t := s.obtain(name)
		t.mu.Lock()
		if !t.dropped {
			return t
		}
		t.mu.Unlock()
	}
}

func (s *Store) CreateTable(_ context.Context, name string, columns []core.ColumnSchema) error {
	if err := core.ValidateTableName(name); err != nil {
		return err
	}
	cols := core.StorableColumns(columns)
	for _, c := range cols {
		if err := core.ValidateName("column", c.Name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return nil
	}
	s.tables[name] = newTable(cols)
	return nil
}

func (s *Store) ListTables(context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *Store) GetSchema(_ context.Context, name string) ([]core.ColumnSchema, bool, error) {
	t := s.lookup(name)
	if t == nil {
		return nil, false, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]core.ColumnSchema{}, t.columns...), true, nil
}

func (s *Store) DropTable(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	t, ok := s.tables[name]
	delete(s.tables, name)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	t.mu.Lock()
	t.dropped = true
	t.mu.Unlock()
	return true, nil
}

func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	old := s.tables
	s.tables = make(map[string]*table)
	s.mu.Unlock()
	for _, t := range old {
		t.mu.Lock()
		t.dropped = true
		t.mu.Unlock()
	}
	return nil
}

func (s *Store) Insert(_ context.Context, name string, row core.Row) (core.Record, error) {
	if err := core.ValidateTableName(name); err != nil {
		return core.Record{}, err
	}
	t := s.lockLive(name)
	defer t.mu.Unlock()

	added, norm, err := core.PrepareRow(t.columns, row)
	if err != nil {
		return core.Record{}, err
	}
	t.columns = append(t.columns, added...)
	rec := t.append(norm)
	return t.project(rec), nil
}

func (s *Store) InsertBatch(ctx context.Context, name string, rows []core.Row) error {
	if err := core.ValidateTableName(name); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	t := s.lockLive(name)
	defer t.mu.Unlock()

	// Everything is validated before the first id is taken.
	cols := append([]core.ColumnSchema{}, t.columns...)
	prepared := make([]core.Row, len(rows))
	for i, row := range rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		added, norm, err := core.PrepareRow(cols, row)
		if err != nil {
			return core.ErrValidation("row %d: %s", i+1, err)
		}
		cols = append(cols, added...)
		prepared[i] = norm
	}

	t.columns = cols
	for _, norm := range prepared {
		t.append(norm)
	}
	return nil
}

func (s *Store) GetByID(_ context.Context, name string, id int64) (core.Record, bool, error) {
	t := s.lookup(name)
	if t == nil {
		return core.Record{}, false, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.find(id)
	if !ok {
		return core.Record{}, false, nil
	}
	return t.project(t.records[i]), true, nil
}

func (s *Store) List(_ context.Context, name string, q core.ListQuery) (core.ListResult, error) {
	res := core.ListResult{Records: []core.Record{}}
	t := s.lookup(name)
	if t == nil {
		return res, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	match := q.Filters.Predicate(t.columns)
	for _, rec := range t.records {
		if !match(rec) {
			continue
		}
		res.Total++
		if res.Total <= int64(q.Offset) {
			continue
		}
		if q.Limit > 0 && len(res.Records) >= q.Limit {
			continue
		}
		res.Records = append(res.Records, t.project(rec))
	}
	return res, nil
}

func (s *Store) Update(_ context.Context, name string, id int64, patch core.Row) (core.Record, bool, error) {
	t := s.lookup(name)
	if t == nil {
		return core.Record{}, false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return core.Record{}, false, nil
	}
	i, ok := t.find(id)
	if !ok {
		return core.Record{}, false, nil
	}

	added, norm, err := core.PrepareRow(t.columns, patch)
	if err != nil {
		return core.Record{}, false, err
	}
	t.columns = append(t.columns, added...)
	t.records[i] = t.records[i].Merge(norm)
	return t.project(t.records[i]), true, nil
}

func (s *Store) Delete(_ context.Context, name string, id int64) (bool, error) {
	t := s.lookup(name)
	if t == nil {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dropped {
		return false, nil
	}
	i, ok := t.find(id)
	if !ok {
		return false, nil
	}
	t.records = slices.Delete(t.records, i, i+1)
	return true, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// append assigns the next id. Callers hold the write lock.
func (t *table) append(fields core.Row) core.Record {
	rec := core.Record{ID: t.nextID, Fields: fields}
	t.nextID++
	t.records = append(t.records, rec)
	return rec
}

func (t *table) find(id int64) (int, bool) {
	i := sort.Search(len(t.records), func(i int) bool { return t.records[i].ID >= id })
	return i, i < len(t.records) && t.records[i].ID == id
}

func (t *table) project(rec core.Record) core.Record {
	return core.Record{ID: rec.ID, Fields: core.Project(rec.Fields, t.columns)}
}
