// Package postgres implements core.Store on PostgreSQL through pgx.
//
// Every mutation of a table runs in a transaction holding a transaction-scoped
// advisory lock keyed by the table name, which makes create-if-missing and
// additive column changes atomic across processes. No in-process lock is
// held across a round trip.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/storage/sqlgen"
)

var dialect = sqlgen.Dialect{
	Placeholder: core.DollarPlaceholder,
	IDColumn:    "BIGSERIAL PRIMARY KEY",
	Types: map[core.SemanticType]string{
		core.TypeString:  "TEXT",
		core.TypeNumber:  "DOUBLE PRECISION",
		core.TypeBoolean: "BOOLEAN",
		core.TypeDate:    "TIMESTAMPTZ",
	},
}

// Store is a PostgreSQL-backed core.Store.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ core.Store = (*Store)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects, applies migrations and returns a store.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, timeout: cfg.QueryTimeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// inWrite runs fn in a transaction holding the advisory lock for each table
// name, taken in sorted order. It commits only when fn reports commit=true.
func (s *Store) inWrite(ctx context.Context, op string, tables []string, fn func(tx pgx.Tx) (commit bool, err error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.ErrStorage(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sorted := append([]string{}, tables...)
	sort.Strings(sorted)
	for _, name := range sorted {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
			return core.ErrStorage(op, err)
		}
	}

	commit, err := fn(tx)
	if err != nil {
		return core.ErrStorage(op, err)
	}
	if !commit {
		return nil
	}
	return core.ErrStorage(op, tx.Commit(ctx))
}

// inRead runs fn in a read-only repeatable-read transaction so the count
// and the page come from one snapshot.
func (s *Store) inRead(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return core.ErrStorage(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return core.ErrStorage(op, fn(tx))
}

func loadColumns(ctx context.Context, q querier, table string) ([]core.ColumnSchema, bool, error) {
	var raw []byte
	err := q.QueryRow(ctx, "SELECT columns FROM "+sqlgen.MetaTable+" WHERE name = $1", table).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cols, err := sqlgen.DecodeColumns(raw)
	if err != nil {
		return nil, false, err
	}
	return cols, true, nil
}

func createTable(ctx context.Context, q querier, table string, cols []core.ColumnSchema, declared bool) error {
	if _, err := q.Exec(ctx, dialect.CreateTable(table, cols)); err != nil {
		return err
	}
	data, err := sqlgen.EncodeColumns(cols)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, "INSERT INTO "+sqlgen.MetaTable+" (name, columns, declared) VALUES ($1, $2, $3)", table, data, declared)
	return err
}

// ensureTable returns the table's columns, creating an empty table on first
// write. Callers hold the table's advisory lock.
func ensureTable(ctx context.Context, tx pgx.Tx, table string) ([]core.ColumnSchema, error) {
	cols, ok, err := loadColumns(ctx, tx, table)
	if err != nil || ok {
		return cols, err
	}
	return nil, createTable(ctx, tx, table, nil, false)
}

func extend(ctx context.Context, tx pgx.Tx, table string, cols, added []core.ColumnSchema) ([]core.ColumnSchema, error) {
	if len(added) == 0 {
		return cols, nil
	}
	for _, c := range added {
		if _, err := tx.Exec(ctx, dialect.AddColumn(table, c)); err != nil {
			return nil, err
		}
	}
	cols = sqlgen.Columns(cols, added)
	data, err := sqlgen.EncodeColumns(cols)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, "UPDATE "+sqlgen.MetaTable+" SET columns = $1 WHERE name = $2", data, table)
	return cols, err
}

func (s *Store) CreateTable(ctx context.Context, name string, columns []core.ColumnSchema) error {
	if err := core.ValidateTableName(name); err != nil {
		return err
	}
	cols := core.StorableColumns(columns)
	for _, c := range cols {
		if err := core.ValidateName("column", c.Name); err != nil {
			return err
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.inWrite(ctx, "create table", []string{name}, func(tx pgx.Tx) (bool, error) {
		_, ok, err := loadColumns(ctx, tx, name)
		if err != nil || ok {
			return false, err
		}
		return true, createTable(ctx, tx, name, cols, true)
	})
}

func (s *Store) tableNames(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT name FROM `+sqlgen.MetaTable+` ORDER BY name COLLATE "C"`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	names, err := s.tableNames(ctx, s.pool)
	if err != nil {
		return nil, core.ErrStorage("list tables", err)
	}
	return names, nil
}

func (s *Store) GetSchema(ctx context.Context, name string) ([]core.ColumnSchema, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cols, ok, err := loadColumns(ctx, s.pool, name)
	if err != nil {
		return nil, false, core.ErrStorage("get schema", err)
	}
	if ok && cols == nil {
		cols = []core.ColumnSchema{}
	}
	return cols, ok, nil
}

func dropTable(ctx context.Context, tx pgx.Tx, name string) error {
	if _, err := tx.Exec(ctx, dialect.DropTable(name)); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	_, err := tx.Exec(ctx, "DELETE FROM "+sqlgen.MetaTable+" WHERE name = $1", name)
	return err
}

func (s *Store) DropTable(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var dropped bool
	err := s.inWrite(ctx, "drop table", []string{name}, func(tx pgx.Tx) (bool, error) {
		_, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return false, err
		}
		if err := dropTable(ctx, tx, name); err != nil {
			return false, err
		}
		dropped = true
		return true, nil
	})
	return dropped, err
}

func (s *Store) Reset(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names, err := s.tableNames(ctx, s.pool)
	if err != nil {
		return core.ErrStorage("reset", err)
	}
	return s.inWrite(ctx, "reset", names, func(tx pgx.Tx) (bool, error) {
		for _, name := range names {
			if err := dropTable(ctx, tx, name); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func (s *Store) Insert(ctx context.Context, name string, row core.Row) (core.Record, error) {
	if err := core.ValidateTableName(name); err != nil {
		return core.Record{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rec core.Record
	err := s.inWrite(ctx, "insert", []string{name}, func(tx pgx.Tx) (bool, error) {
		cols, err := ensureTable(ctx, tx, name)
		if err != nil {
			return false, err
		}
		added, norm, err := core.PrepareRow(cols, row)
		if err != nil {
			return false, err
		}
		if cols, err = extend(ctx, tx, name, cols, added); err != nil {
			return false, err
		}

		q := dialect.Insert(name, norm)
		var id int64
		if err := tx.QueryRow(ctx, q.SQL, q.Args...).Scan(&id); err != nil {
			return false, err
		}
		rec = core.Record{ID: id, Fields: core.Project(norm, cols)}
		return true, nil
	})
	return rec, err
}

// InsertBatch streams the rows with the COPY protocol inside one transaction.
func (s *Store) InsertBatch(ctx context.Context, name string, rows []core.Row) error {
	if err := core.ValidateTableName(name); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.inWrite(ctx, "insert batch", []string{name}, func(tx pgx.Tx) (bool, error) {
		cols, err := ensureTable(ctx, tx, name)
		if err != nil {
			return false, err
		}

		all := cols
		prepared := make([]core.Row, len(rows))
		for i, row := range rows {
			added, norm, err := core.PrepareRow(all, row)
			if err != nil {
				return false, core.ErrValidation("row %d: %s", i+1, err)
			}
			if len(added) > 0 {
				all = sqlgen.Columns(all, added)
			}
			prepared[i] = norm
		}
		if all, err = extend(ctx, tx, name, cols, all[len(cols):]); err != nil {
			return false, err
		}

		names := copyColumns(all, prepared)
		if len(names) == 0 {
			q := dialect.InsertStatement(name, nil)
			for range prepared {
				if _, err := tx.Exec(ctx, q); err != nil {
					return false, err
				}
			}
			return true, nil
		}

		data := make([][]any, len(prepared))
		for i, norm := range prepared {
			vals := make([]any, len(names))
			for j, col := range names {
				if v, ok := norm.Get(col); ok {
					vals[j] = dialect.Bind(v)
				}
			}
			data[i] = vals
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{name}, names, pgx.CopyFromRows(data)); err != nil {
			return false, err
		}
		return true, nil
	})
}

// copyColumns lists, in schema order, every column some row sets.
func copyColumns(cols []core.ColumnSchema, rows []core.Row) []string {
	used := make(map[string]bool)
	for _, r := range rows {
		for _, f := range r {
			used[f.Name] = true
		}
	}
	var names []string
	for _, c := range cols {
		if used[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

func scanRecord(row pgx.Rows, cols []core.ColumnSchema) (core.Record, error) {
	vals, err := row.Values()
	if err != nil {
		return core.Record{}, err
	}
	return sqlgen.DecodeRecord(vals, cols)
}

// queryRecords runs q and decodes every returned row.
func queryRecords(ctx context.Context, db querier, q sqlgen.Query, cols []core.ColumnSchema) ([]core.Record, error) {
	rows, err := db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func getByID(ctx context.Context, db querier, table string, cols []core.ColumnSchema, id int64) (core.Record, bool, error) {
	recs, err := queryRecords(ctx, db, dialect.GetByID(table, cols, id), cols)
	if err != nil || len(recs) == 0 {
		return core.Record{}, false, err
	}
	return recs[0], true, nil
}

func (s *Store) GetByID(ctx context.Context, name string, id int64) (core.Record, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		rec   core.Record
		found bool
	)
	err := s.inRead(ctx, "get record", func(tx pgx.Tx) error {
		cols, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return err
		}
		rec, found, err = getByID(ctx, tx, name, cols, id)
		return err
	})
	return rec, found, err
}

func (s *Store) List(ctx context.Context, name string, q core.ListQuery) (core.ListResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res := core.ListResult{Records: []core.Record{}}
	err := s.inRead(ctx, "list records", func(tx pgx.Tx) error {
		cols, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return err
		}
		count, page := dialect.List(name, cols, q)
		if err := tx.QueryRow(ctx, count.SQL, count.Args...).Scan(&res.Total); err != nil {
			return err
		}
		res.Records, err = queryRecords(ctx, tx, page, cols)
		return err
	})
	return res, err
}

func (s *Store) Update(ctx context.Context, name string, id int64, patch core.Row) (core.Record, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		rec   core.Record
		found bool
	)
	err := s.inWrite(ctx, "update", []string{name}, func(tx pgx.Tx) (bool, error) {
		cols, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return false, err
		}
		current, ok, err := getByID(ctx, tx, name, cols, id)
		if err != nil || !ok {
			return false, err
		}

		added, norm, err := core.PrepareRow(cols, patch)
		if err != nil {
			return false, err
		}
		if len(norm) == 0 {
			rec, found = current, true
			return false, nil
		}
		if cols, err = extend(ctx, tx, name, cols, added); err != nil {
			return false, err
		}

		recs, err := queryRecords(ctx, tx, dialect.Update(name, cols, id, norm), cols)
		if err != nil {
			return false, err
		}
		if len(recs) == 0 {
			return false, nil
		}
		rec, found = recs[0], true
		return true, nil
	})
	return rec, found, err
}

func (s *Store) Delete(ctx context.Context, name string, id int64) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deleted bool
	err := s.inWrite(ctx, "delete", []string{name}, func(tx pgx.Tx) (bool, error) {
		_, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return false, err
		}
		q := dialect.Delete(name, id)
		tag, err := tx.Exec(ctx, q.SQL, q.Args...)
		if err != nil {
			return false, err
		}
		deleted = tag.RowsAffected() > 0
		return deleted, nil
	})
	return deleted, err
}

func (s *Store) Ping(ctx context.Context) error {
	return core.ErrStorage("ping", s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
