// Package sqlite implements core.Store on an embedded SQLite database.
//
// Each logical table is a real SQLite table with an AUTOINCREMENT id, so ids
// are never reused after deletes. Declared columns live in the registry
// table as JSON because SQLite's own column types cannot tell a date from
// free text.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/tableapi/internal/config"
	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/storage/sqlgen"
)

var dialect = sqlgen.Dialect{
	Placeholder: core.QuestionPlaceholder,
	IDColumn:    "INTEGER PRIMARY KEY AUTOINCREMENT",
	Types: map[core.SemanticType]string{
		core.TypeString:  "TEXT",
		core.TypeNumber:  "REAL",
		core.TypeBoolean: "BOOLEAN",
		core.TypeDate:    "TEXT",
	},
	BindDate: sqlgen.BindDateText,
}

// Store is a SQLite-backed core.Store.
type Store struct {
	write   *sql.DB
	read    *sql.DB
	timeout time.Duration
}

var _ core.Store = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database file, applies migrations and returns a store.
func Open(cfg config.StorageConfig) (*Store, error) {
	writeDB, readDB, err := openPair(cfg.SQLitePath, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := migrate(writeDB); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, err
	}
	return &Store{write: writeDB, read: readDB, timeout: cfg.QueryTimeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// inWrite runs fn in a write transaction. It commits only when fn succeeds
// and reports commit=true.
func (s *Store) inWrite(ctx context.Context, op string, fn func(tx *sql.Tx) (commit bool, err error)) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrStorage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	commit, err := fn(tx)
	if err != nil {
		return core.ErrStorage(op, err)
	}
	if !commit {
		return nil
	}
	return core.ErrStorage(op, tx.Commit())
}

// inRead runs fn in a read transaction so every statement sees one snapshot.
func (s *Store) inRead(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.read.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrStorage(op, err)
	}
	defer func() { _ = tx.Rollback() }()
	return core.ErrStorage(op, fn(tx))
}

func loadColumns(ctx context.Context, q querier, table string) ([]core.ColumnSchema, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT columns FROM "+sqlgen.MetaTable+" WHERE name = ?", table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cols, err := sqlgen.DecodeColumns([]byte(raw))
	if err != nil {
		return nil, false, err
	}
	return cols, true, nil
}

func saveColumns(ctx context.Context, q querier, table string, cols []core.ColumnSchema) error {
	data, err := sqlgen.EncodeColumns(cols)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, "UPDATE "+sqlgen.MetaTable+" SET columns = ? WHERE name = ?", string(data), table)
	return err
}

func createTable(ctx context.Context, q querier, table string, cols []core.ColumnSchema, declared bool) error {
	if _, err := q.ExecContext(ctx, dialect.CreateTable(table, cols)); err != nil {
		return err
	}
	data, err := sqlgen.EncodeColumns(cols)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, "INSERT INTO "+sqlgen.MetaTable+" (name, columns, declared) VALUES (?, ?, ?)", table, string(data), declared)
	return err
}

// ensureTable returns the table's columns, creating an empty table on first write.
func ensureTable(ctx context.Context, tx *sql.Tx, table string) ([]core.ColumnSchema, error) {
	cols, ok, err := loadColumns(ctx, tx, table)
	if err != nil || ok {
		return cols, err
	}
	return nil, createTable(ctx, tx, table, nil, false)
}

// extend adds columns to the table and the registry. SQLite column names are
// case-insensitive, so a name differing only in case is rejected.
func extend(ctx context.Context, tx *sql.Tx, table string, cols, added []core.ColumnSchema) ([]core.ColumnSchema, error) {
	if len(added) == 0 {
		return cols, nil
	}
	for _, c := range added {
		for _, existing := range cols {
			if strings.EqualFold(existing.Name, c.Name) {
				return nil, core.ErrValidation("column name %q conflicts with existing column %q", c.Name, existing.Name)
			}
		}
		if _, err := tx.ExecContext(ctx, dialect.AddColumn(table, c)); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, saveColumns(ctx, tx, table, cols)
}

func (s *Store) CreateTable(ctx context.Context, name string, columns []core.ColumnSchema) error {
	if err := core.ValidateTableName(name); err != nil {
		return err
	}
	cols := core.StorableColumns(columns)
	for i, c := range cols {
		if err := core.ValidateName("column", c.Name); err != nil {
			return err
		}
		for _, prev := range cols[:i] {
			if strings.EqualFold(prev.Name, c.Name) {
				return core.ErrValidation("column name %q conflicts with column %q", c.Name, prev.Name)
			}
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.inWrite(ctx, "create table", func(tx *sql.Tx) (bool, error) {
		_, ok, err := loadColumns(ctx, tx, name)
		if err != nil || ok {
			return false, err
		}
		return true, createTable(ctx, tx, name, cols, true)
	})
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.read.QueryContext(ctx, "SELECT name FROM "+sqlgen.MetaTable+" ORDER BY name")
	if err != nil {
		return nil, core.ErrStorage("list tables", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, core.ErrStorage("list tables", err)
		}
		names = append(names, name)
	}
	return names, core.ErrStorage("list tables", rows.Err())
}

func (s *Store) GetSchema(ctx context.Context, name string) ([]core.ColumnSchema, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cols, ok, err := loadColumns(ctx, s.read, name)
	if err != nil {
		return nil, false, core.ErrStorage("get schema", err)
	}
	if ok && cols == nil {
		cols = []core.ColumnSchema{}
	}
	return cols, ok, nil
}

func (s *Store) DropTable(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var dropped bool
	err := s.inWrite(ctx, "drop table", func(tx *sql.Tx) (bool, error) {
		_, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, dialect.DropTable(name)); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlgen.MetaTable+" WHERE name = ?", name); err != nil {
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

	return s.inWrite(ctx, "reset", func(tx *sql.Tx) (bool, error) {
		rows, err := tx.QueryContext(ctx, "SELECT name FROM "+sqlgen.MetaTable)
		if err != nil {
			return false, err
		}
		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return false, err
			}
			names = append(names, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}

		for _, name := range names {
			if _, err := tx.ExecContext(ctx, dialect.DropTable(name)); err != nil {
				return false, fmt.Errorf("drop %s: %w", name, err)
			}
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM "+sqlgen.MetaTable)
		return true, err
	})
}

func (s *Store) Insert(ctx context.Context, name string, row core.Row) (core.Record, error) {
	if err := core.ValidateTableName(name); err != nil {
		return core.Record{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rec core.Record
	err := s.inWrite(ctx, "insert", func(tx *sql.Tx) (bool, error) {
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
		if err := tx.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&id); err != nil {
			return false, err
		}
		rec = core.Record{ID: id, Fields: core.Project(norm, cols)}
		return true, nil
	})
	return rec, err
}

func (s *Store) InsertBatch(ctx context.Context, name string, rows []core.Row) error {
	if err := core.ValidateTableName(name); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	return s.inWrite(ctx, "insert batch", func(tx *sql.Tx) (bool, error) {
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
		if _, err := extend(ctx, tx, name, cols, all[len(cols):]); err != nil {
			return false, err
		}

		stmts := make(map[string]*sql.Stmt)
		defer func() {
			for _, st := range stmts {
				_ = st.Close()
			}
		}()
		for _, norm := range prepared {
			text := dialect.InsertStatement(name, norm.Names())
			st, ok := stmts[text]
			if !ok {
				if st, err = tx.PrepareContext(ctx, text); err != nil {
					return false, err
				}
				stmts[text] = st
			}
			if _, err := st.ExecContext(ctx, dialect.Args(norm)...); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func scanRecord(scan func(dest ...any) error, cols []core.ColumnSchema) (core.Record, error) {
	vals := make([]any, len(cols)+1)
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := scan(ptrs...); err != nil {
		return core.Record{}, err
	}
	return sqlgen.DecodeRecord(vals, cols)
}

func getByID(ctx context.Context, q querier, table string, cols []core.ColumnSchema, id int64) (core.Record, bool, error) {
	query := dialect.GetByID(table, cols, id)
	rec, err := scanRecord(q.QueryRowContext(ctx, query.SQL, query.Args...).Scan, cols)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, false, nil
	}
	if err != nil {
		return core.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) GetByID(ctx context.Context, name string, id int64) (core.Record, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		rec   core.Record
		found bool
	)
	err := s.inRead(ctx, "get record", func(tx *sql.Tx) error {
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
	err := s.inRead(ctx, "list records", func(tx *sql.Tx) error {
		cols, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return err
		}
		count, page := dialect.List(name, cols, q)
		if err := tx.QueryRowContext(ctx, count.SQL, count.Args...).Scan(&res.Total); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, page.SQL, page.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows.Scan, cols)
			if err != nil {
				return err
			}
			res.Records = append(res.Records, rec)
		}
		return rows.Err()
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
	err := s.inWrite(ctx, "update", func(tx *sql.Tx) (bool, error) {
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

		q := dialect.Update(name, cols, id, norm)
		if rec, err = scanRecord(tx.QueryRowContext(ctx, q.SQL, q.Args...).Scan, cols); err != nil {
			return false, err
		}
		found = true
		return true, nil
	})
	return rec, found, err
}

func (s *Store) Delete(ctx context.Context, name string, id int64) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var deleted bool
	err := s.inWrite(ctx, "delete", func(tx *sql.Tx) (bool, error) {
		_, ok, err := loadColumns(ctx, tx, name)
		if err != nil || !ok {
			return false, err
		}
		q := dialect.Delete(name, id)
		res, err := tx.ExecContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		deleted = n > 0
		return deleted, nil
	})
	return deleted, err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.write.PingContext(ctx); err != nil {
		return core.ErrStorage("ping", err)
	}
	return core.ErrStorage("ping", s.read.PingContext(ctx))
}

func (s *Store) Close() error {
	return errors.Join(s.read.Close(), s.write.Close())
}
