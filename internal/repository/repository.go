// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pantryhq/pantry/internal/domain"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrTableNotFound = errors.New("table not found")
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	q      execer
	driver string
	inTx   bool
}

// New creates a new store based on configuration and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		q:      db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, ddl := range AllSchemas() {
		if _, err := s.db.Exec(ddl); err != nil {
			return err
		}
	}
	return nil
}

// Select returns rows matching q.
func (s *SQLStore) Select(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	if q.Table == "" {
		return nil, fmt.Errorf("%w: table is required", ErrInvalidInput)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, quoteIdent(q.Table))
	where, args := buildWhere(q.Where)
	b.WriteString(where)

	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			terms[i] = quoteIdent(o.Column)
			if o.Desc {
				terms[i] += " DESC"
			}
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && s.driver != "postgres" {
			// SQLite only accepts OFFSET after a LIMIT clause.
			b.WriteString(" LIMIT -1")
		}
		b.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}

	rows, err := s.q.QueryContext(ctx, s.rebind(b.String()), args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// Count returns the number of rows in table matching where.
func (s *SQLStore) Count(ctx context.Context, table string, where []domain.Condition) (int64, error) {
	clause, args := buildWhere(where)
	query := "SELECT COUNT(*) FROM " + quoteIdent(table) + clause

	var n int64
	if err := s.q.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Insert persists rec and returns the stored row, including storage defaults.
func (s *SQLStore) Insert(ctx context.Context, table string, rec domain.Record) (domain.Record, error) {
	if len(rec) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrInvalidInput)
	}

	names := sortedKeys(rec)
	cols := make([]string, len(names))
	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		cols[i] = quoteIdent(name)
		marks[i] = "?"
		args[i] = bindValue(rec[name])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.mapError(table, err)
	}
	out, err := scanRecords(rows)
	if err != nil {
		return nil, s.mapError(table, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("insert into %s returned %d rows", table, len(out))
	}
	return out[0], nil
}

// Update applies set to every row matching where.
func (s *SQLStore) Update(ctx context.Context, table string, set domain.Record, where []domain.Condition) (int64, error) {
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	names := sortedKeys(set)
	assigns := make([]string, len(names))
	args := make([]any, 0, len(names))
	for i, name := range names {
		assigns[i] = quoteIdent(name) + " = ?"
		args = append(args, bindValue(set[name]))
	}
	clause, whereArgs := buildWhere(where)
	args = append(args, whereArgs...)

	query := "UPDATE " + quoteIdent(table) + " SET " + strings.Join(assigns, ", ") + clause
	result, err := s.q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, s.mapError(table, err)
	}
	return result.RowsAffected()
}

// Delete removes every row matching where.
func (s *SQLStore) Delete(ctx context.Context, table string, where []domain.Condition) (int64, error) {
	clause, args := buildWhere(where)
	query := "DELETE FROM " + quoteIdent(table) + clause

	result, err := s.q.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, s.mapError(table, err)
	}
	return result.RowsAffected()
}

// WithTx runs fn inside a transaction. Nested calls join the outer one.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.mapError("", err))
	}
	defer tx.Rollback()

	if err := fn(&SQLStore{db: s.db, q: tx, driver: s.driver, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.mapError("", err)
	}
	return nil
}

// Columns returns the live column metadata for table.
func (s *SQLStore) Columns(ctx context.Context, table string) ([]domain.ColumnInfo, error) {
	var cols []domain.ColumnInfo
	var err error
	if s.driver == "postgres" {
		cols, err = postgresColumns(ctx, s.q, table)
	} else {
		cols, err = sqliteColumns(ctx, s.q, table)
	}
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return cols, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// mapError turns driver unique violations and write contention into domain
// conflicts.
func (s *SQLStore) mapError(table string, err error) error {
	if detail, ok := postgresUniqueViolation(err); ok {
		return &domain.ConflictError{Entity: table, Detail: detail, Err: err}
	}
	if detail, ok := sqliteUniqueViolation(err); ok {
		return &domain.ConflictError{Entity: table, Detail: detail, Err: err}
	}
	if sqliteBusy(err) {
		return &domain.ConflictError{Entity: table, Detail: "concurrent write in progress, retry", Err: err}
	}
	return err
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, strconv.Itoa(n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// buildWhere renders conditions as a WHERE clause. Clauses inside a
// condition are OR-ed; conditions are AND-ed.
func buildWhere(conds []domain.Condition) (string, []any) {
	var parts []string
	var args []any
	for _, cond := range conds {
		if len(cond) == 0 {
			continue
		}
		terms := make([]string, len(cond))
		for i, c := range cond {
			if c.IsNull {
				terms[i] = quoteIdent(c.Column) + " IS NULL"
				continue
			}
			terms[i] = quoteIdent(c.Column) + " = ?"
			args = append(args, bindValue(c.Value))
		}
		if len(terms) == 1 {
			parts = append(parts, terms[0])
		} else {
			parts = append(parts, "("+strings.Join(terms, " OR ")+")")
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sortedKeys(rec domain.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// bindValue converts engine values into driver arguments. Structured values
// are stored as JSON text and times as RFC 3339 strings.
func bindValue(v any) any {
	switch x := v.(type) {
	case map[string]any, []any, []string:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// scanRecords reads every row into a Record. Byte slices become strings;
// typing by column is left to the caller's schema.
func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []domain.Record
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(domain.Record, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				rec[name] = string(b)
				continue
			}
			rec[name] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
