// Package domain defines the core interfaces and types for Pantry.
package domain

import (
	"context"
	"time"
)

// Store defines the storage primitives the CRUD engine and its consumers
// are built on. Implementations translate conditions into their own query
// language; the engine never emits SQL.
type Store interface {
	// Select returns rows matching q.
	Select(ctx context.Context, q Query) ([]Record, error)

	// Count returns the number of rows matching where.
	Count(ctx context.Context, table string, where []Condition) (int64, error)

	// Insert persists rec into table and returns the stored row.
	Insert(ctx context.Context, table string, rec Record) (Record, error)

	// Update applies set to every row matching where and returns the number
	// of rows affected.
	Update(ctx context.Context, table string, set Record, where []Condition) (int64, error)

	// Delete removes every row matching where and returns the number of rows
	// affected.
	Delete(ctx context.Context, table string, where []Condition) (int64, error)

	// WithTx runs fn inside a single storage transaction. fn receives a Store
	// bound to the transaction; returning an error rolls it back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Columns returns the live column metadata for table.
	Columns(ctx context.Context, table string) ([]ColumnInfo, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ColumnInfo is column metadata as reported by the backing store.
type ColumnInfo struct {
	Name       string
	DataType   string
	Nullable   bool
	HasDefault bool
	PrimaryKey bool
}

// Query describes a row selection.
type Query struct {
	Table   string
	Columns []string // nil selects every column
	Where   []Condition
	OrderBy []Order
	Limit   int
	Offset  int
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Clause matches a single column against a value, or against NULL.
type Clause struct {
	Column string
	Value  any
	IsNull bool
}

// Condition is a disjunction of clauses. A predicate is a list of
// conditions that must all hold.
type Condition []Clause

// Eq matches rows where column equals value.
func Eq(column string, value any) Condition {
	return Condition{{Column: column, Value: value}}
}

// IsNull matches rows where column is NULL.
func IsNull(column string) Condition {
	return Condition{{Column: column, IsNull: true}}
}

// Or matches rows satisfying any of conds.
func Or(conds ...Condition) Condition {
	var out Condition
	for _, c := range conds {
		out = append(out, c...)
	}
	return out
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
