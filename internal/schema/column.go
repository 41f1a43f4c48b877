// Package schema derives validation contracts for an entity from its
// table's column metadata.
package schema

import (
	"strings"

	"github.com/pantryhq/pantry/internal/domain"
)

// Type is the logical type of a column.
type Type string

const (
	TypeText      Type = "text"
	TypeInteger   Type = "integer"
	TypeReal      Type = "real"
	TypeBoolean   Type = "boolean"
	TypeDate      Type = "date"      // YYYY-MM-DD
	TypeTimestamp Type = "timestamp" // RFC 3339
	TypeJSON      Type = "json"
)

// Column describes one column of a table.
type Column struct {
	Name       string `json:"name"`
	Type       Type   `json:"type"`
	Nullable   bool   `json:"nullable"`
	HasDefault bool   `json:"hasDefault,omitempty"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
}

// Table is a named set of columns.
type Table struct {
	Name    string
	Columns []Column
}

// Column returns the column called name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Text, Int, Real, Bool, Date, Timestamp and JSON build column declarations.
// Columns are NOT NULL unless marked with Null.
func Text(name string) Column      { return Column{Name: name, Type: TypeText} }
func Int(name string) Column       { return Column{Name: name, Type: TypeInteger} }
func Real(name string) Column      { return Column{Name: name, Type: TypeReal} }
func Bool(name string) Column      { return Column{Name: name, Type: TypeBoolean} }
func Date(name string) Column      { return Column{Name: name, Type: TypeDate} }
func Timestamp(name string) Column { return Column{Name: name, Type: TypeTimestamp} }
func JSON(name string) Column      { return Column{Name: name, Type: TypeJSON} }

// Null marks the column nullable.
func (c Column) Null() Column {
	c.Nullable = true
	return c
}

// Default marks the column as having a storage-side default.
func (c Column) Default() Column {
	c.HasDefault = true
	return c
}

// Key marks the column as the primary key.
func (c Column) Key() Column {
	c.PrimaryKey = true
	return c
}

// ParseSQLType maps a SQL type name reported by a database onto a Type.
// Unknown names map to TypeText.
func ParseSQLType(sqlType string) Type {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch {
	case t == "date":
		return TypeDate
	case strings.HasPrefix(t, "timestamp"), t == "datetime":
		return TypeTimestamp
	case t == "bool", t == "boolean":
		return TypeBoolean
	case t == "integer", t == "int", t == "int2", t == "int4", t == "int8",
		t == "smallint", t == "bigint", t == "tinyint", t == "serial", t == "bigserial":
		return TypeInteger
	case t == "real", t == "float", t == "double", t == "double precision",
		t == "numeric", t == "decimal", strings.HasPrefix(t, "float"):
		return TypeReal
	case t == "json", t == "jsonb":
		return TypeJSON
	default:
		return TypeText
	}
}

// FromColumnInfo converts live store metadata into column declarations.
func FromColumnInfo(infos []domain.ColumnInfo) []Column {
	cols := make([]Column, 0, len(infos))
	for _, info := range infos {
		cols = append(cols, Column{
			Name:       info.Name,
			Type:       ParseSQLType(info.DataType),
			Nullable:   info.Nullable,
			HasDefault: info.HasDefault,
			PrimaryKey: info.PrimaryKey,
		})
	}
	return cols
}
