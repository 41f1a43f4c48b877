// Package entity holds the static descriptors from which CRUD operations
// are synthesized, and the registry that owns them.
package entity

import (
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/schema"
)

// TenantMode governs how an entity's rows are scoped to tenants.
type TenantMode string

const (
	// TenantRequired rows always belong to exactly one tenant.
	TenantRequired TenantMode = "required"

	// TenantOptional rows with a NULL tenant are shared and read-only;
	// rows with a tenant are private to it.
	TenantOptional TenantMode = "optional"

	// TenantNone applies no tenant predicate.
	TenantNone TenantMode = "none"
)

// Visibility controls whether an anonymous caller may use the entity.
type Visibility string

const (
	Public    Visibility = "public"
	Protected Visibility = "protected"
)

// Descriptor is the declarative configuration of one entity. It is built
// once at startup and never mutated.
type Descriptor struct {
	// Name is the entity's public name, used in routes and errors.
	Name string

	// Table is the backing table and Columns its declared shape.
	Table   string
	Columns []schema.Column

	IdentityField string
	IDPrefix      string

	// TenantField is empty when TenantMode is TenantNone.
	TenantField string
	TenantMode  TenantMode

	// Omitted fields are never accepted from clients; hooks set them.
	Omitted []string

	Visibility Visibility
	Hooks      Hooks
	Checks     []schema.Check

	// OrderBy is the default list ordering. Empty means storage order.
	OrderBy []domain.Order
}

// SchemaTable returns the declared table.
func (d Descriptor) SchemaTable() schema.Table {
	return schema.Table{Name: d.Table, Columns: d.Columns}
}

// HasColumn reports whether the entity declares a column called name.
func (d Descriptor) HasColumn(name string) bool {
	_, ok := d.SchemaTable().Column(name)
	return ok
}
