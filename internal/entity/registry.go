package entity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/schema"
)

// ErrFrozen is returned by Register after Freeze.
var ErrFrozen = errors.New("entity: registry is frozen")

// Entity is a registered descriptor together with its synthesized contracts.
type Entity struct {
	Descriptor
	Contracts *schema.Contracts
}

// Registry owns the descriptors of one process or test. It is assembled at
// startup and frozen before serving.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register validates d, synthesizes its contracts and adds it.
func (r *Registry) Register(d Descriptor) (*Entity, error) {
	if err := validateDescriptor(d); err != nil {
		return nil, err
	}

	d.Columns = slices.Clone(d.Columns)
	d.Omitted = slices.Clone(d.Omitted)
	d.Checks = slices.Clone(d.Checks)
	d.OrderBy = slices.Clone(d.OrderBy)
	if d.Hooks == nil {
		d.Hooks = NoHooks
	}
	if d.Visibility == "" {
		d.Visibility = Protected
	}

	contracts, err := schema.Synthesize(d.SchemaTable(), schema.Options{
		Entity:        d.Name,
		IdentityField: d.IdentityField,
		TenantField:   d.TenantField,
		Omitted:       d.Omitted,
		Checks:        d.Checks,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, ErrFrozen
	}
	if _, exists := r.entities[d.Name]; exists {
		return nil, fmt.Errorf("entity: %s already registered", d.Name)
	}

	e := &Entity{Descriptor: d, Contracts: contracts}
	r.entities[d.Name] = e
	return e, nil
}

// MustRegister is Register that panics on error. For static catalogs.
func (r *Registry) MustRegister(d Descriptor) *Entity {
	e, err := r.Register(d)
	if err != nil {
		panic(err)
	}
	return e
}

// Get returns the entity called name.
func (r *Registry) Get(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	return e, ok
}

// Names returns the registered entity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// ColumnReader reports live column metadata. domain.Store satisfies it.
type ColumnReader interface {
	Columns(ctx context.Context, table string) ([]domain.ColumnInfo, error)
}

// Drift describes a mismatch between a descriptor and the live table.
type Drift struct {
	Entity  string `json:"entity"`
	Column  string `json:"column"`
	Problem string `json:"problem"`
}

// VerifyColumns compares every declared table with the live schema. Drift
// is reported, not fatal; a read failure is returned as an error.
func (r *Registry) VerifyColumns(ctx context.Context, reader ColumnReader) ([]Drift, error) {
	var drift []Drift
	for _, name := range r.Names() {
		e, _ := r.Get(name)

		infos, err := reader.Columns(ctx, e.Table)
		if err != nil {
			return nil, fmt.Errorf("entity: read columns of %s: %w", e.Table, err)
		}
		live := schema.Table{Name: e.Table, Columns: schema.FromColumnInfo(infos)}

		for _, declared := range e.Columns {
			col, ok := live.Column(declared.Name)
			if !ok {
				drift = append(drift, Drift{Entity: name, Column: declared.Name, Problem: "missing from table"})
				continue
			}
			if col.Type != declared.Type {
				drift = append(drift, Drift{Entity: name, Column: declared.Name,
					Problem: fmt.Sprintf("declared %s, table has %s", declared.Type, col.Type)})
			}
			if col.Nullable != declared.Nullable {
				drift = append(drift, Drift{Entity: name, Column: declared.Name,
					Problem: fmt.Sprintf("declared nullable=%t, table has nullable=%t", declared.Nullable, col.Nullable)})
			}
		}
		for _, col := range live.Columns {
			if !e.HasColumn(col.Name) {
				drift = append(drift, Drift{Entity: name, Column: col.Name, Problem: "not declared"})
			}
		}
	}
	return drift, nil
}

func validateDescriptor(d Descriptor) error {
	if d.Name == "" {
		return errors.New("entity: name is required")
	}
	if d.Table == "" {
		return fmt.Errorf("entity: %s: table is required", d.Name)
	}
	if d.IDPrefix == "" {
		return fmt.Errorf("entity: %s: id prefix is required", d.Name)
	}

	switch d.TenantMode {
	case TenantRequired, TenantOptional:
		if d.TenantField == "" {
			return fmt.Errorf("entity: %s: tenant mode %s needs a tenant field", d.Name, d.TenantMode)
		}
	case TenantNone:
		if d.TenantField != "" {
			return fmt.Errorf("entity: %s: tenant mode none must not declare a tenant field", d.Name)
		}
	default:
		return fmt.Errorf("entity: %s: unknown tenant mode %q", d.Name, d.TenantMode)
	}

	switch d.Visibility {
	case "", Public, Protected:
	default:
		return fmt.Errorf("entity: %s: unknown visibility %q", d.Name, d.Visibility)
	}

	for _, o := range d.OrderBy {
		if !d.HasColumn(o.Column) {
			return fmt.Errorf("entity: %s: order column %q not declared", d.Name, o.Column)
		}
	}
	return nil
}
