package crud

import (
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
)

// Engine holds the operation sets of every entity in a registry.
type Engine struct {
	registry *entity.Registry
	ops      map[string]*Operations
}

// NewEngine freezes reg and builds operations for each of its entities.
func NewEngine(reg *entity.Registry, store domain.Store, opts Options) *Engine {
	reg.Freeze()
	e := &Engine{registry: reg, ops: make(map[string]*Operations)}
	for _, name := range reg.Names() {
		ent, _ := reg.Get(name)
		e.ops[name] = New(ent, store, opts)
	}
	return e
}

// Entity returns the operations of the entity called name.
func (e *Engine) Entity(name string) (*Operations, bool) {
	ops, ok := e.ops[name]
	return ops, ok
}

// Names returns the entity names in sorted order.
func (e *Engine) Names() []string {
	return e.registry.Names()
}

// Registry returns the frozen registry the engine was built from.
func (e *Engine) Registry() *entity.Registry {
	return e.registry
}
