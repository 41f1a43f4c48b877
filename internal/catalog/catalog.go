// Package catalog declares the food-service entities served by Pantry and
// wires their hooks, the CRUD engine and the diet log together.
package catalog

import (
	"fmt"
	"time"

	"github.com/pantryhq/pantry/internal/crud"
	"github.com/pantryhq/pantry/internal/dietlog"
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
)

// Catalog is a fully wired set of entities.
type Catalog struct {
	Registry *entity.Registry
	Engine   *crud.Engine
	DietLog  *dietlog.Service
}

// Build registers every entity over store and returns the wired catalog.
// Each call builds an independent registry.
func Build(store domain.Store, opts crud.Options) (*Catalog, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	stamp := Timestamps(opts.Now)

	diners := DinersDescriptor()
	diets := DietsDescriptor()
	log := dietlog.New(store, diners, diets, dietlog.Options{Now: opts.Now, IDs: opts.IDs})
	diners.Hooks = entity.Chain(stamp, dinerHooks(log, opts.Now))
	diets.Hooks = stamp

	orders := PurchaseOrdersDescriptor()
	lines := PurchaseOrderLinesDescriptor()
	rollup := &orderRollup{store: store, lines: lines, orders: orders, now: opts.Now}
	orders.Hooks = stamp
	lines.Hooks = entity.Chain(stamp, rollup.hooks())

	descriptors := []entity.Descriptor{
		UnitsDescriptor(),
		diets,
		diners,
		withHooks(IngredientsDescriptor(), stamp),
		withHooks(RecipesDescriptor(), stamp),
		withHooks(VendorsDescriptor(), stamp),
		withHooks(InventoryItemsDescriptor(), stamp),
		orders,
		lines,
	}

	reg := entity.NewRegistry()
	for _, d := range descriptors {
		if _, err := reg.Register(d); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}

	engine := crud.NewEngine(reg, store, opts)

	dinerOps, _ := engine.Entity(Diners)
	log.SetNotifier(dinerOps)
	orderOps, _ := engine.Entity(PurchaseOrders)
	rollup.notifier = orderOps

	return &Catalog{Registry: reg, Engine: engine, DietLog: log}, nil
}

func withHooks(d entity.Descriptor, hooks entity.Hooks) entity.Descriptor {
	d.Hooks = hooks
	return d
}
