package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pantryhq/pantry/internal/cache"
	"github.com/pantryhq/pantry/internal/crud"
	"github.com/pantryhq/pantry/internal/dietlog"
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/repository"
)

var (
	tenantA = domain.TenantContext{TenantID: "tenant-001", Role: "manager", Status: domain.StatusActive}
	tenantB = domain.TenantContext{TenantID: "tenant-002", Role: "manager", Status: domain.StatusActive}
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store   *repository.SQLStore
	catalog *Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "catalog-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, d := range []struct{ id, code string }{
		{"DIET-REGULAR", "REGULAR"},
		{"DIET-DIABETIC", "DIABETIC"},
	} {
		_, err := store.Insert(ctx, "diets", domain.Record{
			"diet_id": d.id, "tenant_id": nil, "code": d.code, "name": d.code,
			"created_at": now, "updated_at": now,
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	cat, err := Build(store, crud.Options{
		Cache: cache.NewLRUCache(100),
		Now:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return &fixture{store: store, catalog: cat}
}

func (f *fixture) ops(t *testing.T, name string) *crud.Operations {
	t.Helper()
	ops, ok := f.catalog.Engine.Entity(name)
	if !ok {
		t.Fatalf("entity %s not registered", name)
	}
	return ops
}

func TestBuild(t *testing.T) {
	f := newFixture(t)

	want := []string{Diets, Diners, Ingredients, InventoryItems, PurchaseOrderLines, PurchaseOrders, Recipes, Units, Vendors}
	got := f.catalog.Engine.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d entities, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, got[i])
		}
	}

	t.Run("NoColumnDrift", func(t *testing.T) {
		drift, err := f.catalog.Registry.VerifyColumns(context.Background(), f.store)
		if err != nil {
			t.Fatalf("VerifyColumns failed: %v", err)
		}
		for _, d := range drift {
			t.Errorf("drift: %s.%s: %s", d.Entity, d.Column, d.Problem)
		}
	})

	t.Run("IndependentRegistries", func(t *testing.T) {
		other, err := Build(f.store, crud.Options{})
		if err != nil {
			t.Fatalf("second Build failed: %v", err)
		}
		if other.Registry == f.catalog.Registry {
			t.Error("expected a fresh registry per Build")
		}
	})
}

func TestDietScenarios(t *testing.T) {
	f := newFixture(t)
	diners := f.ops(t, Diners)
	log := f.catalog.DietLog
	ctx := context.Background()

	diner, err := diners.Create(ctx, tenantA, domain.Record{
		"name":            "Ada Lovelace",
		"room":            "12B",
		"current_diet_id": "DIET-REGULAR",
		"admitted_on":     "2026-01-01",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id := diner.String("diner_id")

	t.Run("AdmissionOpensHistory", func(t *testing.T) {
		history, err := log.History(ctx, tenantA, id)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("expected 1 assignment, got %d", len(history))
		}
		if history[0]["diet_id"] != "DIET-REGULAR" || history[0]["end_date"] != nil || history[0]["effective_date"] != "2026-01-01" {
			t.Errorf("unexpected assignment: %v", history[0])
		}
		if diner["status"] != dietlog.StatusActive {
			t.Errorf("expected status active, got %v", diner["status"])
		}
	})

	// Warm the cache so the diet change must invalidate it.
	if _, err := diners.GetByID(ctx, tenantA, id); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	t.Run("ScenarioA", func(t *testing.T) {
		if _, err := log.Assign(ctx, tenantA, dietlog.AssignRequest{DinerID: id, DietID: "DIET-DIABETIC", EffectiveDate: "2026-01-15"}); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}

		history, _ := log.History(ctx, tenantA, id)
		if len(history) != 2 {
			t.Fatalf("expected 2 assignments, got %d", len(history))
		}
		if history[1]["diet_id"] != "DIET-REGULAR" || history[1]["end_date"] != "2026-01-15" {
			t.Errorf("expected REGULAR closed at 2026-01-15, got %v", history[1])
		}
		if history[0]["diet_id"] != "DIET-DIABETIC" || history[0]["end_date"] != nil {
			t.Errorf("expected DIABETIC open, got %v", history[0])
		}

		got, _ := diners.GetByID(ctx, tenantA, id)
		if got["current_diet_id"] != "DIET-DIABETIC" {
			t.Errorf("expected current diet DIET-DIABETIC, got %v", got["current_diet_id"])
		}
	})

	t.Run("PointerNotWritable", func(t *testing.T) {
		_, err := diners.Update(ctx, tenantA, id, domain.Record{"current_diet_id": "DIET-REGULAR"})
		if !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
		if _, err := diners.Update(ctx, tenantA, id, domain.Record{"room": "14A"}); err != nil {
			t.Errorf("expected other fields to stay editable, got %v", err)
		}
	})

	t.Run("ScenarioB", func(t *testing.T) {
		if _, err := log.CloseAll(ctx, tenantA, id, "2026-03-02"); err != nil {
			t.Fatalf("CloseAll failed: %v", err)
		}
		current, _ := log.Current(ctx, tenantA, id)
		if current != nil {
			t.Errorf("expected no open assignment, got %v", current)
		}
		history, _ := log.History(ctx, tenantA, id)
		if history[0]["end_date"] != "2026-03-02" {
			t.Errorf("expected DIABETIC closed today, got %v", history[0])
		}

		got, _ := diners.GetByID(ctx, tenantA, id)
		if got["status"] != dietlog.StatusDischarged || got["current_diet_id"] != nil {
			t.Errorf("expected discharged diner without a diet, got %v", got)
		}
	})

	t.Run("HistoryBlocksDelete", func(t *testing.T) {
		_, err := diners.Delete(ctx, tenantA, id)
		if !domain.IsConflict(err) {
			t.Errorf("expected conflict, got %v", err)
		}
	})

	t.Run("UnknownInitialDiet", func(t *testing.T) {
		_, err := diners.Create(ctx, tenantA, domain.Record{"name": "Bob", "current_diet_id": "DIET-NOPE"})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Fields["current_diet_id"] == "" {
			t.Errorf("expected current_diet_id validation error, got %v", err)
		}
	})

	t.Run("NoInitialDiet", func(t *testing.T) {
		rec, err := diners.Create(ctx, tenantB, domain.Record{"name": "Cy"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if n, _ := log.HistoryCount(ctx, tenantB, rec.String("diner_id")); n != 0 {
			t.Errorf("expected no history, got %d", n)
		}
		if _, err := diners.Delete(ctx, tenantB, rec.String("diner_id")); err != nil {
			t.Errorf("expected diner without history to be deletable, got %v", err)
		}
	})
}

func TestOrderRollup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vendor, err := f.ops(t, Vendors).Create(ctx, tenantA, domain.Record{"name": "Harvest Foods"})
	if err != nil {
		t.Fatalf("vendor Create failed: %v", err)
	}
	orders := f.ops(t, PurchaseOrders)
	order, err := orders.Create(ctx, tenantA, domain.Record{"vendor_id": vendor.String("vendor_id"), "ordered_on": "2026-03-01"})
	if err != nil {
		t.Fatalf("order Create failed: %v", err)
	}
	orderID := order.String("order_id")

	total := func() float64 {
		t.Helper()
		rec, err := orders.GetByID(ctx, tenantA, orderID)
		if err != nil || rec == nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		v, _ := rec["total_cost"].(float64)
		return v
	}
	if total() != 0 {
		t.Errorf("expected empty order to total 0, got %v", total())
	}

	lines := f.ops(t, PurchaseOrderLines)
	first, err := lines.Create(ctx, tenantA, domain.Record{"order_id": orderID, "quantity": 4, "unit_price": 2.5})
	if err != nil {
		t.Fatalf("line Create failed: %v", err)
	}
	if first["line_total"] != 10.0 {
		t.Errorf("expected line_total 10, got %v", first["line_total"])
	}
	if _, err := lines.Create(ctx, tenantA, domain.Record{"order_id": orderID, "quantity": 1, "unit_price": 7.25}); err != nil {
		t.Fatalf("line Create failed: %v", err)
	}
	if got := total(); got != 17.25 {
		t.Errorf("expected total 17.25, got %v", got)
	}

	updated, err := lines.Update(ctx, tenantA, first.String("line_id"), domain.Record{"quantity": 2})
	if err != nil {
		t.Fatalf("line Update failed: %v", err)
	}
	if updated["line_total"] != 5.0 {
		t.Errorf("expected line_total 5, got %v", updated["line_total"])
	}
	if got := total(); got != 12.25 {
		t.Errorf("expected total 12.25, got %v", got)
	}

	if _, err := lines.Delete(ctx, tenantA, first.String("line_id")); err != nil {
		t.Fatalf("line Delete failed: %v", err)
	}
	if got := total(); got != 7.25 {
		t.Errorf("expected total 7.25, got %v", got)
	}

	t.Run("ForeignOrder", func(t *testing.T) {
		_, err := lines.Create(ctx, tenantB, domain.Record{"order_id": orderID, "quantity": 1, "unit_price": 1})
		if !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("TotalNotWritable", func(t *testing.T) {
		_, err := orders.Update(ctx, tenantA, orderID, domain.Record{"total_cost": 1})
		if !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("StatusCheck", func(t *testing.T) {
		if _, err := orders.Update(ctx, tenantA, orderID, domain.Record{"status": "lost"}); !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
		if _, err := orders.Update(ctx, tenantA, orderID, domain.Record{"status": "submitted"}); err != nil {
			t.Errorf("expected submitted to be accepted, got %v", err)
		}
	})
}

func TestRowChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		entity string
		fields domain.Record
		field  string
	}{
		{InventoryItems, domain.Record{"name": "Flour", "quantity": -1}, "quantity"},
		{InventoryItems, domain.Record{"name": "Flour", "reorder_level": -5}, "reorder_level"},
		{Recipes, domain.Record{"name": "Soup", "servings": 0}, "servings"},
		{Ingredients, domain.Record{"name": "Salt", "cost_per_unit": -0.1}, "cost_per_unit"},
		{Vendors, domain.Record{"name": "Acme", "contact_email": "not-an-email"}, "contact_email"},
		{Diets, domain.Record{"code": "low sodium", "name": "Low sodium"}, "code"},
	}

	for _, tt := range tests {
		t.Run(tt.entity+"/"+tt.field, func(t *testing.T) {
			_, err := f.ops(t, tt.entity).Create(ctx, tenantA, tt.fields)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Fields[tt.field] == "" {
				t.Errorf("expected %s validation error, got %v", tt.field, err)
			}
		})
	}

	t.Run("ValidRows", func(t *testing.T) {
		if _, err := f.ops(t, InventoryItems).Create(ctx, tenantA, domain.Record{"name": "Flour", "quantity": 12.5}); err != nil {
			t.Errorf("expected inventory item to be created, got %v", err)
		}
		if _, err := f.ops(t, Units).Create(ctx, domain.TenantContext{}, domain.Record{"code": "kg", "name": "Kilogram"}); err != nil {
			t.Errorf("expected public unit to be created, got %v", err)
		}
	})
}
