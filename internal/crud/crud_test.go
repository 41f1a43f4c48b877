package crud

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pantryhq/pantry/internal/bus"
	"github.com/pantryhq/pantry/internal/cache"
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
	"github.com/pantryhq/pantry/internal/repository"
	"github.com/pantryhq/pantry/internal/schema"
)

var (
	tenantA = domain.TenantContext{TenantID: "tenant-001", Role: "admin", Status: domain.StatusActive}
	tenantB = domain.TenantContext{TenantID: "tenant-002", Role: "admin", Status: domain.StatusActive}
)

var fixedNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

var stampTimes = entity.HookFuncs{
	OnBeforeCreate: func(_ context.Context, _ domain.TenantContext, data domain.Record) (domain.Record, error) {
		data["created_at"] = fixedNow
		data["updated_at"] = fixedNow
		return data, nil
	},
	OnBeforeUpdate: func(_ context.Context, _ domain.TenantContext, _ string, data domain.Record) (domain.Record, error) {
		data["updated_at"] = fixedNow
		return data, nil
	},
}

func vendorDescriptor(hooks entity.Hooks) entity.Descriptor {
	return entity.Descriptor{
		Name:  "vendors",
		Table: "vendors",
		Columns: []schema.Column{
			schema.Text("vendor_id").Key(),
			schema.Text("tenant_id"),
			schema.Text("name"),
			schema.Text("contact_email").Null(),
			schema.Text("phone").Null(),
			schema.Bool("active").Default(),
			schema.Timestamp("created_at"),
			schema.Timestamp("updated_at"),
		},
		IdentityField: "vendor_id",
		IDPrefix:      "VEN",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantRequired,
		Omitted:       []string{"created_at", "updated_at"},
		Hooks:         entity.Chain(stampTimes, hooks),
		Checks: []schema.Check{{
			Field:   "name",
			Expr:    `size(row.name) > 0`,
			Message: "must not be empty",
		}},
		OrderBy: []domain.Order{{Column: "name"}},
	}
}

func dietDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  "diets",
		Table: "diets",
		Columns: []schema.Column{
			schema.Text("diet_id").Key(),
			schema.Text("tenant_id").Null(),
			schema.Text("code"),
			schema.Text("name"),
			schema.Text("description").Null(),
			schema.Text("texture").Null(),
			schema.JSON("restrictions").Null(),
			schema.Bool("active").Default(),
			schema.Timestamp("created_at"),
			schema.Timestamp("updated_at"),
		},
		IdentityField: "diet_id",
		IDPrefix:      "DIET",
		TenantField:   "tenant_id",
		TenantMode:    entity.TenantOptional,
		Omitted:       []string{"created_at", "updated_at"},
		Hooks:         stampTimes,
		OrderBy:       []domain.Order{{Column: "code"}},
	}
}

func unitDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name:  "units",
		Table: "units",
		Columns: []schema.Column{
			schema.Text("unit_id").Key(),
			schema.Text("code"),
			schema.Text("name"),
			schema.Text("kind").Null(),
		},
		IdentityField: "unit_id",
		IDPrefix:      "UNIT",
		TenantMode:    entity.TenantNone,
		Visibility:    entity.Public,
	}
}

type harness struct {
	store  *repository.SQLStore
	cache  *cache.LRUCache
	bus    *bus.ChannelBus
	engine *Engine
}

func newHarness(t *testing.T, vendorHooks entity.Hooks) *harness {
	t.Helper()
	store, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "crud-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := entity.NewRegistry()
	reg.MustRegister(vendorDescriptor(vendorHooks))
	reg.MustRegister(dietDescriptor())
	reg.MustRegister(unitDescriptor())

	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine := NewEngine(reg, store, Options{
		Cache:  lru,
		Bus:    eventBus,
		NodeID: "node-test",
		Now:    func() time.Time { return fixedNow },
	})
	return &harness{store: store, cache: lru, bus: eventBus, engine: engine}
}

func (h *harness) ops(t *testing.T, name string) *Operations {
	t.Helper()
	ops, ok := h.engine.Entity(name)
	if !ok {
		t.Fatalf("entity %s not registered", name)
	}
	return ops
}

func mustCreate(t *testing.T, ops *Operations, tc domain.TenantContext, fields domain.Record) domain.Record {
	t.Helper()
	rec, err := ops.Create(context.Background(), tc, fields)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func TestTenantContainment(t *testing.T) {
	h := newHarness(t, nil)
	vendors := h.ops(t, "vendors")
	ctx := context.Background()

	rec := mustCreate(t, vendors, tenantA, domain.Record{"name": "Harvest Foods"})
	id := rec.String("vendor_id")
	mustCreate(t, vendors, tenantB, domain.Record{"name": "Coastal Supply"})

	t.Run("ListScoped", func(t *testing.T) {
		rows, err := vendors.List(ctx, tenantB, ListOptions{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 1 || rows[0]["name"] != "Coastal Supply" {
			t.Errorf("expected only tenant-002's vendor, got %v", rows)
		}
	})

	t.Run("GetForeignIsNil", func(t *testing.T) {
		got, err := vendors.GetByID(ctx, tenantB, id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil for another tenant's record, got %v", got)
		}
	})

	t.Run("UpdateForeignIsNotFound", func(t *testing.T) {
		_, err := vendors.Update(ctx, tenantB, id, domain.Record{"name": "Hijacked"})
		if !domain.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}

		missing, _ := vendors.Update(ctx, tenantA, "VEN-NOPE000000", domain.Record{"name": "x"})
		if missing != nil {
			t.Error("expected no record for a missing id")
		}
	})

	t.Run("NotFoundMessageIsUniform", func(t *testing.T) {
		_, foreign := vendors.Delete(ctx, tenantB, id)
		_, missing := vendors.Delete(ctx, tenantB, "VEN-0000000000")
		if foreign == nil || missing == nil {
			t.Fatal("expected both deletes to fail")
		}
		if strings.Replace(foreign.Error(), id, "X", 1) != strings.Replace(missing.Error(), "VEN-0000000000", "X", 1) {
			t.Errorf("expected identical messages, got %q and %q", foreign, missing)
		}

		got, _ := vendors.GetByID(ctx, tenantA, id)
		if got == nil {
			t.Error("foreign delete must leave the record in place")
		}
	})

	t.Run("TenantRequired", func(t *testing.T) {
		_, err := vendors.List(ctx, domain.TenantContext{Status: domain.StatusActive}, ListOptions{})
		if !errors.Is(err, domain.ErrForbidden) && !errors.Is(err, domain.ErrTenantRequired) {
			t.Errorf("expected a tenant error, got %v", err)
		}
	})
}

func TestSharedVisibility(t *testing.T) {
	h := newHarness(t, nil)
	diets := h.ops(t, "diets")
	ctx := context.Background()

	// System diets are seeded with a NULL tenant.
	_, err := h.store.Insert(ctx, "diets", domain.Record{
		"diet_id":    "DIET-REGULAR000",
		"tenant_id":  nil,
		"code":       "REGULAR",
		"name":       "Regular",
		"created_at": fixedNow,
		"updated_at": fixedNow,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	private := mustCreate(t, diets, tenantA, domain.Record{"code": "LOWNA", "name": "Low sodium"})

	t.Run("SharedVisibleToAll", func(t *testing.T) {
		for _, tc := range []domain.TenantContext{tenantA, tenantB} {
			got, err := diets.GetByID(ctx, tc, "DIET-REGULAR000")
			if err != nil || got == nil {
				t.Errorf("expected shared diet visible to %s, got %v (%v)", tc.TenantID, got, err)
			}
		}
	})

	t.Run("PrivateVisibleToOwner", func(t *testing.T) {
		rows, err := diets.List(ctx, tenantA, ListOptions{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("expected 2 diets for tenant-001, got %d", len(rows))
		}
		rows, _ = diets.List(ctx, tenantB, ListOptions{})
		if len(rows) != 1 {
			t.Errorf("expected 1 diet for tenant-002, got %d", len(rows))
		}
		got, _ := diets.GetByID(ctx, tenantB, private.String("diet_id"))
		if got != nil {
			t.Error("private diet leaked to tenant-002")
		}
	})

	t.Run("SharedImmutable", func(t *testing.T) {
		for _, tc := range []domain.TenantContext{tenantA, tenantB} {
			if _, err := diets.Update(ctx, tc, "DIET-REGULAR000", domain.Record{"name": "Mine"}); !domain.IsNotFound(err) {
				t.Errorf("expected update of shared diet to fail for %s, got %v", tc.TenantID, err)
			}
			if _, err := diets.Delete(ctx, tc, "DIET-REGULAR000"); !domain.IsNotFound(err) {
				t.Errorf("expected delete of shared diet to fail for %s, got %v", tc.TenantID, err)
			}
		}
	})

	t.Run("NullFilter", func(t *testing.T) {
		rows, err := diets.List(ctx, tenantA, ListOptions{Filters: map[string]string{"tenant_id": "null"}})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(rows) != 1 || rows[0]["code"] != "REGULAR" {
			t.Errorf("expected only the shared diet, got %v", rows)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	t.Run("Vendor", func(t *testing.T) {
		vendors := h.ops(t, "vendors")
		rec := mustCreate(t, vendors, tenantA, domain.Record{
			"name":          "Harvest Foods",
			"contact_email": "orders@harvest.example",
		})

		got, err := vendors.GetByID(ctx, tenantA, rec.String("vendor_id"))
		if err != nil || got == nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if !strings.HasPrefix(got.String("vendor_id"), "VEN-") {
			t.Errorf("expected VEN- prefix, got %s", got["vendor_id"])
		}
		if got["tenant_id"] != "tenant-001" {
			t.Errorf("expected tenant-001, got %v", got["tenant_id"])
		}
		if got["name"] != "Harvest Foods" || got["contact_email"] != "orders@harvest.example" {
			t.Errorf("fields did not round-trip: %v", got)
		}
		if got["active"] != true {
			t.Errorf("expected default active=true, got %v", got["active"])
		}
		if got["phone"] != nil {
			t.Errorf("expected phone nil, got %v", got["phone"])
		}
		if got["created_at"] != fixedNow.Format(time.RFC3339Nano) {
			t.Errorf("expected created_at from hook, got %v", got["created_at"])
		}
	})

	t.Run("JSONColumn", func(t *testing.T) {
		diets := h.ops(t, "diets")
		rec := mustCreate(t, diets, tenantA, domain.Record{
			"code":         "RENAL",
			"name":         "Renal",
			"restrictions": []any{"potassium", "phosphorus"},
		})
		got, _ := diets.GetByID(ctx, tenantA, rec.String("diet_id"))
		list, ok := got["restrictions"].([]any)
		if !ok || len(list) != 2 || list[0] != "potassium" {
			t.Errorf("expected restrictions to round-trip, got %#v", got["restrictions"])
		}
	})

	t.Run("ClientIdentityRejected", func(t *testing.T) {
		_, err := h.ops(t, "vendors").Create(ctx, tenantA, domain.Record{"vendor_id": "VEN-MINE000000", "name": "x"})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := verr.Fields["vendor_id"]; !ok {
			t.Errorf("expected vendor_id field error, got %v", verr.Fields)
		}
	})

	t.Run("CheckFailure", func(t *testing.T) {
		_, err := h.ops(t, "vendors").Create(ctx, tenantA, domain.Record{"name": ""})
		if !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		vendors := h.ops(t, "vendors")
		rec := mustCreate(t, vendors, tenantA, domain.Record{"name": "Old Name"})
		updated, err := vendors.Update(ctx, tenantA, rec.String("vendor_id"), domain.Record{"name": "New Name", "active": false})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated["name"] != "New Name" || updated["active"] != false {
			t.Errorf("expected updated fields, got %v", updated)
		}

		_, err = vendors.Update(ctx, tenantA, rec.String("vendor_id"), domain.Record{})
		if !domain.IsValidation(err) {
			t.Errorf("expected validation error for empty update, got %v", err)
		}
	})
}

func TestListOptions(t *testing.T) {
	h := newHarness(t, nil)
	vendors := h.ops(t, "vendors")
	ctx := context.Background()

	for _, name := range []string{"Delta", "Alpha", "Charlie", "Bravo"} {
		mustCreate(t, vendors, tenantA, domain.Record{"name": name})
	}

	t.Run("DefaultOrder", func(t *testing.T) {
		rows, _ := vendors.List(ctx, tenantA, ListOptions{})
		if len(rows) != 4 || rows[0]["name"] != "Alpha" || rows[3]["name"] != "Delta" {
			t.Errorf("expected rows ordered by name, got %v", rows)
		}
	})

	t.Run("Paging", func(t *testing.T) {
		rows, _ := vendors.List(ctx, tenantA, ListOptions{Limit: 2, Offset: 1})
		if len(rows) != 2 || rows[0]["name"] != "Bravo" {
			t.Errorf("expected Bravo and Charlie, got %v", rows)
		}
	})

	t.Run("Bounds", func(t *testing.T) {
		for _, opts := range []ListOptions{{Limit: 501}, {Limit: -1}, {Offset: -1}} {
			if _, err := vendors.List(ctx, tenantA, opts); !domain.IsValidation(err) {
				t.Errorf("expected validation error for %+v, got %v", opts, err)
			}
		}
		if _, err := vendors.List(ctx, tenantA, ListOptions{Limit: 500}); err != nil {
			t.Errorf("expected limit 500 to be accepted, got %v", err)
		}
	})

	t.Run("Filters", func(t *testing.T) {
		rows, err := vendors.List(ctx, tenantA, ListOptions{Filters: map[string]string{"name": "Charlie"}})
		if err != nil || len(rows) != 1 {
			t.Errorf("expected one match, got %v (%v)", rows, err)
		}

		n, err := vendors.Count(ctx, tenantA, map[string]string{"active": "true"})
		if err != nil || n != 4 {
			t.Errorf("expected 4 active vendors, got %d (%v)", n, err)
		}

		_, err = vendors.List(ctx, tenantA, ListOptions{Filters: map[string]string{"colour": "red", "active": "maybe"}})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || len(verr.Fields) != 2 {
			t.Errorf("expected two filter errors, got %v", err)
		}
	})

	t.Run("EmptyIsNotNil", func(t *testing.T) {
		rows, err := vendors.List(ctx, tenantB, ListOptions{})
		if err != nil || rows == nil || len(rows) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v (%v)", rows, err)
		}
	})
}

func TestVisibility(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	anonymous := domain.TenantContext{}
	suspended := domain.TenantContext{TenantID: "tenant-001", Status: domain.StatusSuspended}

	units := h.ops(t, "units")
	rec := mustCreate(t, units, anonymous, domain.Record{"code": "kg", "name": "Kilogram"})
	got, err := units.GetByID(ctx, tenantB, rec.String("unit_id"))
	if err != nil || got == nil {
		t.Errorf("expected public unit visible to any caller, got %v (%v)", got, err)
	}

	vendors := h.ops(t, "vendors")
	for _, tc := range []domain.TenantContext{anonymous, suspended} {
		if _, err := vendors.List(ctx, tc, ListOptions{}); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected forbidden for %+v, got %v", tc, err)
		}
	}
}

func TestConflict(t *testing.T) {
	h := newHarness(t, nil)
	diets := h.ops(t, "diets")
	ctx := context.Background()

	mustCreate(t, diets, tenantA, domain.Record{"code": "PUREED", "name": "Pureed"})
	_, err := diets.Create(ctx, tenantA, domain.Record{"code": "PUREED", "name": "Pureed again"})

	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Entity != "diets" {
		t.Errorf("expected entity diets, got %s", conflict.Entity)
	}

	// Same code under another tenant is fine.
	if _, err := diets.Create(ctx, tenantB, domain.Record{"code": "PUREED", "name": "Pureed"}); err != nil {
		t.Errorf("expected create for another tenant to succeed, got %v", err)
	}
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	t.Run("BeforeCreateAborts", func(t *testing.T) {
		h := newHarness(t, entity.HookFuncs{
			OnBeforeCreate: func(context.Context, domain.TenantContext, domain.Record) (domain.Record, error) {
				return nil, errBoom
			},
		})
		vendors := h.ops(t, "vendors")

		_, err := vendors.Create(ctx, tenantA, domain.Record{"name": "Never"})
		var hookErr *domain.HookError
		if !errors.As(err, &hookErr) || hookErr.Committed || hookErr.Stage != "beforeCreate" {
			t.Fatalf("expected uncommitted beforeCreate HookError, got %v", err)
		}
		if !errors.Is(err, errBoom) {
			t.Error("expected hook error to unwrap to the cause")
		}
		if n, _ := vendors.Count(ctx, tenantA, nil); n != 0 {
			t.Errorf("expected nothing persisted, got %d rows", n)
		}
	})

	t.Run("AfterCreateCommitted", func(t *testing.T) {
		h := newHarness(t, entity.HookFuncs{
			OnAfterCreate: func(context.Context, domain.TenantContext, domain.Record) error {
				return errBoom
			},
		})
		vendors := h.ops(t, "vendors")

		rec, err := vendors.Create(ctx, tenantA, domain.Record{"name": "Kept"})
		if !domain.IsCommitted(err) {
			t.Fatalf("expected committed HookError, got %v", err)
		}
		if rec == nil || rec["name"] != "Kept" {
			t.Errorf("expected the persisted record, got %v", rec)
		}
		if n, _ := vendors.Count(ctx, tenantA, nil); n != 1 {
			t.Errorf("expected write to survive, got %d rows", n)
		}
	})

	t.Run("BeforeUpdateTransforms", func(t *testing.T) {
		h := newHarness(t, entity.HookFuncs{
			OnBeforeUpdate: func(_ context.Context, _ domain.TenantContext, _ string, data domain.Record) (domain.Record, error) {
				if name, ok := data["name"].(string); ok {
					data["name"] = strings.ToUpper(name)
				}
				// Attempts to move the row are stripped.
				data["tenant_id"] = "tenant-002"
				return data, nil
			},
		})
		vendors := h.ops(t, "vendors")
		rec := mustCreate(t, vendors, tenantA, domain.Record{"name": "quiet"})

		updated, err := vendors.Update(ctx, tenantA, rec.String("vendor_id"), domain.Record{"name": "loud"})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated["name"] != "LOUD" || updated["tenant_id"] != "tenant-001" {
			t.Errorf("expected LOUD under tenant-001, got %v", updated)
		}
	})

	t.Run("BeforeDeleteAborts", func(t *testing.T) {
		h := newHarness(t, entity.HookFuncs{
			OnBeforeDelete: func(context.Context, domain.TenantContext, string) error { return errBoom },
		})
		vendors := h.ops(t, "vendors")
		rec := mustCreate(t, vendors, tenantA, domain.Record{"name": "Sticky"})

		if _, err := vendors.Delete(ctx, tenantA, rec.String("vendor_id")); err == nil {
			t.Fatal("expected delete to fail")
		}
		if got, _ := vendors.GetByID(ctx, tenantA, rec.String("vendor_id")); got == nil {
			t.Error("expected record to survive")
		}
	})
}

func TestBulkCreate(t *testing.T) {
	ctx := context.Background()
	rows := func() []domain.Record {
		return []domain.Record{
			{"name": "One"},
			{"name": 42},
			{"name": "Three"},
			{"unknown": "x"},
			{"name": "Five"},
		}
	}

	t.Run("SkipInvalidRows", func(t *testing.T) {
		h := newHarness(t, nil)
		vendors := h.ops(t, "vendors")

		result, err := vendors.BulkCreate(ctx, tenantA, rows(), domain.BulkOptions{})
		if err != nil {
			t.Fatalf("BulkCreate failed: %v", err)
		}
		if result.Total != 5 || result.Successful != 3 || result.Failed != 2 {
			t.Errorf("expected 5/3/2, got %d/%d/%d", result.Total, result.Successful, result.Failed)
		}
		if *result.Results[1].Index != 1 || result.Results[1].Success || result.Results[1].Fields["name"] == "" {
			t.Errorf("expected row 1 to fail on name, got %+v", result.Results[1])
		}
		if result.Results[0].ID == "" {
			t.Error("expected successful rows to carry their id")
		}
		if n, _ := vendors.Count(ctx, tenantA, nil); n != 3 {
			t.Errorf("expected 3 rows in storage, got %d", n)
		}
	})

	t.Run("RejectBatch", func(t *testing.T) {
		h := newHarness(t, nil)
		vendors := h.ops(t, "vendors")
		skip := false

		result, err := vendors.BulkCreate(ctx, tenantA, rows(), domain.BulkOptions{SkipInvalidRows: &skip})
		if err != nil {
			t.Fatalf("BulkCreate failed: %v", err)
		}
		if result.Successful != 0 || result.Failed != 5 {
			t.Errorf("expected every row rejected, got %d/%d", result.Successful, result.Failed)
		}
		if n, _ := vendors.Count(ctx, tenantA, nil); n != 0 {
			t.Errorf("expected nothing persisted, got %d", n)
		}
	})

	t.Run("StopOnError", func(t *testing.T) {
		h := newHarness(t, nil)
		vendors := h.ops(t, "vendors")

		result, err := vendors.BulkCreate(ctx, tenantA, rows(), domain.BulkOptions{StopOnError: true})
		if err != nil {
			t.Fatalf("BulkCreate failed: %v", err)
		}
		if len(result.Results) != 2 || result.Successful != 1 || result.Failed != 1 {
			t.Errorf("expected to stop after row 1, got %+v", result)
		}
		if result.Total != 5 {
			t.Errorf("expected total 5, got %d", result.Total)
		}
	})

	t.Run("MalformedBatch", func(t *testing.T) {
		h := newHarness(t, nil)
		vendors := h.ops(t, "vendors")

		if _, err := vendors.BulkCreate(ctx, tenantA, nil, domain.BulkOptions{}); !errors.Is(err, domain.ErrBatchInput) {
			t.Errorf("expected ErrBatchInput for empty batch, got %v", err)
		}
		big := make([]domain.Record, domain.MaxBatchSize+1)
		if _, err := vendors.BulkCreate(ctx, tenantA, big, domain.BulkOptions{}); !errors.Is(err, domain.ErrBatchInput) {
			t.Errorf("expected ErrBatchInput for oversized batch, got %v", err)
		}
	})
}

func TestBulkDelete(t *testing.T) {
	h := newHarness(t, nil)
	vendors := h.ops(t, "vendors")
	ctx := context.Background()

	a := mustCreate(t, vendors, tenantA, domain.Record{"name": "A"}).String("vendor_id")
	b := mustCreate(t, vendors, tenantA, domain.Record{"name": "B"}).String("vendor_id")
	foreign := mustCreate(t, vendors, tenantB, domain.Record{"name": "C"}).String("vendor_id")

	result, err := vendors.BulkDelete(ctx, tenantA, []string{a, b, "NOPE"}, domain.BulkOptions{})
	if err != nil {
		t.Fatalf("BulkDelete failed: %v", err)
	}
	if result.Successful != 2 || result.Failed != 1 {
		t.Errorf("expected 2 successful and 1 failed, got %d/%d", result.Successful, result.Failed)
	}
	last := result.Results[2]
	if last.ID != "NOPE" || last.Success || last.Error == "" {
		t.Errorf("expected explanatory failure for NOPE, got %+v", last)
	}
	if n, _ := vendors.Count(ctx, tenantA, nil); n != 0 {
		t.Errorf("expected A and B removed, %d rows remain", n)
	}

	result, _ = vendors.BulkDelete(ctx, tenantA, []string{foreign}, domain.BulkOptions{})
	if result.Failed != 1 {
		t.Error("expected foreign id to fail")
	}
	if got, _ := vendors.GetByID(ctx, tenantB, foreign); got == nil {
		t.Error("foreign record must survive")
	}
}

func TestCacheCoherence(t *testing.T) {
	h := newHarness(t, nil)
	vendors := h.ops(t, "vendors")
	ctx := context.Background()

	rec := mustCreate(t, vendors, tenantA, domain.Record{"name": "Cached"})
	id := rec.String("vendor_id")

	if _, err := vendors.GetByID(ctx, tenantA, id); err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if data, _ := h.cache.Get(ctx, "tenant-001", CacheKey("vendors", id)); data == nil {
		t.Fatal("expected record to be cached after read")
	}

	// A direct write is invisible until invalidated.
	if _, err := h.store.Update(ctx, "vendors", domain.Record{"name": "Direct"}, []domain.Condition{domain.Eq("vendor_id", id)}); err != nil {
		t.Fatalf("store update failed: %v", err)
	}
	got, _ := vendors.GetByID(ctx, tenantA, id)
	if got["name"] != "Cached" {
		t.Errorf("expected cached value, got %v", got["name"])
	}
	if got["active"] != true {
		t.Errorf("expected cached bool to normalize, got %#v", got["active"])
	}

	vendors.Invalidate(ctx, tenantA, id)
	got, _ = vendors.GetByID(ctx, tenantA, id)
	if got["name"] != "Direct" {
		t.Errorf("expected fresh value after invalidate, got %v", got["name"])
	}

	if _, err := vendors.Update(ctx, tenantA, id, domain.Record{"name": "Updated"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ = vendors.GetByID(ctx, tenantA, id)
	if got["name"] != "Updated" {
		t.Errorf("expected update to evict the cache, got %v", got["name"])
	}

	if _, err := vendors.Delete(ctx, tenantA, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := vendors.GetByID(ctx, tenantA, id); got != nil {
		t.Errorf("expected nil after delete, got %v", got)
	}
}

func TestPublishedEvents(t *testing.T) {
	h := newHarness(t, nil)
	vendors := h.ops(t, "vendors")
	ctx := context.Background()

	received := make(chan *domain.Message, 10)
	for _, topic := range []string{domain.TopicRecordCreated, domain.TopicRecordDeleted} {
		_, err := h.bus.Subscribe(ctx, "tenant-001", topic, func(_ context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	rec := mustCreate(t, vendors, tenantA, domain.Record{"name": "Announced"})
	id := rec.String("vendor_id")
	if _, err := vendors.Delete(ctx, tenantA, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Each subscription has its own goroutine, so arrival order is not fixed.
	seen := make(map[string]bool)
	for len(seen) < 2 {
		select {
		case msg := <-received:
			seen[msg.Topic] = true
			if msg.Metadata[domain.MetaOrigin] != "node-test" {
				t.Errorf("expected origin node-test, got %s", msg.Metadata[domain.MetaOrigin])
			}
			var event domain.ChangeEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if event.Entity != "vendors" || event.ID != id {
				t.Errorf("expected vendors/%s, got %s/%s", id, event.Entity, event.ID)
			}
			if event.TenantID != "tenant-001" {
				t.Errorf("expected tenant-001, got %s", event.TenantID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for events, got %v", seen)
		}
	}
	if !seen[domain.TopicRecordCreated] || !seen[domain.TopicRecordDeleted] {
		t.Errorf("expected created and deleted events, got %v", seen)
	}
}
