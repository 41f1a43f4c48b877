package catalog

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pantryhq/pantry/internal/dietlog"
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
	"github.com/pantryhq/pantry/internal/schema"
	"github.com/pantryhq/pantry/internal/tenancy"
)

// Timestamps stamps created_at and updated_at.
func Timestamps(now func() time.Time) entity.Hooks {
	return entity.HookFuncs{
		OnBeforeCreate: func(_ context.Context, _ domain.TenantContext, data domain.Record) (domain.Record, error) {
			ts := now().UTC()
			data["created_at"] = ts
			data["updated_at"] = ts
			return data, nil
		},
		OnBeforeUpdate: func(_ context.Context, _ domain.TenantContext, _ string, data domain.Record) (domain.Record, error) {
			data["updated_at"] = now().UTC()
			return data, nil
		},
	}
}

// dinerHooks route diet changes through the diet log.
func dinerHooks(log *dietlog.Service, now func() time.Time) entity.Hooks {
	return entity.HookFuncs{
		OnBeforeCreate: func(ctx context.Context, tc domain.TenantContext, data domain.Record) (domain.Record, error) {
			if dietID, _ := data["current_diet_id"].(string); dietID != "" {
				if err := log.CheckDiet(ctx, tc, "current_diet_id", dietID); err != nil {
					return nil, err
				}
			}
			return data, nil
		},

		// The initial diet opens the diner's history.
		OnAfterCreate: func(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
			dietID := rec.String("current_diet_id")
			if dietID == "" {
				return nil
			}
			effective := rec.String("admitted_on")
			if effective == "" {
				effective = now().UTC().Format(time.DateOnly)
			}
			_, err := log.Assign(ctx, tc, dietlog.AssignRequest{
				DinerID:       rec.String("diner_id"),
				DietID:        dietID,
				EffectiveDate: effective,
				Reason:        "admission",
			})
			return err
		},

		OnBeforeUpdate: func(_ context.Context, _ domain.TenantContext, _ string, data domain.Record) (domain.Record, error) {
			for _, field := range []string{"current_diet_id", "status", "discharged_on"} {
				if _, ok := data[field]; ok {
					return nil, domain.NewValidationError(Diners, field, "is changed through the diet endpoints")
				}
			}
			return data, nil
		},

		// Diet history is append-only, so a diner with history stays.
		OnBeforeDelete: func(ctx context.Context, tc domain.TenantContext, id string) error {
			n, err := log.HistoryCount(ctx, tc, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return &domain.ConflictError{Entity: Diners, Detail: "diner has diet history"}
			}
			return nil
		},
	}
}

// orderRollup keeps purchase_orders.total_cost equal to the sum of the
// order's line totals.
type orderRollup struct {
	store  domain.Store
	lines  entity.Descriptor
	orders entity.Descriptor
	now    func() time.Time

	// notifier is set once the engine exists.
	notifier dietlog.Notifier

	// pending remembers the order of a line between its before and after
	// delete hooks.
	pending sync.Map
}

func (r *orderRollup) hooks() entity.Hooks {
	return entity.HookFuncs{
		OnBeforeCreate: func(ctx context.Context, tc domain.TenantContext, data domain.Record) (domain.Record, error) {
			if _, err := r.findOrder(ctx, tc, data.String("order_id")); err != nil {
				return nil, err
			}
			data["line_total"] = lineTotal(data["quantity"], data["unit_price"])
			return data, nil
		},

		OnBeforeUpdate: func(ctx context.Context, tc domain.TenantContext, id string, data domain.Record) (domain.Record, error) {
			if _, ok := data["order_id"]; ok {
				return nil, domain.NewValidationError(PurchaseOrderLines, "order_id", "lines cannot move between orders")
			}
			_, hasQty := data["quantity"]
			_, hasPrice := data["unit_price"]
			if !hasQty && !hasPrice {
				return data, nil
			}
			line, err := r.findLine(ctx, tc, id)
			if err != nil {
				return nil, err
			}
			if line == nil {
				// The update itself reports the missing row.
				return data, nil
			}
			qty, price := line["quantity"], line["unit_price"]
			if hasQty {
				qty = data["quantity"]
			}
			if hasPrice {
				price = data["unit_price"]
			}
			data["line_total"] = lineTotal(qty, price)
			return data, nil
		},

		OnAfterCreate: func(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
			return r.recompute(ctx, tc, rec.String("order_id"))
		},

		OnAfterUpdate: func(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
			return r.recompute(ctx, tc, rec.String("order_id"))
		},

		OnBeforeDelete: func(ctx context.Context, tc domain.TenantContext, id string) error {
			line, err := r.findLine(ctx, tc, id)
			if err != nil {
				return err
			}
			if line != nil {
				r.pending.Store(tc.TenantID+"/"+id, line.String("order_id"))
			}
			return nil
		},

		OnAfterDelete: func(ctx context.Context, tc domain.TenantContext, id string) error {
			orderID, ok := r.pending.LoadAndDelete(tc.TenantID + "/" + id)
			if !ok {
				return nil
			}
			return r.recompute(ctx, tc, orderID.(string))
		},
	}
}

func (r *orderRollup) findOrder(ctx context.Context, tc domain.TenantContext, orderID string) (domain.Record, error) {
	scope, err := tenancy.WritePredicate(r.orders, tc)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.Select(ctx, domain.Query{
		Table: r.orders.Table,
		Where: tenancy.Identity(r.orders, orderID, scope),
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NewValidationError(PurchaseOrderLines, "order_id", "unknown purchase order")
	}
	return rows[0], nil
}

func (r *orderRollup) findLine(ctx context.Context, tc domain.TenantContext, lineID string) (domain.Record, error) {
	scope, err := tenancy.WritePredicate(r.lines, tc)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.Select(ctx, domain.Query{
		Table: r.lines.Table,
		Where: tenancy.Identity(r.lines, lineID, scope),
		Limit: 1,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return r.lines.SchemaTable().Normalize(rows[0]), nil
}

// recompute sums the order's lines and stores the total on the order.
func (r *orderRollup) recompute(ctx context.Context, tc domain.TenantContext, orderID string) error {
	if orderID == "" {
		return nil
	}
	var total float64
	err := r.store.WithTx(ctx, func(tx domain.Store) error {
		lines, err := tx.Select(ctx, domain.Query{
			Table:   r.lines.Table,
			Columns: []string{"line_total"},
			Where: []domain.Condition{
				domain.Eq(r.lines.TenantField, tc.TenantID),
				domain.Eq("order_id", orderID),
			},
		})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if v, ok := schema.Normalize(schema.TypeReal, line["line_total"]).(float64); ok {
				total += v
			}
		}
		total = math.Round(total*100) / 100

		_, err = tx.Update(ctx, r.orders.Table, domain.Record{
			"total_cost": total,
			"updated_at": r.now().UTC(),
		}, []domain.Condition{
			domain.Eq(r.orders.IdentityField, orderID),
			domain.Eq(r.orders.TenantField, tc.TenantID),
		})
		return err
	})
	if err != nil {
		return err
	}

	if r.notifier != nil {
		r.notifier.Invalidate(ctx, tc, orderID)
	}
	slog.Debug("order total recomputed",
		"tenant_id", tc.TenantID,
		"order_id", orderID,
		"total_cost", total,
	)
	return nil
}

func lineTotal(qty, price any) float64 {
	q, _ := schema.Normalize(schema.TypeReal, qty).(float64)
	p, _ := schema.Normalize(schema.TypeReal, price).(float64)
	return math.Round(q*p*100) / 100
}
