// Package crud synthesizes the canonical operations of every registered
// entity: list, get, create, update, delete and their bulk variants.
package crud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
	"github.com/pantryhq/pantry/internal/idgen"
	"github.com/pantryhq/pantry/internal/schema"
	"github.com/pantryhq/pantry/internal/tenancy"
)

// List paging bounds.
const (
	DefaultLimit = 100
	MaxLimit     = domain.MaxBatchSize
)

var tracer = otel.Tracer("pantry-crud")

// Options configures the collaborators shared by every entity's operations.
// Nil collaborators are skipped.
type Options struct {
	Cache    domain.Cache
	CacheTTL time.Duration
	Bus      domain.EventBus

	// NodeID is stamped on published events so a node can skip its own.
	NodeID string

	Now func() time.Time
	IDs *idgen.Generator
}

// Operations is the operation set of one entity.
type Operations struct {
	entity *entity.Entity
	table  schema.Table
	store  domain.Store
	opts   Options
}

// New builds the operation set of e over store.
func New(e *entity.Entity, store domain.Store, opts Options) *Operations {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Operations{entity: e, table: e.SchemaTable(), store: store, opts: opts}
}

// Entity returns the entity the operations were built for.
func (o *Operations) Entity() *entity.Entity {
	return o.entity
}

// ListOptions controls a List call. Filters match declared columns by
// equality; values are parsed according to the column type.
type ListOptions struct {
	Limit   int
	Offset  int
	Filters map[string]string
}

// List returns the rows visible to tc.
func (o *Operations) List(ctx context.Context, tc domain.TenantContext, opts ListOptions) ([]domain.Record, error) {
	ctx, span := o.startSpan(ctx, "list", tc)
	defer span.End()

	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit < 0 || opts.Limit > MaxLimit {
		return nil, fail(span, domain.NewValidationError(o.entity.Name, "limit", fmt.Sprintf("must be between 1 and %d", MaxLimit)))
	}
	if opts.Offset < 0 {
		return nil, fail(span, domain.NewValidationError(o.entity.Name, "offset", "must not be negative"))
	}

	where, err := o.readScope(tc, opts.Filters)
	if err != nil {
		return nil, fail(span, err)
	}

	rows, err := o.store.Select(ctx, domain.Query{
		Table:   o.entity.Table,
		Where:   where,
		OrderBy: o.entity.OrderBy,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
	if err != nil {
		return nil, fail(span, err)
	}
	for _, rec := range rows {
		o.table.Normalize(rec)
	}
	if rows == nil {
		rows = []domain.Record{}
	}
	span.SetAttributes(attribute.Int("crud.rows", len(rows)))
	return rows, nil
}

// Count returns the number of rows visible to tc that match filters.
func (o *Operations) Count(ctx context.Context, tc domain.TenantContext, filters map[string]string) (int64, error) {
	ctx, span := o.startSpan(ctx, "count", tc)
	defer span.End()

	where, err := o.readScope(tc, filters)
	if err != nil {
		return 0, fail(span, err)
	}
	n, err := o.store.Count(ctx, o.entity.Table, where)
	if err != nil {
		return 0, fail(span, err)
	}
	return n, nil
}

// GetByID returns the row with identity id, or nil when it does not exist
// or lies outside the caller's scope.
func (o *Operations) GetByID(ctx context.Context, tc domain.TenantContext, id string) (domain.Record, error) {
	ctx, span := o.startSpan(ctx, "get", tc)
	defer span.End()
	span.SetAttributes(attribute.String("crud.id", id))

	if err := tenancy.Authorize(o.entity.Descriptor, tc); err != nil {
		return nil, fail(span, err)
	}
	scope, err := tenancy.ReadPredicate(o.entity.Descriptor, tc)
	if err != nil {
		return nil, fail(span, err)
	}

	if rec := o.cacheGet(ctx, tc, id); rec != nil {
		span.SetAttributes(attribute.Bool("crud.cache_hit", true))
		return rec, nil
	}

	rec, err := o.selectOne(ctx, o.store, tenancy.Identity(o.entity.Descriptor, id, scope))
	if err != nil {
		return nil, fail(span, err)
	}
	if rec != nil {
		o.cacheSet(ctx, tc, id, rec)
	}
	return rec, nil
}

// Create validates fields, runs the create hooks and persists a new row.
//
// When an afterCreate hook fails the persisted record is returned together
// with a committed *domain.HookError.
func (o *Operations) Create(ctx context.Context, tc domain.TenantContext, fields domain.Record) (domain.Record, error) {
	ctx, span := o.startSpan(ctx, "create", tc)
	defer span.End()

	if err := tenancy.Authorize(o.entity.Descriptor, tc); err != nil {
		return nil, fail(span, err)
	}
	if _, err := tenancy.WritePredicate(o.entity.Descriptor, tc); err != nil {
		return nil, fail(span, err)
	}

	data, err := o.entity.Contracts.Create.Validate(fields)
	if err != nil {
		return nil, fail(span, err)
	}

	data, err = o.entity.Hooks.BeforeCreate(ctx, tc, data)
	if err != nil {
		return nil, fail(span, &domain.HookError{Stage: "beforeCreate", Err: err})
	}
	if err := o.checkColumns(data); err != nil {
		return nil, fail(span, err)
	}

	id, err := o.opts.IDs.Generate(o.entity.IDPrefix)
	if err != nil {
		return nil, fail(span, fmt.Errorf("generate id: %w", err))
	}
	data[o.entity.IdentityField] = id
	if err := tenancy.Stamp(o.entity.Descriptor, tc, data); err != nil {
		return nil, fail(span, err)
	}

	rec, err := o.store.Insert(ctx, o.entity.Table, data)
	if err != nil {
		return nil, fail(span, o.wrapConflict(err))
	}
	o.table.Normalize(rec)
	span.SetAttributes(attribute.String("crud.id", id))

	slog.Debug("record created",
		"entity", o.entity.Name,
		"id", id,
		"tenant_id", tc.TenantID,
	)

	hookErr := o.entity.Hooks.AfterCreate(ctx, tc, rec)
	o.publish(ctx, domain.TopicRecordCreated, tc, id, rec)
	if hookErr != nil {
		return rec, o.committed(span, "afterCreate", id, hookErr)
	}
	return rec, nil
}

// Update applies a partial update to the row with identity id.
func (o *Operations) Update(ctx context.Context, tc domain.TenantContext, id string, data domain.Record) (domain.Record, error) {
	ctx, span := o.startSpan(ctx, "update", tc)
	defer span.End()
	span.SetAttributes(attribute.String("crud.id", id))

	if err := tenancy.Authorize(o.entity.Descriptor, tc); err != nil {
		return nil, fail(span, err)
	}
	scope, err := tenancy.WritePredicate(o.entity.Descriptor, tc)
	if err != nil {
		return nil, fail(span, err)
	}

	data, err = o.entity.Contracts.Update.Validate(data)
	if err != nil {
		return nil, fail(span, err)
	}
	if len(data) == 0 {
		return nil, fail(span, domain.NewValidationError(o.entity.Name, "*", "no fields to update"))
	}

	data, err = o.entity.Hooks.BeforeUpdate(ctx, tc, id, data)
	if err != nil {
		return nil, fail(span, &domain.HookError{Stage: "beforeUpdate", Err: err})
	}
	delete(data, o.entity.IdentityField)
	if o.entity.TenantField != "" {
		delete(data, o.entity.TenantField)
	}
	if len(data) == 0 {
		return nil, fail(span, domain.NewValidationError(o.entity.Name, "*", "no fields to update"))
	}
	if err := o.checkColumns(data); err != nil {
		return nil, fail(span, err)
	}

	where := tenancy.Identity(o.entity.Descriptor, id, scope)
	n, err := o.store.Update(ctx, o.entity.Table, data, where)
	if err != nil {
		return nil, fail(span, o.wrapConflict(err))
	}
	if n == 0 {
		return nil, fail(span, &domain.NotFoundError{Entity: o.entity.Name, ID: id})
	}
	o.cacheDelete(ctx, tc, id)

	rec, err := o.selectOne(ctx, o.store, where)
	if err != nil {
		return nil, fail(span, err)
	}
	if rec == nil {
		// Deleted concurrently between the update and the read back.
		return nil, fail(span, &domain.NotFoundError{Entity: o.entity.Name, ID: id})
	}

	slog.Debug("record updated",
		"entity", o.entity.Name,
		"id", id,
		"tenant_id", tc.TenantID,
	)

	hookErr := o.entity.Hooks.AfterUpdate(ctx, tc, rec)
	o.publish(ctx, domain.TopicRecordUpdated, tc, id, rec)
	if hookErr != nil {
		return rec, o.committed(span, "afterUpdate", id, hookErr)
	}
	return rec, nil
}

// Delete removes the row with identity id.
func (o *Operations) Delete(ctx context.Context, tc domain.TenantContext, id string) (*domain.DeleteResult, error) {
	ctx, span := o.startSpan(ctx, "delete", tc)
	defer span.End()
	span.SetAttributes(attribute.String("crud.id", id))

	if err := tenancy.Authorize(o.entity.Descriptor, tc); err != nil {
		return nil, fail(span, err)
	}
	scope, err := tenancy.WritePredicate(o.entity.Descriptor, tc)
	if err != nil {
		return nil, fail(span, err)
	}

	if err := o.entity.Hooks.BeforeDelete(ctx, tc, id); err != nil {
		return nil, fail(span, &domain.HookError{Stage: "beforeDelete", Err: err})
	}

	n, err := o.store.Delete(ctx, o.entity.Table, tenancy.Identity(o.entity.Descriptor, id, scope))
	if err != nil {
		return nil, fail(span, o.wrapConflict(err))
	}
	if n == 0 {
		return nil, fail(span, &domain.NotFoundError{Entity: o.entity.Name, ID: id})
	}
	o.cacheDelete(ctx, tc, id)

	slog.Debug("record deleted",
		"entity", o.entity.Name,
		"id", id,
		"tenant_id", tc.TenantID,
	)

	result := &domain.DeleteResult{Success: true, ID: id}
	hookErr := o.entity.Hooks.AfterDelete(ctx, tc, id)
	o.publish(ctx, domain.TopicRecordDeleted, tc, id, nil)
	if hookErr != nil {
		return result, o.committed(span, "afterDelete", id, hookErr)
	}
	return result, nil
}

// Invalidate drops any cached copy of id and announces the change. Domain
// services that write the entity's table directly call it afterwards.
func (o *Operations) Invalidate(ctx context.Context, tc domain.TenantContext, id string) {
	o.cacheDelete(ctx, tc, id)
	o.publish(ctx, domain.TopicRecordUpdated, tc, id, nil)
}

func (o *Operations) readScope(tc domain.TenantContext, filters map[string]string) ([]domain.Condition, error) {
	if err := tenancy.Authorize(o.entity.Descriptor, tc); err != nil {
		return nil, err
	}
	where, err := tenancy.ReadPredicate(o.entity.Descriptor, tc)
	if err != nil {
		return nil, err
	}
	conds, err := parseFilters(o.entity.Name, o.table, filters)
	if err != nil {
		return nil, err
	}
	return append(where, conds...), nil
}

func (o *Operations) selectOne(ctx context.Context, store domain.Store, where []domain.Condition) (domain.Record, error) {
	rows, err := store.Select(ctx, domain.Query{Table: o.entity.Table, Where: where, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return o.table.Normalize(rows[0]), nil
}

// checkColumns rejects values for undeclared columns introduced by hooks.
func (o *Operations) checkColumns(data domain.Record) error {
	for name := range data {
		if !o.entity.HasColumn(name) {
			return fmt.Errorf("crud: %s: hook set undeclared column %q", o.entity.Name, name)
		}
	}
	return nil
}

func (o *Operations) wrapConflict(err error) error {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return &domain.ConflictError{Entity: o.entity.Name, Detail: conflict.Detail, Err: conflict.Err}
	}
	return err
}

func (o *Operations) committed(span trace.Span, stage, id string, err error) error {
	slog.Error("hook failed after commit",
		"entity", o.entity.Name,
		"id", id,
		"stage", stage,
		"error", err,
	)
	span.AddEvent("hook failed", trace.WithAttributes(
		attribute.String("hook.stage", stage),
		attribute.String("hook.error", err.Error()),
	))
	return &domain.HookError{Stage: stage, Err: err, Committed: true}
}

func (o *Operations) startSpan(ctx context.Context, op string, tc domain.TenantContext) (context.Context, trace.Span) {
	return tracer.Start(ctx, "crud."+o.entity.Name+"."+op,
		trace.WithAttributes(
			attribute.String("crud.entity", o.entity.Name),
			attribute.String("crud.op", op),
			attribute.String("tenant.id", tc.TenantID),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
