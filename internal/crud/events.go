package crud

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
	"github.com/pantryhq/pantry/internal/schema"
)

// CacheKey is the cache key of one record. Entries of tenant-scoped
// entities are stored under the caller's tenant; unscoped entities share
// domain.GlobalTenantID.
func CacheKey(entityName, id string) string {
	return "record:" + entityName + ":" + id
}

func (o *Operations) cacheTenant(tc domain.TenantContext) string {
	if o.entity.TenantMode == entity.TenantNone || tc.TenantID == "" {
		return domain.GlobalTenantID
	}
	return tc.TenantID
}

func (o *Operations) cacheGet(ctx context.Context, tc domain.TenantContext, id string) domain.Record {
	if o.opts.Cache == nil {
		return nil
	}
	data, err := o.opts.Cache.Get(ctx, o.cacheTenant(tc), CacheKey(o.entity.Name, id))
	if err != nil || data == nil {
		return nil
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	// JSON columns already hold decoded values.
	for _, col := range o.table.Columns {
		if v, ok := rec[col.Name]; ok && col.Type != schema.TypeJSON {
			rec[col.Name] = schema.Normalize(col.Type, v)
		}
	}
	return rec
}

func (o *Operations) cacheSet(ctx context.Context, tc domain.TenantContext, id string, rec domain.Record) {
	if o.opts.Cache == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := o.opts.Cache.Set(ctx, o.cacheTenant(tc), CacheKey(o.entity.Name, id), data, o.opts.CacheTTL); err != nil {
		slog.Warn("failed to cache record", "entity", o.entity.Name, "id", id, "error", err)
	}
}

func (o *Operations) cacheDelete(ctx context.Context, tc domain.TenantContext, id string) {
	if o.opts.Cache == nil {
		return
	}
	if err := o.opts.Cache.Delete(ctx, o.cacheTenant(tc), CacheKey(o.entity.Name, id)); err != nil {
		slog.Warn("failed to evict record", "entity", o.entity.Name, "id", id, "error", err)
	}
}

// publish announces a change on the bus. Failures are logged; the write
// has already happened.
func (o *Operations) publish(ctx context.Context, topic string, tc domain.TenantContext, id string, rec domain.Record) {
	if o.opts.Bus == nil {
		return
	}

	tenantID := domain.GlobalTenantID
	if o.entity.TenantField != "" {
		if t := rec.String(o.entity.TenantField); t != "" {
			tenantID = t
		} else if tc.TenantID != "" {
			tenantID = tc.TenantID
		}
	}

	payload, err := json.Marshal(domain.ChangeEvent{
		Entity:   o.entity.Name,
		ID:       id,
		TenantID: tenantID,
		Actor:    tc.Actor(),
		Record:   rec,
	})
	if err != nil {
		slog.Error("failed to marshal change event", "entity", o.entity.Name, "id", id, "error", err)
		return
	}

	metadata := map[string]string{"entity": o.entity.Name}
	if o.opts.NodeID != "" {
		metadata[domain.MetaOrigin] = o.opts.NodeID
	}
	if err := o.opts.Bus.Publish(ctx, tenantID, topic, payload, metadata); err != nil {
		slog.Error("failed to publish change event",
			"entity", o.entity.Name,
			"id", id,
			"topic", topic,
			"error", err,
		)
	}
}
