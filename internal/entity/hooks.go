package entity

import (
	"context"

	"github.com/pantryhq/pantry/internal/domain"
)

// Hooks are the lifecycle extension points around mutations.
//
// Before hooks run after validation and before persistence; they may
// transform the data or abort with an error. After hooks run once the write
// is persisted; their errors are reported but never roll the write back.
type Hooks interface {
	BeforeCreate(ctx context.Context, tc domain.TenantContext, data domain.Record) (domain.Record, error)
	AfterCreate(ctx context.Context, tc domain.TenantContext, rec domain.Record) error
	BeforeUpdate(ctx context.Context, tc domain.TenantContext, id string, data domain.Record) (domain.Record, error)
	AfterUpdate(ctx context.Context, tc domain.TenantContext, rec domain.Record) error
	BeforeDelete(ctx context.Context, tc domain.TenantContext, id string) error
	AfterDelete(ctx context.Context, tc domain.TenantContext, id string) error
}

// HookFuncs adapts optional functions to the Hooks interface. Nil
// functions pass data through unchanged.
type HookFuncs struct {
	OnBeforeCreate func(ctx context.Context, tc domain.TenantContext, data domain.Record) (domain.Record, error)
	OnAfterCreate  func(ctx context.Context, tc domain.TenantContext, rec domain.Record) error
	OnBeforeUpdate func(ctx context.Context, tc domain.TenantContext, id string, data domain.Record) (domain.Record, error)
	OnAfterUpdate  func(ctx context.Context, tc domain.TenantContext, rec domain.Record) error
	OnBeforeDelete func(ctx context.Context, tc domain.TenantContext, id string) error
	OnAfterDelete  func(ctx context.Context, tc domain.TenantContext, id string) error
}

func (h HookFuncs) BeforeCreate(ctx context.Context, tc domain.TenantContext, data domain.Record) (domain.Record, error) {
	if h.OnBeforeCreate == nil {
		return data, nil
	}
	return h.OnBeforeCreate(ctx, tc, data)
}

func (h HookFuncs) AfterCreate(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
	if h.OnAfterCreate == nil {
		return nil
	}
	return h.OnAfterCreate(ctx, tc, rec)
}

func (h HookFuncs) BeforeUpdate(ctx context.Context, tc domain.TenantContext, id string, data domain.Record) (domain.Record, error) {
	if h.OnBeforeUpdate == nil {
		return data, nil
	}
	return h.OnBeforeUpdate(ctx, tc, id, data)
}

func (h HookFuncs) AfterUpdate(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
	if h.OnAfterUpdate == nil {
		return nil
	}
	return h.OnAfterUpdate(ctx, tc, rec)
}

func (h HookFuncs) BeforeDelete(ctx context.Context, tc domain.TenantContext, id string) error {
	if h.OnBeforeDelete == nil {
		return nil
	}
	return h.OnBeforeDelete(ctx, tc, id)
}

func (h HookFuncs) AfterDelete(ctx context.Context, tc domain.TenantContext, id string) error {
	if h.OnAfterDelete == nil {
		return nil
	}
	return h.OnAfterDelete(ctx, tc, id)
}

// NoHooks passes everything through.
var NoHooks Hooks = HookFuncs{}

type chain []Hooks

// Chain composes hooks. Each before hook receives the data returned by the
// previous one; the first error stops the chain.
func Chain(hooks ...Hooks) Hooks {
	var c chain
	for _, h := range hooks {
		if h == nil {
			continue
		}
		if inner, ok := h.(chain); ok {
			c = append(c, inner...)
			continue
		}
		c = append(c, h)
	}
	if len(c) == 0 {
		return NoHooks
	}
	if len(c) == 1 {
		return c[0]
	}
	return c
}

func (c chain) BeforeCreate(ctx context.Context, tc domain.TenantContext, data domain.Record) (domain.Record, error) {
	var err error
	for _, h := range c {
		if data, err = h.BeforeCreate(ctx, tc, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (c chain) AfterCreate(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
	for _, h := range c {
		if err := h.AfterCreate(ctx, tc, rec); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) BeforeUpdate(ctx context.Context, tc domain.TenantContext, id string, data domain.Record) (domain.Record, error) {
	var err error
	for _, h := range c {
		if data, err = h.BeforeUpdate(ctx, tc, id, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (c chain) AfterUpdate(ctx context.Context, tc domain.TenantContext, rec domain.Record) error {
	for _, h := range c {
		if err := h.AfterUpdate(ctx, tc, rec); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) BeforeDelete(ctx context.Context, tc domain.TenantContext, id string) error {
	for _, h := range c {
		if err := h.BeforeDelete(ctx, tc, id); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) AfterDelete(ctx context.Context, tc domain.TenantContext, id string) error {
	for _, h := range c {
		if err := h.AfterDelete(ctx, tc, id); err != nil {
			return err
		}
	}
	return nil
}
