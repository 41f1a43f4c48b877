// Package tenancy turns an entity's tenant mode and a caller's identity into
// row predicates and create-time stamps.
package tenancy

import (
	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
)

// Authorize checks visibility. Protected entities need an active identity.
func Authorize(d entity.Descriptor, tc domain.TenantContext) error {
	if d.Visibility == entity.Public {
		return nil
	}
	if !tc.Authenticated() {
		return domain.ErrForbidden
	}
	return nil
}

// ReadPredicate returns the conditions a row must satisfy to be visible to tc.
// Optional-mode entities also expose shared rows with a NULL tenant.
func ReadPredicate(d entity.Descriptor, tc domain.TenantContext) ([]domain.Condition, error) {
	switch d.TenantMode {
	case entity.TenantRequired:
		if tc.TenantID == "" {
			return nil, domain.ErrTenantRequired
		}
		return []domain.Condition{domain.Eq(d.TenantField, tc.TenantID)}, nil
	case entity.TenantOptional:
		if tc.TenantID == "" {
			return nil, domain.ErrTenantRequired
		}
		return []domain.Condition{
			domain.Or(domain.IsNull(d.TenantField), domain.Eq(d.TenantField, tc.TenantID)),
		}, nil
	default:
		return nil, nil
	}
}

// WritePredicate returns the conditions a row must satisfy to be mutated by
// tc. Shared rows never match.
func WritePredicate(d entity.Descriptor, tc domain.TenantContext) ([]domain.Condition, error) {
	switch d.TenantMode {
	case entity.TenantRequired, entity.TenantOptional:
		if tc.TenantID == "" {
			return nil, domain.ErrTenantRequired
		}
		return []domain.Condition{domain.Eq(d.TenantField, tc.TenantID)}, nil
	default:
		return nil, nil
	}
}

// Stamp sets the tenant field of a new row. It is a no-op for TenantNone.
func Stamp(d entity.Descriptor, tc domain.TenantContext, rec domain.Record) error {
	switch d.TenantMode {
	case entity.TenantRequired, entity.TenantOptional:
		if tc.TenantID == "" {
			return domain.ErrTenantRequired
		}
		rec[d.TenantField] = tc.TenantID
	}
	return nil
}

// Identity returns the predicate matching a single row by id under scope.
func Identity(d entity.Descriptor, id string, scope []domain.Condition) []domain.Condition {
	where := make([]domain.Condition, 0, len(scope)+1)
	where = append(where, domain.Eq(d.IdentityField, id))
	return append(where, scope...)
}
