package domain

import "context"

// Identity status values supplied by the authentication layer.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// TenantContext is the already-resolved caller identity for one request.
// The engine never constructs it from credentials; it only consumes it.
type TenantContext struct {
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
	Status   string `json:"status"`

	// UserID identifies the acting user for audit columns. Optional.
	UserID string `json:"userId,omitempty"`
}

// Authenticated reports whether the context carries an active tenant identity.
func (t TenantContext) Authenticated() bool {
	return t.TenantID != "" && t.Status == StatusActive
}

// Actor returns the best available identifier for audit columns.
func (t TenantContext) Actor() string {
	if t.UserID != "" {
		return t.UserID
	}
	if t.Role != "" {
		return t.TenantID + ":" + t.Role
	}
	return t.TenantID
}

type tenantContextKey struct{}

// WithTenant returns a context carrying tc.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantFrom extracts the TenantContext stored by WithTenant.
func TenantFrom(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(TenantContext)
	return tc, ok
}
