package storage

import "context"

type tenantKey struct{}

// SetTenant scopes storage operations made with ctx to tenantID.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant of ctx, or "" in single-tenant mode.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
