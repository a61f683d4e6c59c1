// Package tenant carries the current tenant key and acting user through
// context. The engine never infers tenant identity on its own beyond
// extracting it from a push-update path; every other call site must have
// put it on the context.
package tenant

import (
	"context"
	"strings"
)

// key is unexported so only this package can build context values.
type key int

const (
	tenantKey key = iota
	userKey
)

// Normalize maps a raw tenant name onto the canonical uppercase key
// under which all state is partitioned.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// WithTenant returns a context carrying the normalized tenant key.
func WithTenant(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, tenantKey, Normalize(name))
}

// FromContext returns the tenant key, or ok=false when none is set.
func FromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey).(string)
	if !ok || t == "" {
		return "", false
	}
	return t, true
}

// WithUser returns a context carrying the acting user's login, used to
// stamp createdBy/updatedBy on roles.
func WithUser(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, userKey, login)
}

// UserFromContext returns the acting user's login, or "system" when no
// user is attached (bootstrap and scheduled paths).
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(userKey).(string); ok && u != "" {
		return u
	}
	return "system"
}
