// Package requestcontext provides transport-independent context accessors for
// request-scoped values.
//
// Callers (HTTP middleware, workflow workers, CLI tools) set the tenant and
// correlation values; the logbook facade reads them. Keeping this package free
// of net/http lets services import it without pulling in HTTP code.
//
// Usage in callers (set values):
//
//	ctx = requestcontext.WithTenantID(ctx, tenant)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in services (read values):
//
//	tenant, ok := requestcontext.TenantID(ctx)
//	now := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"

	id "logbook/pkg/domain"
)

type (
	tenantIDKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// -----------------------------------------------------------------------------
// Tenant
// -----------------------------------------------------------------------------

// TenantID retrieves the tenant the caller acts for.
// The boolean is false when no tenant was set; tenant 0 is a valid tenant.
func TenantID(ctx context.Context) (id.TenantID, bool) {
	tenant, ok := ctx.Value(tenantIDKey{}).(id.TenantID)
	return tenant, ok
}

// WithTenantID injects the acting tenant into the context.
func WithTenantID(ctx context.Context, tenant id.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenant)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for tests and for workers that need one timestamp per batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
