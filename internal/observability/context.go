// Package observability carries per-operation correlation data for execgate.
package observability

import (
	"context"

	"github.com/google/uuid"
)

type opIDKey struct{}

// WithOpID generates a new operation ID and stores it in the context.
// A pipeline run or CLI invocation calls this once at its entry point.
func WithOpID(ctx context.Context) context.Context {
	return context.WithValue(ctx, opIDKey{}, uuid.NewString())
}

// EnsureOpID keeps an existing operation ID or assigns a fresh one.
func EnsureOpID(ctx context.Context) context.Context {
	if OpID(ctx) != "" {
		return ctx
	}
	return WithOpID(ctx)
}

// OpID retrieves the operation ID from context.
// Returns empty string if no op_id was set
func OpID(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey{}).(string); ok {
		return id
	}
	return ""
}

type tenantKey struct{}

// WithTenant tags ctx with the tenant an operation runs for. Structured
// events carry it as tenant_id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

func TenantID(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}
