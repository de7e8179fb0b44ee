// Package auth derives tenant identity from request claims and carries it
// through request contexts. Every retrieval and indexing call requires a
// resolved tenant.
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/corterra/askd/internal/apperr"
)

// Tenant is the identity boundary for documents, chunks, embeddings and
// audit logs.
type Tenant struct {
	ID   uuid.UUID
	Name string
}

type tenantKey struct{}

// WithTenant returns a context carrying the tenant.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFrom extracts the tenant from a context. Fails with TenantMissing
// when no tenant was resolved.
func TenantFrom(ctx context.Context) (Tenant, error) {
	t, ok := ctx.Value(tenantKey{}).(Tenant)
	if !ok || t.ID == uuid.Nil {
		return Tenant{}, apperr.New(apperr.TenantMissing, "no tenant in request context")
	}
	return t, nil
}
