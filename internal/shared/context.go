package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller as asserted by the gateway.
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// Valid reports whether both tenant and user are present.
func (i Identity) Valid() bool {
	return i.TenantID != uuid.Nil && i.UserID != uuid.Nil
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok && id.Valid()
}
