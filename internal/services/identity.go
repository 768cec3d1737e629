package services

import (
	"context"

	"github.com/google/uuid"
)

type identityKey struct{}

// Identity is the authenticated caller as established by the auth middleware.
type Identity struct {
	CustomerID uuid.UUID
	BusinessID uuid.UUID
	Actor      string
	Role       string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// CustomerFrom returns the caller only when it is an identified customer.
func CustomerFrom(ctx context.Context) (Identity, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.CustomerID == uuid.Nil {
		return Identity{}, false
	}
	return id, true
}

// ActorFrom names the caller for status events and audit records.
func ActorFrom(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok && id.Actor != "" {
		return id.Actor
	}
	return "anonymous"
}

// VisibleToCaller reports whether records of businessID may be read or changed
// by the caller. Every authenticated caller, staff included, is confined to its
// own business. Calls carrying no identity come from in-process jobs and tools.
func VisibleToCaller(ctx context.Context, businessID uuid.UUID) bool {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return true
	}
	return id.BusinessID == businessID
}
