// ABOUTME: Identity type and context helpers for authenticated connections
// ABOUTME: Provides WithIdentity/FromContext for propagating the caller through handlers

package auth

import (
	"context"
)

// Role is the kind of identity behind a connection
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAgent   Role = "agent"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleVisitor, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name"`
}

// IsStaff returns true for agents and admins.
func (i *Identity) IsStaff() bool {
	return i.Role == RoleAgent || i.Role == RoleAdmin
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
