// ABOUTME: Unit tests for identity context functions
// ABOUTME: Tests Role validation, IsStaff, and context propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleVisitor, RoleAgent, RoleAdmin} {
		assert.True(t, r.Valid(), "role %q", r)
	}
	assert.False(t, Role("").Valid())
	assert.False(t, Role("owner").Valid())
}

func TestIdentity_IsStaff(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleVisitor, false},
		{RoleAgent, true},
		{RoleAdmin, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			id := &Identity{ID: "x", Role: tt.role}
			assert.Equal(t, tt.want, id.IsStaff())
		})
	}
}

func TestWithIdentity_FromContext(t *testing.T) {
	id := &Identity{ID: "agent-1", Role: RoleAgent, Name: "Ari"}
	ctx := WithIdentity(context.Background(), id)

	assert.Same(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestMustFromContext_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustFromContext(context.Background())
	})

	id := &Identity{ID: "visitor-1", Role: RoleVisitor}
	assert.NotPanics(t, func() {
		got := MustFromContext(WithIdentity(context.Background(), id))
		assert.Equal(t, "visitor-1", got.ID)
	})
}
