package authz

import (
	"testing"

	"backoffice/internal/errs"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func principal(roles ...string) Principal {
	return Principal{ID: uuid.New(), Username: "someone", Roles: roles}
}

func TestCheckPermission(t *testing.T) {
	tests := []struct {
		name     string
		p        Principal
		required []string
		want     Decision
	}{
		{"anonymous is denied", Anonymous(), []string{RoleAdmin}, Decision{Reason: ReasonUnauthenticated}},
		{"anonymous is denied even with roles", Principal{Roles: []string{RoleAdmin}}, []string{RoleAdmin}, Decision{Reason: ReasonUnauthenticated}},
		{"matching role", principal(RolePoster), []string{RoleAdmin, RolePoster}, Decision{Allowed: true}},
		{"one of many roles", principal(RoleUser, RoleAdmin), []string{RoleAdmin}, Decision{Allowed: true}},
		{"no intersection", principal(RoleUser), []string{RoleAdmin, RolePoster}, Decision{Reason: ReasonInsufficientRole}},
		{"empty required set", principal(RoleAdmin), nil, Decision{Reason: ReasonInsufficientRole}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckPermission(tt.p, tt.required))
		})
	}
}

func TestGateUsesRegistry(t *testing.T) {
	gate := NewGate(NewRegistry(DefaultRoles()))

	assert.True(t, gate.Can(principal(RolePoster), CapCommentModerate))
	assert.True(t, gate.Can(principal(RoleAdmin), CapCommentModerate))
	assert.False(t, gate.Can(principal(RoleUser), CapCommentModerate))
	assert.True(t, gate.Can(principal(RoleUser), CapCommentSubmit))
	assert.False(t, gate.Can(principal(RolePoster), CapRoleManage))
}

func TestGateRequireErrors(t *testing.T) {
	gate := NewGate(NewRegistry(DefaultRoles()))

	err := gate.Require(Anonymous(), CapPostWrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	assert.True(t, errs.IsPermission(err))

	err = gate.Require(principal(RoleUser), CapPostWrite)
	require.Error(t, err)
	assert.True(t, errs.IsPermission(err))
	assert.Contains(t, err.Error(), "admin, poster")

	assert.NoError(t, gate.Require(principal(RolePoster), CapPostWrite))
}

func TestRegistryReplace(t *testing.T) {
	reg := NewRegistry(DefaultRoles())
	assert.Equal(t, []string{RoleAdmin}, reg.RolesGranting(CapRoleManage))

	reg.Replace(append(DefaultRoles(), RoleDefinition{
		Name:         "editor",
		Capabilities: []Capability{CapRoleManage, CapPostManageAll},
	}))
	assert.Equal(t, []string{RoleAdmin, "editor"}, reg.RolesGranting(CapRoleManage))
	assert.True(t, reg.Known("editor"))
	assert.Equal(t,
		[]Capability{CapCommentSubmit, CapPostManageAll, CapRoleManage},
		reg.CapabilitiesOf([]string{"editor", RoleUser}),
	)
}
