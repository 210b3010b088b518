package authz

import (
	"strings"

	"backoffice/internal/errs"

	"github.com/google/uuid"
)

// Principal is the caller of an operation. The zero value is anonymous.
type Principal struct {
	ID       uuid.UUID
	Username string
	Roles    []string
}

func Anonymous() Principal {
	return Principal{}
}

func (p Principal) Authenticated() bool {
	return p.ID != uuid.Nil
}

// HasRole reports whether name is one of the principal's roles
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

type Reason string

const (
	ReasonUnauthenticated  Reason = "Unauthenticated"
	ReasonInsufficientRole Reason = "InsufficientRole"
)

// Decision is the outcome of a permission check
type Decision struct {
	Allowed bool
	Reason  Reason
}

// CheckPermission allows an authenticated principal holding at least one of
// requiredRoles. Anonymous callers are always denied. An empty requiredRoles
// set denies everyone.
func CheckPermission(p Principal, requiredRoles []string) Decision {
	if !p.Authenticated() {
		return Decision{Reason: ReasonUnauthenticated}
	}
	for _, required := range requiredRoles {
		if p.HasRole(required) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonInsufficientRole}
}

// Gate resolves capabilities to role sets through the Registry and evaluates
// CheckPermission. It has no side effects.
type Gate struct {
	registry *Registry
}

func NewGate(registry *Registry) *Gate {
	return &Gate{registry: registry}
}

func (g *Gate) Registry() *Registry {
	return g.registry
}

func (g *Gate) Check(p Principal, c Capability) Decision {
	return CheckPermission(p, g.registry.RolesGranting(c))
}

func (g *Gate) Can(p Principal, c Capability) bool {
	return g.Check(p, c).Allowed
}

// Require turns a Deny into a permission error naming the missing capability
func (g *Gate) Require(p Principal, c Capability) error {
	d := g.Check(p, c)
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonUnauthenticated {
		return errs.Unauthenticated("sign in required for %s", c)
	}
	roles := g.registry.RolesGranting(c)
	if len(roles) == 0 {
		return errs.Permission("no role grants %s", c)
	}
	return errs.Permission("%s requires one of the roles: %s", c, strings.Join(roles, ", "))
}
