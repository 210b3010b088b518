package authz

import (
	"sort"
	"sync"
)

// Capability is a named right checked before a mutation
type Capability string

const (
	CapAssetUpload       Capability = "assets.upload"
	CapAssetManageAll    Capability = "assets.manage_all"
	CapPostWrite         Capability = "posts.write"
	CapPostManageAll     Capability = "posts.manage_all"
	CapTaxonomyWrite     Capability = "taxonomy.write"
	CapTaxonomyManageAll Capability = "taxonomy.manage_all"
	CapCommentSubmit     Capability = "comments.submit"
	CapCommentModerate   Capability = "comments.moderate"
	CapRoleManage        Capability = "roles.manage"
	CapUserManage        Capability = "users.manage"
	CapAuditRead         Capability = "audit.read"
)

// Built-in roles
const (
	RoleAdmin  = "admin"
	RolePoster = "poster"
	RoleUser   = "user"
)

// CapabilityInfo describes a capability for seeding and listing
type CapabilityInfo struct {
	Code  Capability
	Name  string
	Group string
}

// RoleDefinition is one registry entry
type RoleDefinition struct {
	Name         string
	Description  string
	System       bool
	Capabilities []Capability
}

// Catalog lists every capability the system checks
func Catalog() []CapabilityInfo {
	return []CapabilityInfo{
		{Code: CapAssetUpload, Name: "Upload images", Group: "assets"},
		{Code: CapAssetManageAll, Name: "Manage every author's images", Group: "assets"},
		{Code: CapPostWrite, Name: "Write posts", Group: "posts"},
		{Code: CapPostManageAll, Name: "Manage every author's posts", Group: "posts"},
		{Code: CapTaxonomyWrite, Name: "Manage own categories and tags", Group: "taxonomy"},
		{Code: CapTaxonomyManageAll, Name: "Manage every category and tag", Group: "taxonomy"},
		{Code: CapCommentSubmit, Name: "Submit comments", Group: "comments"},
		{Code: CapCommentModerate, Name: "Moderate comments", Group: "comments"},
		{Code: CapRoleManage, Name: "Manage roles", Group: "roles"},
		{Code: CapUserManage, Name: "Manage users", Group: "users"},
		{Code: CapAuditRead, Name: "Read audit history", Group: "audit"},
	}
}

// DefaultRoles are the system roles seeded at bootstrap
func DefaultRoles() []RoleDefinition {
	all := make([]Capability, 0, len(Catalog()))
	for _, c := range Catalog() {
		all = append(all, c.Code)
	}

	return []RoleDefinition{
		{
			Name:         RoleAdmin,
			Description:  "Administrator with every capability",
			System:       true,
			Capabilities: all,
		},
		{
			Name:        RolePoster,
			Description: "Author: uploads images, writes posts, moderates comments",
			System:      true,
			Capabilities: []Capability{
				CapAssetUpload, CapPostWrite, CapTaxonomyWrite,
				CapCommentSubmit, CapCommentModerate,
			},
		},
		{
			Name:         RoleUser,
			Description:  "Reader: may comment on published posts",
			System:       true,
			Capabilities: []Capability{CapCommentSubmit},
		},
	}
}

// Registry maps role names to capability sets. It is reloaded from the
// roles table whenever roles change.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]map[Capability]struct{}
}

func NewRegistry(defs []RoleDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace swaps the whole role table atomically
func (r *Registry) Replace(defs []RoleDefinition) {
	roles := make(map[string]map[Capability]struct{}, len(defs))
	for _, d := range defs {
		caps := make(map[Capability]struct{}, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps[c] = struct{}{}
		}
		roles[d.Name] = caps
	}

	r.mu.Lock()
	r.roles = roles
	r.mu.Unlock()
}

// RolesGranting returns the sorted names of every role that holds c
func (r *Registry) RolesGranting(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, caps := range r.roles {
		if _, ok := caps[c]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CapabilitiesOf returns the union of capabilities for the given roles
func (r *Registry) CapabilitiesOf(roles []string) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Capability]struct{})
	for _, name := range roles {
		for c := range r.roles[name] {
			seen[c] = struct{}{}
		}
	}

	out := make([]Capability, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Known(role string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[role]
	return ok
}
