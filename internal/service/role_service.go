package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/observability"
	"backoffice/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- DTOs ---

type RoleRequest struct {
	Name         string   `json:"name" validate:"required,min=2,max=50"`
	Description  string   `json:"description" validate:"max=500"`
	Capabilities []string `json:"capabilities"` // capability codes
}

type RoleResponse struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	IsSystem     bool                 `json:"is_system"`
	Capabilities []CapabilityResponse `json:"capabilities"`
	CreatedAt    string               `json:"created_at"`
}

type CapabilityResponse struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context, actor authz.Principal) ([]RoleResponse, error)
	GetRole(ctx context.Context, actor authz.Principal, id string) (*RoleResponse, error)
	CreateRole(ctx context.Context, actor authz.Principal, req RoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, actor authz.Principal, id string, req RoleRequest) (*RoleResponse, error)
	DeleteRole(ctx context.Context, actor authz.Principal, id string) error
	ListCapabilities(ctx context.Context, actor authz.Principal) ([]CapabilityResponse, error)
	SeedDefaults(ctx context.Context) error
	LoadRegistry(ctx context.Context) error
}

type roleService struct {
	roles     repository.RoleRepository
	users     repository.UserRepository
	audit     repository.AuditRepository
	txManager repository.TransactionManager
	resolver  PrincipalResolver
	registry  *authz.Registry
	guard     guard
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewRoleService(
	roles repository.RoleRepository,
	users repository.UserRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	resolver PrincipalResolver,
	g *authz.Gate,
	deps Deps,
) RoleService {
	return &roleService{
		roles:     roles,
		users:     users,
		audit:     audit,
		txManager: txManager,
		resolver:  resolver,
		registry:  g.Registry(),
		guard:     guard{gate: g, metrics: deps.Metrics},
		metrics:   deps.Metrics,
		log:       deps.Log.With().Str("component", "roles").Logger(),
	}
}

func toRoleResponse(r *model.Role) RoleResponse {
	caps := make([]CapabilityResponse, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		caps = append(caps, toCapabilityResponse(c))
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Code < caps[j].Code })
	return RoleResponse{
		ID:           r.ID.String(),
		Name:         r.Name,
		Description:  r.Description,
		IsSystem:     r.IsSystem,
		Capabilities: caps,
		CreatedAt:    formatTime(r.CreatedAt),
	}
}

func toCapabilityResponse(c model.Capability) CapabilityResponse {
	return CapabilityResponse{
		ID:    c.ID.String(),
		Code:  c.Code,
		Name:  c.Name,
		Group: c.Group,
	}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context, actor authz.Principal) ([]RoleResponse, error) {
	if err := s.guard.require(actor, authz.CapRoleManage); err != nil {
		return nil, err
	}
	roles, err := s.roles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for i := range roles {
		res = append(res, toRoleResponse(&roles[i]))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, actor authz.Principal, id string) (*RoleResponse, error) {
	if err := s.guard.require(actor, authz.CapRoleManage); err != nil {
		return nil, err
	}
	roleID, err := parseID(id, "role")
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, roleID)
}

func (s *roleService) reload(ctx context.Context, id uuid.UUID) (*RoleResponse, error) {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "role", id)
	}
	resp := toRoleResponse(role)
	return &resp, nil
}

// resolveCapabilities maps codes to rows and rejects unknown codes
func (s *roleService) resolveCapabilities(ctx context.Context, codes []string) ([]model.Capability, error) {
	caps, err := s.roles.FindCapabilitiesByCodes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}
	found := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		found[c.Code] = struct{}{}
	}
	var unknown []string
	for _, code := range codes {
		if _, ok := found[code]; !ok {
			unknown = append(unknown, code)
		}
	}
	if len(unknown) > 0 {
		return nil, errs.Validation("unknown capability code(s): %s", strings.Join(unknown, ", "))
	}
	return caps, nil
}

func (s *roleService) CreateRole(ctx context.Context, actor authz.Principal, req RoleRequest) (*RoleResponse, error) {
	if err := s.guard.require(actor, authz.CapRoleManage); err != nil {
		return nil, err
	}
	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if err := validateInput(req); err != nil {
		return nil, err
	}

	role := model.Role{Name: req.Name, Description: req.Description}
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.roles.FindByName(txCtx, req.Name); err == nil {
			return errs.Conflict("role %q already exists", req.Name)
		}
		caps, err := s.resolveCapabilities(txCtx, req.Capabilities)
		if err != nil {
			return err
		}
		if err := s.roles.Create(txCtx, &role); err != nil {
			if repository.IsUniqueViolation(err) {
				return errs.Conflict("role %q already exists", req.Name)
			}
			return fmt.Errorf("failed to create role: %w", err)
		}
		if err := s.roles.ReplaceCapabilities(txCtx, &role, caps); err != nil {
			return fmt.Errorf("failed to assign capabilities: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionCreateRole, role.ID.String(), role.Name, map[string]any{
			"capabilities": req.Capabilities,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.refresh(ctx)
	return s.reload(ctx, role.ID)
}

// UpdateRole rewrites a custom role. Built-in roles keep their name and
// capability set; only the description may change.
func (s *roleService) UpdateRole(ctx context.Context, actor authz.Principal, id string, req RoleRequest) (*RoleResponse, error) {
	if err := s.guard.require(actor, authz.CapRoleManage); err != nil {
		return nil, err
	}
	roleID, err := parseID(id, "role")
	if err != nil {
		return nil, err
	}
	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if err := validateInput(req); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.roles.FindByID(txCtx, roleID)
		if err != nil {
			return loadErr(err, "role", roleID)
		}

		if role.IsSystem {
			if req.Name != role.Name || req.Capabilities != nil {
				return errs.Conflict("built-in role %q cannot be renamed or re-scoped", role.Name)
			}
			role.Description = req.Description
			role.Capabilities = nil
			return s.roles.Update(txCtx, role)
		}

		if other, err := s.roles.FindByName(txCtx, req.Name); err == nil && other.ID != role.ID {
			return errs.Conflict("role %q already exists", req.Name)
		}
		caps, err := s.resolveCapabilities(txCtx, req.Capabilities)
		if err != nil {
			return err
		}

		role.Name = req.Name
		role.Description = req.Description
		role.Capabilities = nil
		if err := s.roles.Update(txCtx, role); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		return s.roles.ReplaceCapabilities(txCtx, role, caps)
	})
	if err != nil {
		return nil, err
	}

	s.refresh(ctx)
	return s.reload(ctx, roleID)
}

// DeleteRole refuses while any principal still holds the role
func (s *roleService) DeleteRole(ctx context.Context, actor authz.Principal, id string) error {
	if err := s.guard.require(actor, authz.CapRoleManage); err != nil {
		return err
	}
	roleID, err := parseID(id, "role")
	if err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.roles.FindByID(txCtx, roleID)
		if err != nil {
			return loadErr(err, "role", roleID)
		}
		if role.IsSystem {
			s.metrics.DeletionsBlocked.WithLabelValues("role").Inc()
			return errs.Conflict("cannot delete built-in role %q", role.Name)
		}

		holders, total, err := s.users.HoldersOfRole(txCtx, roleID, 1)
		if err != nil {
			return fmt.Errorf("failed to check role holders: %w", err)
		}
		if total > 0 {
			s.metrics.DeletionsBlocked.WithLabelValues("role").Inc()
			return errs.Conflict("role %q is still held by %d user(s), including %q", role.Name, total, holders[0].Username)
		}

		if err := s.roles.Delete(txCtx, roleID); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionDeleteRole, roleID.String(), role.Name, nil))
	})
	if err != nil {
		return err
	}

	s.refresh(ctx)
	return nil
}

func (s *roleService) ListCapabilities(ctx context.Context, actor authz.Principal) ([]CapabilityResponse, error) {
	if err := s.guard.require(actor, authz.CapRoleManage); err != nil {
		return nil, err
	}
	caps, err := s.roles.ListCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}

	res := make([]CapabilityResponse, 0, len(caps))
	for _, c := range caps {
		res = append(res, toCapabilityResponse(c))
	}
	return res, nil
}

// SeedDefaults upserts the capability catalog and the built-in roles.
// Built-in roles are re-synced to their default capability sets.
func (s *roleService) SeedDefaults(ctx context.Context) error {
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		byCode := make(map[authz.Capability]model.Capability)
		for _, info := range authz.Catalog() {
			c := model.Capability{Code: string(info.Code), Name: info.Name, Group: info.Group}
			if err := s.roles.UpsertCapability(txCtx, &c); err != nil {
				return fmt.Errorf("failed to seed capability %s: %w", info.Code, err)
			}
			byCode[info.Code] = c
		}

		for _, def := range authz.DefaultRoles() {
			caps := make([]model.Capability, 0, len(def.Capabilities))
			for _, code := range def.Capabilities {
				caps = append(caps, byCode[code])
			}

			role, err := s.roles.FindByName(txCtx, def.Name)
			switch {
			case repository.IsNotFound(err):
				role = &model.Role{Name: def.Name, Description: def.Description, IsSystem: def.System}
				if err := s.roles.Create(txCtx, role); err != nil {
					return fmt.Errorf("failed to seed role %s: %w", def.Name, err)
				}
				s.log.Info().Str("role", def.Name).Msg("seeded built-in role")
			case err != nil:
				return fmt.Errorf("failed to load role %s: %w", def.Name, err)
			}

			if err := s.roles.ReplaceCapabilities(txCtx, role, caps); err != nil {
				return fmt.Errorf("failed to seed capabilities of %s: %w", def.Name, err)
			}
		}
		return nil
	})
}

// LoadRegistry replaces the in-memory registry with the stored roles
func (s *roleService) LoadRegistry(ctx context.Context) error {
	roles, err := s.roles.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}

	defs := make([]authz.RoleDefinition, 0, len(roles))
	for _, r := range roles {
		caps := make([]authz.Capability, 0, len(r.Capabilities))
		for _, c := range r.Capabilities {
			caps = append(caps, authz.Capability(c.Code))
		}
		defs = append(defs, authz.RoleDefinition{
			Name:         r.Name,
			Description:  r.Description,
			System:       r.IsSystem,
			Capabilities: caps,
		})
	}
	s.registry.Replace(defs)
	s.log.Debug().Int("roles", len(defs)).Msg("role registry loaded")
	return nil
}

// refresh reloads the registry and drops cached principals after a role change
func (s *roleService) refresh(ctx context.Context) {
	if err := s.LoadRegistry(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to reload role registry")
	}
	s.resolver.Purge(ctx)
}
