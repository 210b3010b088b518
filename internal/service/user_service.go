package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/model"
	"backoffice/internal/repository"
	"backoffice/pkg/pagination"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DTOs for Request validation
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AssignRolesRequest struct {
	RoleIDs []string `json:"role_ids" validate:"required,min=1"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt string    `json:"created_at"`
}

// MeResponse is the caller's own profile with the capabilities its roles grant
type MeResponse struct {
	UserResponse
	Capabilities []authz.Capability `json:"capabilities"`
}

// UserService defines the interface for business logic related to User
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	Me(ctx context.Context, actor authz.Principal) (*MeResponse, error)
	ListUsers(ctx context.Context, actor authz.Principal, page, limit int) ([]UserResponse, int64, error)
	AssignRoles(ctx context.Context, actor authz.Principal, userID string, req AssignRolesRequest) (*UserResponse, error)
}

type userService struct {
	users     repository.UserRepository
	roles     repository.RoleRepository
	audit     repository.AuditRepository
	txManager repository.TransactionManager
	resolver  PrincipalResolver
	guard     guard
	secret    []byte
	tokenTTL  time.Duration
}

// NewUserService returns a new instance of UserService
func NewUserService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	resolver PrincipalResolver,
	g *authz.Gate,
	deps Deps,
	secret []byte,
	tokenTTL time.Duration,
) UserService {
	return &userService{
		users:     users,
		roles:     roles,
		audit:     audit,
		txManager: txManager,
		resolver:  resolver,
		guard:     guard{gate: g, metrics: deps.Metrics},
		secret:    secret,
		tokenTTL:  tokenTTL,
	}
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     u.RoleNames(),
		CreatedAt: formatTime(u.CreatedAt),
	}
}

func (s *userService) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := validateInput(req); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, errs.Conflict("username %q is already taken", req.Username)
	}
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, errs.Conflict("email %q is already registered", req.Email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username: req.Username,
		Email:    req.Email,
		Password: string(hashed),
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.users.Create(txCtx, user); err != nil {
			if repository.IsUniqueViolation(err) {
				return errs.Conflict("username or email is already registered")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		role, err := s.roles.FindByName(txCtx, authz.RoleUser)
		if err != nil {
			return fmt.Errorf("failed to load default role: %w", err)
		}
		return s.users.ReplaceRoles(txCtx, user.ID, []uuid.UUID{role.ID})
	})
	if err != nil {
		return nil, err
	}

	created, err := s.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, loadErr(err, "user", user.ID)
	}
	resp := toUserResponse(created)
	return &resp, nil
}

func (s *userService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateInput(req); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, errs.Unauthenticated("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, errs.Unauthenticated("invalid email or password")
	}

	token, expires, err := IssueToken(s.secret, s.tokenTTL, user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token, ExpiresAt: expires}, nil
}

func (s *userService) Me(ctx context.Context, actor authz.Principal) (*MeResponse, error) {
	if !actor.Authenticated() {
		return nil, errs.Unauthenticated("sign in required")
	}
	user, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, loadErr(err, "user", actor.ID)
	}

	resp := MeResponse{
		UserResponse: toUserResponse(user),
		Capabilities: s.guard.gate.Registry().CapabilitiesOf(actor.Roles),
	}
	resp.Roles = actor.Roles
	return &resp, nil
}

func (s *userService) ListUsers(ctx context.Context, actor authz.Principal, page, limit int) ([]UserResponse, int64, error) {
	if err := s.guard.require(actor, authz.CapUserManage); err != nil {
		return nil, 0, err
	}

	p := pagination.New(page, limit)
	users, total, err := s.users.List(ctx, p.Offset, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	res := make([]UserResponse, 0, len(users))
	for i := range users {
		res = append(res, toUserResponse(&users[i]))
	}
	return res, total, nil
}

// AssignRoles replaces the user's whole role set
func (s *userService) AssignRoles(ctx context.Context, actor authz.Principal, userID string, req AssignRolesRequest) (*UserResponse, error) {
	if err := s.guard.require(actor, authz.CapUserManage); err != nil {
		return nil, err
	}
	if err := validateInput(req); err != nil {
		return nil, err
	}
	id, err := parseID(userID, "user")
	if err != nil {
		return nil, err
	}
	roleIDs, err := parseIDSet(req.RoleIDs, "role")
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.GetByID(txCtx, id)
		if err != nil {
			return loadErr(err, "user", id)
		}

		roles, err := s.roles.FindByIDs(txCtx, roleIDs)
		if err != nil {
			return fmt.Errorf("failed to load roles: %w", err)
		}
		if missing := missingIDs(roleIDs, roleIDsOf(roles)); len(missing) > 0 {
			return errs.Validation("unknown role id(s): %s", joinIDs(missing))
		}

		if err := s.users.ReplaceRoles(txCtx, id, roleIDs); err != nil {
			return fmt.Errorf("failed to assign roles: %w", err)
		}

		names := make([]string, 0, len(roles))
		for _, r := range roles {
			names = append(names, r.Name)
		}
		return s.audit.Log(txCtx, auditEntry(actor, model.ActionAssignRoles, id.String(), user.Username, map[string]any{
			"roles": names,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.resolver.Invalidate(ctx, id)

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "user", id)
	}
	resp := toUserResponse(user)
	return &resp, nil
}

func roleIDsOf(roles []model.Role) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.ID)
	}
	return out
}

// missingIDs returns the members of want absent from have
func missingIDs(want, have []uuid.UUID) []uuid.UUID {
	found := make(map[uuid.UUID]struct{}, len(have))
	for _, id := range have {
		found[id] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range want {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, ", ")
}
