package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/cache"
	"backoffice/internal/errs"
	"backoffice/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// PrincipalResolver turns an authenticated user id into a Principal with roles
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (authz.Principal, error)
	Invalidate(ctx context.Context, userID uuid.UUID)
	Purge(ctx context.Context)
}

type principalResolver struct {
	users repository.UserRepository
	cache cache.RoleCache
	group singleflight.Group
}

func NewPrincipalResolver(users repository.UserRepository, roleCache cache.RoleCache) PrincipalResolver {
	return &principalResolver{users: users, cache: roleCache}
}

func (r *principalResolver) Resolve(ctx context.Context, userID uuid.UUID) (authz.Principal, error) {
	if roles, ok := r.cache.Get(ctx, userID); ok {
		return authz.Principal{ID: userID, Roles: roles}, nil
	}

	v, err, _ := r.group.Do(userID.String(), func() (any, error) {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, errs.Unauthenticated("account %s no longer exists", userID)
			}
			return nil, fmt.Errorf("failed to resolve principal: %w", err)
		}

		roles := user.RoleNames()
		if len(roles) == 0 {
			roles = []string{authz.RoleUser}
		}
		r.cache.Set(ctx, userID, roles)
		return authz.Principal{ID: user.ID, Username: user.Username, Roles: roles}, nil
	})
	if err != nil {
		return authz.Anonymous(), err
	}
	return v.(authz.Principal), nil
}

func (r *principalResolver) Invalidate(ctx context.Context, userID uuid.UUID) {
	r.cache.Invalidate(ctx, userID)
}

func (r *principalResolver) Purge(ctx context.Context) {
	r.cache.Purge(ctx)
}

// TokenClaims is the JWT payload issued at login
type TokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the user
func IssueToken(secret []byte, ttl time.Duration, userID uuid.UUID, username string) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	claims := TokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies a token and returns its subject and username
func ParseToken(secret []byte, raw string) (uuid.UUID, string, error) {
	var claims TokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = errors.New("token is not valid")
		}
		return uuid.Nil, "", errs.Unauthenticated("invalid or expired token: %v", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", errs.Unauthenticated("token subject is not a user id")
	}
	return id, claims.Username, nil
}
