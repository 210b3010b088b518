package middleware

import (
	"net/http"
	"strings"
	"time"

	"backoffice/internal/authz"
	"backoffice/internal/errs"
	"backoffice/internal/service"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	principalKey = "principal"
	cookieName   = "access_token"
)

// tokenFromRequest reads the access_token cookie, then the Bearer header
func tokenFromRequest(c *gin.Context) (string, bool) {
	if tok, err := c.Cookie(cookieName); err == nil && tok != "" {
		return tok, true
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", true
	}
	return parts[1], true
}

// Authenticate resolves the caller into a Principal. Requests without a
// token continue as anonymous; a token that fails to verify is rejected.
func Authenticate(secret []byte, resolver service.PrincipalResolver, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := tokenFromRequest(c)
		if !present {
			c.Set(principalKey, authz.Anonymous())
			c.Next()
			return
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
			return
		}

		userID, username, err := service.ParseToken(secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid or expired token"))
			return
		}

		p, err := resolver.Resolve(c.Request.Context(), userID)
		if err != nil {
			if errs.IsPermission(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
				return
			}
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to resolve principal")
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
			return
		}
		if p.Username == "" {
			p.Username = username
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the caller set by Authenticate, or the anonymous principal
func PrincipalFrom(c *gin.Context) authz.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(authz.Principal); ok {
			return p
		}
	}
	return authz.Anonymous()
}

// RequireAuth rejects anonymous callers
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !PrincipalFrom(c).Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		c.Next()
	}
}

// SetTokenCookie stores the access token as an HttpOnly cookie.
// Release deployments are cross-origin and need SameSite=None with Secure.
func SetTokenCookie(c *gin.Context, token string, ttl time.Duration, release bool) {
	sameSite, secure := cookieMode(release)
	c.SetSameSite(sameSite)
	c.SetCookie(cookieName, token, int(ttl.Seconds()), "/", "", secure, true)
}

// ClearTokenCookie expires the access token cookie
func ClearTokenCookie(c *gin.Context, release bool) {
	sameSite, secure := cookieMode(release)
	c.SetSameSite(sameSite)
	c.SetCookie(cookieName, "", -1, "/", "", secure, true)
}

func cookieMode(release bool) (http.SameSite, bool) {
	if release {
		return http.SameSiteNoneMode, true
	}
	return http.SameSiteLaxMode, false
}
