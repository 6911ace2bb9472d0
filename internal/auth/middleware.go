package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenRVCore/internal/types"
)

const (
	CtxPermissions = "permissions"
	CtxUsername    = "username"
)

// AuthMiddleware validates the bearer token and stores the caller's
// permissions on the gin context.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("unauthorized", "missing or malformed authorization header", nil))
			return
		}

		if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
			c.Set(CtxPermissions, RolePermissions(claims.Role))
			c.Set(CtxUsername, claims.Username)
			c.Next()
			return
		}

		permissions, err := a.ValidateMachineToken(c.Request.Context(), token, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("unauthorized", "invalid or expired token", nil))
			return
		}

		c.Set(CtxPermissions, permissions)
		c.Next()
	}
}

// RequirePermission aborts with 403 unless the caller holds required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, _ := c.Get(CtxPermissions)
		permissions, _ := perms.([]Permission)
		if !HasPermission(permissions, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("forbidden", "insufficient permissions", gin.H{"required": string(required)}))
			return
		}
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
