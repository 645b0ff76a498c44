package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nexora-chat/internal/model"
	"nexora-chat/internal/pkg/jwtutil"
	"nexora-chat/internal/transport/http/response"
)

const (
	ContextUserIDKey = "user_id"
	ContextEmailKey  = "email"
	ContextRoleKey   = "role"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextEmailKey, claims.Email)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}

// UserLookup loads the account behind a token.
type UserLookup interface {
	GetUserByID(id uint) (*model.User, error)
}

// RequireRole must run after AuthJWT. The role is read from the user store on
// every request, so a demoted or deleted account loses access before its token
// expires.
func RequireRole(users UserLookup, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
			c.Abort()
			return
		}
		user, err := users.GetUserByID(userID)
		if err != nil {
			_ = c.Error(err)
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch current user failed")
			c.Abort()
			return
		}
		if user == nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
			c.Abort()
			return
		}
		if user.Role != role {
			response.Error(c, http.StatusForbidden, response.CodeForbidden, role+" role required")
			c.Abort()
			return
		}
		c.Set(ContextRoleKey, user.Role)
		c.Next()
	}
}

func UserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}
