package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taleBook/internal/auth"
)

const usernameKey = "username"

// TokenValidator 由 *auth.TokenService 实现。
type TokenValidator interface {
	Validate(token string) (*auth.TokenClaims, error)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware 校验访问令牌并将 username 注入上下文。
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(usernameKey, claims.Username)
		c.Next()
	}
}

// GetUsername 返回 AuthMiddleware 注入的用户名。
func GetUsername(c *gin.Context) string {
	return c.GetString(usernameKey)
}
