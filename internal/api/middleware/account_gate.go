package middleware

import (
	"github.com/gin-gonic/gin"
)

// RequireAccountMiddleware 拒绝账号已不在内存镜像中的令牌。
// 远端损坏回落为空库后，旧令牌不能继续访问。
func RequireAccountMiddleware(exists func(username string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !exists(GetUsername(c)) {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}
