package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID 上游网关认证后注入的用户 id。
	HeaderUserID = "X-User-Id"
	ctxUserID    = "user_id"
)

// RequireUser 要求请求带合法的 X-User-Id。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "缺少或非法的 X-User-Id",
			})
			return
		}
		c.Set(ctxUserID, id)
		c.Next()
	}
}

// UserIDFrom 读取 RequireUser 写入的用户 id。
func UserIDFrom(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// RequireAdmin 简单的管理员令牌校验（网关回调用）。
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "admin token 无效",
			})
			return
		}
		c.Next()
	}
}
