package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rbignon/speedfog-racing-sub000/internal/utils"
)

// AuthMiddleware 主办方JWT认证中间件
type AuthMiddleware struct {
	jwt *utils.JWTManager
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(jwt *utils.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "NO_TOKEN",
				"message": "缺少认证令牌",
			})
			c.Abort()
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_TOKEN",
				"message": "无效的令牌",
				"details": err.Error(),
			})
			c.Abort()
			return
		}

		c.Set("organizerID", claims.OrganizerID)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// extractToken 从请求中提取令牌
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	return ""
}

// GetOrganizerID 从上下文获取主办方ID
func GetOrganizerID(c *gin.Context) (uint, bool) {
	if id, exists := c.Get("organizerID"); exists {
		if v, ok := id.(uint); ok {
			return v, true
		}
	}
	return 0, false
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	if username, exists := c.Get("username"); exists {
		if name, ok := username.(string); ok {
			return name, true
		}
	}
	return "", false
}
