package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailingest/backend/internal/auth"
	"mailingest/backend/internal/auth/jwt"
)

// ContextOperator 上下文中保存运维人员名称的键
const ContextOperator = "operator"

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *auth.JWTManager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *auth.JWTManager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log,
	}
}

// RequireScope 要求带有指定权限的运维令牌
func (ja *JWTAuth) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token, scope)
		if err != nil {
			ja.log.Warn("rejected operator token",
				zap.String("scope", scope),
				zap.String("ip", c.ClientIP()),
				zap.Error(err),
			)
			if errors.Is(err, auth.ErrMissingScope) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "insufficient scope",
				})
				return
			}
			msg := "invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		c.Set(ContextOperator, claims.Operator)
		c.Next()
	}
}

// extractBearer 从 Authorization 头提取令牌
func extractBearer(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
