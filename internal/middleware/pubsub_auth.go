package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

// TokenValidator 校验 Google 签发的 OIDC 令牌，*idtoken.Validator 满足该接口
type TokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// PushAuth 校验 Pub/Sub 推送请求携带的 OIDC 令牌。
// audience 为空时不做校验（推送端点只在内网暴露的部署方式）。
// serviceAccount 非空时还要求令牌属于该服务账号。
func PushAuth(validator TokenValidator, audience, serviceAccount string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if audience == "" {
			c.Next()
			return
		}

		token := extractBearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing push token"})
			return
		}

		payload, err := validator.Validate(c.Request.Context(), token, audience)
		if err != nil {
			log.Warn("rejected push token", zap.String("ip", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid push token"})
			return
		}

		if serviceAccount != "" {
			email, _ := payload.Claims["email"].(string)
			if email != serviceAccount {
				log.Warn("push token from unexpected account", zap.String("email", email))
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unexpected push identity"})
				return
			}
		}

		c.Next()
	}
}
