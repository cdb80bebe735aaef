package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/pkg/errcode"
	"github.com/xxxsen/repoqa/internal/pkg/jwt"
	"github.com/xxxsen/repoqa/internal/pkg/response"
)

const ContextUserIDKey = "user_id"

// JWTAuth accepts a bearer token in the Authorization header. Browsers
// cannot set headers on an EventSource, so the token query parameter is
// accepted as well.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(token, secret)
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Debug("reject token", zap.String("path", c.Request.URL.Path), zap.Error(err))
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

func UserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}
