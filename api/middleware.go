package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"mdm/api/handlers/common"
	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/logger"
	"mdm/internal/mdm"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithContext(c.Request.Context()).Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// CORS 跨域中间件，allowedOrigins 为空时允许任意来源
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowedHeaders := strings.Join([]string{
		"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
		"Accept", "Origin", "Cache-Control", "X-Requested-With", "X-Request-ID",
	}, ", ")
	allowedMethods := strings.Join([]string{"POST", "OPTIONS", "GET", "PUT", "DELETE", "PATCH"}, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(allowedOrigins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && stringInSlice(origin, allowedOrigins):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Authenticate JWT 认证中间件：校验令牌后从用户集合解析当前主体，停用用户被拒绝。
// 浏览器的 WebSocket / SSE 无法设置请求头，允许通过 ?token= 传递。
func Authenticate(jwtService *auth.JWTService, svc *mdm.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractTokenFromBearer(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			common.Unauthorized(c, "缺少认证令牌")
			return
		}

		claims, err := jwtService.Validate(c.Request.Context(), token)
		if err != nil {
			common.Unauthorized(c, "令牌验证失败")
			return
		}

		principal, err := svc.Principal(claims.UserID)
		switch {
		case errors.Is(err, governance.ErrNotFound):
			common.Unauthorized(c, "用户不存在")
			return
		case err != nil:
			common.Fail(c, err)
			return
		}

		common.SetPrincipal(c, principal)
		ctx := governance.WithPrincipal(c.Request.Context(), *principal)
		c.Request = c.Request.WithContext(logger.WithActor(ctx, principal.UserID, string(principal.UserRole)))
		c.Next()
	}
}
