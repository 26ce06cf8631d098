package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mdm/internal/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"

	// RequestIDKey gin 上下文中的请求 ID 键
	RequestIDKey = "request_id"

	maxCorrelationIDLen = 128
)

// RequestIDMiddleware 为每个请求分配关联 ID 并注入日志上下文
// 上游传入的 ID 只在长度和字符集合法时沿用，避免污染日志与审计导出
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if !validCorrelationID(requestID) {
			requestID = uuid.NewString()
		}
		traceID := c.GetHeader(HeaderTraceID)
		if !validCorrelationID(traceID) {
			traceID = requestID
		}

		c.Set(RequestIDKey, requestID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)
		c.Next()
	}
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}

// GetRequestID 从 gin 上下文获取请求 ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
