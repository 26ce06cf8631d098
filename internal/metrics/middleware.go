package metrics

import (
	"net/http"
	"strconv"
	"time"

	"mdm/internal/governance"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware 按路由模板统计请求量、延迟，并按系统角色统计被拒绝的请求
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := routeOf(c)
		status := c.Writer.Status()
		APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			APIResponseSize.WithLabelValues(c.Request.Method, route).Observe(float64(size))
		}

		switch status {
		case http.StatusUnauthorized:
			AccessDeniedTotal.WithLabelValues(route, "anonymous", "unauthenticated").Inc()
		case http.StatusForbidden:
			role := "unknown"
			if p, ok := governance.PrincipalFromContext(c.Request.Context()); ok {
				role = string(p.UserRole)
			}
			AccessDeniedTotal.WithLabelValues(route, role, "forbidden").Inc()
		}
	}
}

// routeOf 使用路由模板（如 /api/v1/categories/:id），未匹配的路径统一归类
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
