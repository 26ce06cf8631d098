package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mdm/internal/governance"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusMiddlewareCountsDenials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(PrometheusMiddleware())
	router.DELETE("/categories/:id", func(c *gin.Context) {
		ctx := governance.WithPrincipal(c.Request.Context(), governance.Principal{UserID: "u1", UserRole: governance.UserRoleChecker, Active: true})
		c.Request = c.Request.WithContext(ctx)
		c.AbortWithStatus(http.StatusForbidden)
	})
	router.GET("/categories", func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) })

	forbidden := AccessDeniedTotal.WithLabelValues("/categories/:id", "Checker", "forbidden")
	anonymous := AccessDeniedTotal.WithLabelValues("/categories", "anonymous", "unauthenticated")
	requests := APIRequestsTotal.WithLabelValues(http.MethodDelete, "/categories/:id", "403")
	beforeForbidden := testutil.ToFloat64(forbidden)
	beforeAnonymous := testutil.ToFloat64(anonymous)
	beforeRequests := testutil.ToFloat64(requests)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/categories/c-1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/categories/c-2", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/categories", nil))

	assert.Equal(t, beforeForbidden+2, testutil.ToFloat64(forbidden))
	assert.Equal(t, beforeAnonymous+1, testutil.ToFloat64(anonymous))
	assert.Equal(t, beforeRequests+2, testutil.ToFloat64(requests))
}

func TestRouteOfUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	assert.Equal(t, "unmatched", routeOf(c))
}
