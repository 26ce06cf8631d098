package api

import (
	middlewarepkg "mdm/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, app *App, h *Handlers) {
	v1 := router.Group("/api/v1")

	// 认证 API（公开，不需要 JWT）
	registerAuthRoutes(v1, app, h)

	secured := v1.Group("")
	secured.Use(Authenticate(app.JWT, app.Service))
	registerSecuredRoutes(secured, h)
}

// registerAuthRoutes 注册认证相关路由
func registerAuthRoutes(v1 *gin.RouterGroup, app *App, h *Handlers) {
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", middlewarepkg.RateLimitByEndpoint(app.LoginLimiter), h.Auth.Login)
		authGroup.POST("/logout", Authenticate(app.JWT, app.Service), h.Auth.Logout)
		authGroup.GET("/me", Authenticate(app.JWT, app.Service), h.Auth.Me)
	}
}

// registerSecuredRoutes 注册需要认证的 API 路由；权限由服务层按用户角色校验
func registerSecuredRoutes(api *gin.RouterGroup, h *Handlers) {
	// 治理记录 CRUD 与层级
	h.Records.Register(api)
	api.PUT("/users/:id/password", h.Auth.SetPassword)

	// 审批流
	approvals := api.Group("/approvals")
	{
		approvals.GET("", h.Approvals.List)
		approvals.POST("", h.Approvals.Submit)
		approvals.GET("/events", h.Approvals.Events)
		approvals.GET("/:id", h.Approvals.Get)
		approvals.POST("/:id/approve", h.Approvals.Approve)
		approvals.POST("/:id/reject", h.Approvals.Reject)
	}
	api.POST("/approval-rules/simulate", h.Approvals.Simulate)
	api.GET("/ws/approvals", h.WebSocket.Connect)

	// 仪表盘与审计
	api.GET("/dashboard/stats", h.Dashboard.Stats)
	api.GET("/audit-logs", h.Audit.List)
	api.GET("/audit-logs/export", h.Audit.Export)
}
