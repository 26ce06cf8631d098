package api

import (
	approvalHandlers "mdm/api/handlers/approvals"
	auditHandlers "mdm/api/handlers/audit"
	authHandlers "mdm/api/handlers/auth"
	"mdm/api/handlers/dashboard"
	"mdm/api/handlers/records"
)

// Handlers 所有 HTTP 处理器
type Handlers struct {
	Records   *records.Handler
	Approvals *approvalHandlers.Handler
	WebSocket *approvalHandlers.WebSocketHandler
	Auth      *authHandlers.AuthHandler
	Dashboard *dashboard.Handler
	Audit     *auditHandlers.Handler
}

// NewHandlers 基于应用容器构建处理器
func NewHandlers(app *App) *Handlers {
	return &Handlers{
		Records:   records.NewHandler(app.Service),
		Approvals: approvalHandlers.NewHandler(app.Service),
		WebSocket: approvalHandlers.NewWebSocketHandler(app.Hub, app.Config.Server.AllowedOrigins),
		Auth:      authHandlers.NewAuthHandler(app.Service, app.JWT),
		Dashboard: dashboard.NewHandler(app.Service),
		Audit:     auditHandlers.NewHandler(app.Service),
	}
}
