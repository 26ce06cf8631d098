package audit

import (
	"net/http"
	"strconv"
	"time"

	"mdm/api/handlers/common"
	"mdm/internal/audit"
	"mdm/internal/governance"
	"mdm/internal/mdm"
	"mdm/internal/repository"

	"github.com/gin-gonic/gin"
)

// Handler 审计日志查询与导出
type Handler struct {
	svc      *mdm.Service
	exporter *audit.Exporter
}

// NewHandler 创建 Handler 实例
func NewHandler(svc *mdm.Service) *Handler {
	return &Handler{svc: svc, exporter: audit.NewExporter(svc)}
}

// List 审计日志，支持 entityType、entityId、userId、action、limit 过滤
// GET /api/v1/audit-logs
func (h *Handler) List(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	logs, err := h.svc.AuditLogs(common.CurrentPrincipal(c), filter)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.List(c, logs, len(logs))
}

// Export 导出审计日志，format=csv|json，from/to 为 RFC3339 时间
// GET /api/v1/audit-logs/export
func (h *Handler) Export(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	format, err := audit.ParseFormat(c.Query("format"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	req := audit.ExportRequest{
		Principal: common.CurrentPrincipal(c),
		Format:    format,
		Filter:    filter,
	}
	if req.From, ok = bindTime(c, "from"); !ok {
		return
	}
	if req.To, ok = bindTime(c, "to"); !ok {
		return
	}

	result, err := h.exporter.Export(c.Request.Context(), req)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Header("X-Total-Count", strconv.Itoa(result.TotalCount))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func bindFilter(c *gin.Context) (repository.AuditFilter, bool) {
	filter := repository.AuditFilter{
		EntityID: c.Query("entityId"),
		UserID:   c.Query("userId"),
		Action:   governance.AuditAction(c.Query("action")),
	}
	if raw := c.Query("entityType"); raw != "" {
		kind, err := governance.ParseKind(raw)
		if err != nil {
			common.Fail(c, err)
			return filter, false
		}
		filter.EntityType = kind
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			common.BadRequest(c, "limit 必须为非负整数")
			return filter, false
		}
		filter.Limit = limit
	}
	return filter, true
}

func bindTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		common.BadRequest(c, key+" 必须为 RFC3339 时间")
		return nil, false
	}
	return &t, true
}
