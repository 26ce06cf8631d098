package dashboard

import (
	"mdm/api/handlers/common"
	"mdm/internal/mdm"

	"github.com/gin-gonic/gin"
)

// Handler 仪表盘统计
type Handler struct {
	svc *mdm.Service
}

// NewHandler 创建 Handler 实例
func NewHandler(svc *mdm.Service) *Handler {
	return &Handler{svc: svc}
}

// Stats 记录数量、待审批数与当日审批结果
// GET /api/v1/dashboard/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(common.CurrentPrincipal(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, stats)
}
