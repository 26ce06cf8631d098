package approvals

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"mdm/api/handlers/common"
	"mdm/internal/governance"
	"mdm/internal/mdm"
	"mdm/internal/workflow/approval"

	"github.com/gin-gonic/gin"
)

// Handler 审批请求的提交、决策、查询与规则模拟
type Handler struct {
	svc *mdm.Service
}

// NewHandler 创建 Handler 实例
func NewHandler(svc *mdm.Service) *Handler {
	return &Handler{svc: svc}
}

// SubmitRequest 提交审批；EntityID 为空表示新建记录的提案
type SubmitRequest struct {
	EntityType string          `json:"entityType" binding:"required"`
	EntityID   string          `json:"entityId"`
	Data       json.RawMessage `json:"data"`
}

// DecisionRequest 审批决策
type DecisionRequest struct {
	Comments string `json:"comments"`
}

// SimulateRequest 规则模拟
type SimulateRequest struct {
	EntityType string          `json:"entityType" binding:"required"`
	Data       json.RawMessage `json:"data" binding:"required"`
}

// Submit 提交审批
// POST /api/v1/approvals
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	kind, err := governance.ParseKind(req.EntityType)
	if err != nil {
		common.Fail(c, err)
		return
	}
	request, err := h.svc.SubmitForApproval(c.Request.Context(), common.CurrentPrincipal(c), kind, req.EntityID, req.Data)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Created(c, request)
}

// Approve 批准审批请求
// POST /api/v1/approvals/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	request, err := h.svc.Approve(c.Request.Context(), common.CurrentPrincipal(c), c.Param("id"), req.Comments)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, request)
}

// Reject 驳回审批请求，必须填写意见
// POST /api/v1/approvals/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}
	request, err := h.svc.Reject(c.Request.Context(), common.CurrentPrincipal(c), c.Param("id"), req.Comments)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, request)
}

// bindDecision 允许空请求体
func bindDecision(c *gin.Context) (DecisionRequest, bool) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.BadRequest(c, "请求参数错误: "+err.Error())
		return req, false
	}
	return req, true
}

// List 审批请求列表，支持 status、entityType、entityId、requestedBy、assignedTo、search 过滤；
// assignedTo=me 表示当前用户待办
// GET /api/v1/approvals
func (h *Handler) List(c *gin.Context) {
	p := common.CurrentPrincipal(c)
	filter := approval.ListFilter{
		Status:      governance.ApprovalStatus(c.Query("status")),
		EntityID:    c.Query("entityId"),
		RequestedBy: c.Query("requestedBy"),
		AssignedTo:  c.Query("assignedTo"),
		Search:      c.Query("search"),
	}
	if raw := c.Query("entityType"); raw != "" {
		kind, err := governance.ParseKind(raw)
		if err != nil {
			common.Fail(c, err)
			return
		}
		filter.EntityType = kind
	}
	if p != nil {
		if strings.EqualFold(filter.AssignedTo, "me") {
			filter.AssignedTo = p.UserID
		}
		if strings.EqualFold(filter.RequestedBy, "me") {
			filter.RequestedBy = p.UserID
		}
	}

	items, err := h.svc.ApprovalRequests(p, filter)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.List(c, items, len(items))
}

// Get 审批请求详情
// GET /api/v1/approvals/:id
func (h *Handler) Get(c *gin.Context) {
	request, err := h.svc.ApprovalRequest(common.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, request)
}

// Simulate 模拟规则匹配，不产生任何变更
// POST /api/v1/approval-rules/simulate
func (h *Handler) Simulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	kind, err := governance.ParseKind(req.EntityType)
	if err != nil {
		common.Fail(c, err)
		return
	}
	resolution, err := h.svc.Simulate(common.CurrentPrincipal(c), kind, req.Data)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, resolution)
}

// Events 以 SSE 推送所有审批事件
// GET /api/v1/approvals/events
func (h *Handler) Events(c *gin.Context) {
	events, cancel, err := h.svc.ApprovalEvents(common.CurrentPrincipal(c))
	if err != nil {
		common.Fail(c, err)
		return
	}
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		}
	})
}
