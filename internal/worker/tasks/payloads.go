package tasks

import "mdm/internal/workflow/approval"

// Task Types
const (
	TypeApprovalNotify = "approval:notify"
)

// Queues
const (
	QueueCritical = "critical" // 待审批提醒
	QueueDefault  = "default"  // 审批结果回执
)

// ApprovalNotifyPayload 审批通知任务载荷
type ApprovalNotifyPayload struct {
	Event approval.ApprovalEvent `json:"event"`
}
