package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"mdm/internal/worker/tasks"
	"mdm/internal/workflow/approval"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type ApprovalHandler struct {
	notifier approval.Notifier
	logger   *zap.Logger
}

func NewApprovalHandler(notifier approval.Notifier, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		notifier: notifier,
		logger:   logger,
	}
}

func (h *ApprovalHandler) HandleApprovalNotify(ctx context.Context, t *asynq.Task) error {
	var p tasks.ApprovalNotifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// 载荷损坏，重试无意义
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	h.logger.Debug("投递审批通知",
		zap.String("request_id", p.Event.RequestID),
		zap.String("event", string(p.Event.Type)),
	)

	if err := h.notifier.NotifyApproval(ctx, p.Event); err != nil {
		h.logger.Warn("审批通知投递失败",
			zap.String("request_id", p.Event.RequestID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
