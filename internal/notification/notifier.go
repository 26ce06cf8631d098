// Package notification 投递审批事件：在线用户走 WebSocket，离线消息暂存后补发，
// 可选 Webhook 推送到外部系统。
package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mdm/internal/governance"
	"mdm/internal/workflow/approval"
)

// Message 推送给用户的审批通知
type Message struct {
	Type       approval.EventType        `json:"type"`
	Subject    string                    `json:"subject"`
	RequestID  string                    `json:"requestId"`
	EntityType governance.Kind           `json:"entityType"`
	EntityID   string                    `json:"entityId"`
	Status     governance.ApprovalStatus `json:"status"`
	ActorID    string                    `json:"actorId"`
	Comments   string                    `json:"comments,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// NewMessage 由审批事件构造通知
func NewMessage(evt approval.ApprovalEvent) Message {
	return Message{
		Type:       evt.Type,
		Subject:    subject(evt),
		RequestID:  evt.RequestID,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Status:     evt.Status,
		ActorID:    evt.ActorID,
		Comments:   evt.Comments,
		Timestamp:  evt.OccurredAt,
	}
}

func subject(evt approval.ApprovalEvent) string {
	switch evt.Type {
	case approval.EventSubmitted:
		return fmt.Sprintf("%s %s is waiting for your approval", evt.EntityType, evt.EntityID)
	case approval.EventApproved:
		return fmt.Sprintf("%s %s was approved", evt.EntityType, evt.EntityID)
	case approval.EventRejected:
		return fmt.Sprintf("%s %s was rejected", evt.EntityType, evt.EntityID)
	}
	return fmt.Sprintf("%s %s: %s", evt.EntityType, evt.EntityID, evt.Status)
}

// WebSocketNotifier 通过 hub 推送给事件接收人
type WebSocketNotifier struct {
	hub *WebSocketHub
}

// NewWebSocketNotifier 创建 WebSocket 通知器
func NewWebSocketNotifier(hub *WebSocketHub) *WebSocketNotifier {
	return &WebSocketNotifier{hub: hub}
}

// NotifyApproval 实现 approval.Notifier
func (ws *WebSocketNotifier) NotifyApproval(ctx context.Context, evt approval.ApprovalEvent) error {
	if ws == nil || ws.hub == nil {
		return errors.New("WebSocket hub 未配置")
	}
	msg := NewMessage(evt)
	var errs []error
	for _, userID := range evt.Recipients() {
		if err := ws.hub.SendToUser(ctx, userID, msg); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookNotifier 将审批事件 POST 到外部地址
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器，URL 为空时返回 nil
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	if config.URL == "" {
		return nil
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// NotifyApproval 实现 approval.Notifier
func (w *WebhookNotifier) NotifyApproval(ctx context.Context, evt approval.ApprovalEvent) error {
	payload, err := json.Marshal(map[string]any{
		"event":      string(evt.Type),
		"message":    NewMessage(evt),
		"recipients": evt.Recipients(),
	})
	if err != nil {
		return fmt.Errorf("序列化 Webhook 负载失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建 Webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mdm-governance-notifier/1.0")
	if w.config.Secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(payload, w.config.Secret))
	}
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态: %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// MultiNotifier 依次调用所有通道，汇总错误
type MultiNotifier struct {
	notifiers []approval.Notifier
}

// NewMultiNotifier 创建多通道通知器，忽略 nil 通道
func NewMultiNotifier(notifiers ...approval.Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if w, ok := n.(*WebhookNotifier); ok && w == nil {
			continue
		}
		m.notifiers = append(m.notifiers, n)
	}
	return m
}

// NotifyApproval 实现 approval.Notifier
func (m *MultiNotifier) NotifyApproval(ctx context.Context, evt approval.ApprovalEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyApproval(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len 返回有效通道数
func (m *MultiNotifier) Len() int { return len(m.notifiers) }
