package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mdm/internal/governance"
	"mdm/internal/store"
)

// AuditFilter 审计查询条件，零值字段不过滤
type AuditFilter struct {
	EntityType governance.Kind
	EntityID   string
	UserID     string
	Action     governance.AuditAction
	// Limit 为正时只保留最近的若干条
	Limit int
}

// AuditTrail 只追加的内存审计日志
type AuditTrail struct {
	mu      sync.RWMutex
	entries []governance.AuditLog
	ids     IDGenerator
	now     func() time.Time
}

func NewAuditTrail(ids IDGenerator, now func() time.Time) *AuditTrail {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = time.Now
	}
	return &AuditTrail{ids: ids, now: now}
}

// Load 用持久化的审计日志替换内存内容
func (a *AuditTrail) Load(ctx context.Context, provider store.Provider) error {
	rows, err := provider.LoadAll(ctx, store.CollectionAuditLog)
	if err != nil {
		return fmt.Errorf("load audit log: %w", err)
	}
	entries := make([]governance.AuditLog, 0, len(rows))
	for _, row := range rows {
		var entry governance.AuditLog
		if err := json.Unmarshal(row.Payload, &entry); err != nil {
			return fmt.Errorf("decode audit entry %s: %w", row.ID, err)
		}
		entries = append(entries, entry)
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()
	return nil
}

// NewEntry 生成带新 id 与当前时间的审计记录，所在变更提交后才真正记录
func (a *AuditTrail) NewEntry(action governance.AuditAction, kind governance.Kind, entityID, userID string, changes map[string]any) (governance.AuditLog, error) {
	id, err := a.ids.NewID()
	if err != nil {
		return governance.AuditLog{}, fmt.Errorf("generate audit id: %w", err)
	}
	return governance.AuditLog{
		ID:         id,
		UserID:     userID,
		Action:     action,
		EntityType: kind,
		EntityID:   entityID,
		Timestamp:  a.now(),
		Changes:    cloneChanges(changes),
	}, nil
}

// List 按记录顺序返回匹配的条目
func (a *AuditTrail) List(filter AuditFilter) []governance.AuditLog {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]governance.AuditLog, 0)
	for _, entry := range a.entries {
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && entry.EntityID != filter.EntityID {
			continue
		}
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		out = append(out, copyEntry(entry))
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

func (a *AuditTrail) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *AuditTrail) append(entries ...governance.AuditLog) {
	if len(entries) == 0 {
		return
	}
	a.mu.Lock()
	a.entries = append(a.entries, entries...)
	a.mu.Unlock()
}

func copyEntry(entry governance.AuditLog) governance.AuditLog {
	entry.Changes = cloneChanges(entry.Changes)
	return entry
}

// cloneChanges 深拷贝变更内容，调用方修改返回值不会影响日志本身
func cloneChanges(changes map[string]any) map[string]any {
	if changes == nil {
		return nil
	}
	out := make(map[string]any, len(changes))
	for k, v := range changes {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneChanges(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	}
	return v
}
