package repository

import (
	"encoding/json"
	"fmt"

	"mdm/internal/governance"
)

// Record 由受治理记录结构体的指针实现
type Record[T any] interface {
	*T
	Meta() *governance.BaseEntity
	Clone() *T
}

// Check 在记录持久化前校验。执行时持有记录锁，跨记录的约束另由类型锁保护
type Check[T any] func(next *T) error

// protectedFields 不能通过补丁修改
var protectedFields = []string{"id", "createdBy", "createdDate", "approvalStatus"}

// redactedFields 正常写入记录，审计中打码
var redactedFields = map[string]bool{"passwordHash": true}

// Patch 以 JSON 字段名为键的部分记录，只替换出现的顶层字段
type Patch map[string]json.RawMessage

// NewPatch 将结构体或 map 转为补丁
func NewPatch(v any) (Patch, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode patch: %v", governance.ErrValidation, err)
	}
	return ParsePatch(raw)
}

// ParsePatch 解析 JSON 对象
func ParsePatch(raw []byte) (Patch, error) {
	if len(raw) == 0 {
		return Patch{}, nil
	}
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: patch must be a JSON object: %v", governance.ErrValidation, err)
	}
	if p == nil {
		p = Patch{}
	}
	return p, nil
}

func (p Patch) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Without 返回去掉 keys 后的副本
func (p Patch) Without(keys ...string) Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Changes 解码补丁用于审计
func (p Patch) Changes() map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		if redactedFields[k] {
			out[k] = "[redacted]"
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			decoded = string(v)
		}
		out[k] = decoded
	}
	return out
}

// applyPatch 在 rec 的 JSON 顶层覆盖 patch
func applyPatch[T any](rec *T, patch Patch) error {
	base, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode merged record: %w", err)
	}
	var next T
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("%w: %v", governance.ErrValidation, err)
	}
	*rec = next
	return nil
}
