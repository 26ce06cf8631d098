package approval

import (
	"fmt"
	"strings"

	"mdm/internal/governance"
)

// FallbackPolicy 未命中任何规则时的审批人策略
type FallbackPolicy string

const (
	// FallbackDeny 拒绝提交（fail closed）
	FallbackDeny FallbackPolicy = "deny"
	// FallbackDefaultGroup 分配给配置的默认审批组
	FallbackDefaultGroup FallbackPolicy = "default_group"
)

// ParseFallbackPolicy 解析配置值，空值按 deny 处理
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackDeny:
		return FallbackDeny, nil
	case FallbackDefaultGroup:
		return FallbackDefaultGroup, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q", s)
	}
}

// FallbackConfig 兜底审批人配置
type FallbackConfig struct {
	Policy  FallbackPolicy
	UserIDs []string
	RoleIDs []string
}

// Directory 规则引擎与解析器读取的参考数据
type Directory interface {
	ApprovalRules() []governance.ApprovalRule
	Attributes() []governance.Attribute
	Users() []governance.User
}

// Resolution 审批人解析结果
type Resolution struct {
	Approvers      []string         `json:"approvers"`
	TriggeredRules []string         `json:"triggeredRules"`
	Fallback       bool             `json:"fallback"`
	Evaluations    []RuleEvaluation `json:"evaluations"`
	// Denied 仅模拟时填写：兜底策略拒绝的原因
	Denied string `json:"denied,omitempty"`
}

// ApproverResolver 根据命中规则计算审批人集合
type ApproverResolver struct {
	engine   *RuleEngine
	dir      Directory
	fallback FallbackConfig
}

// NewApproverResolver 创建解析器
func NewApproverResolver(engine *RuleEngine, dir Directory, fallback FallbackConfig) *ApproverResolver {
	if engine == nil {
		engine = NewRuleEngine()
	}
	if fallback.Policy == "" {
		fallback.Policy = FallbackDeny
	}
	return &ApproverResolver{engine: engine, dir: dir, fallback: fallback}
}

// Fallback 返回兜底策略
func (r *ApproverResolver) Fallback() FallbackConfig {
	return r.fallback
}

// Resolve 评估规则并解析审批人。无人可审批且策略为 deny 时返回 ValidationError，
// 此时 Resolution 仍包含评估明细。
func (r *ApproverResolver) Resolve(c Candidate) (*Resolution, error) {
	users := r.dir.Users()
	res := &Resolution{
		Evaluations: r.engine.Evaluate(r.dir.ApprovalRules(), r.dir.Attributes(), c),
	}

	var approvers []string
	for _, ev := range res.Evaluations {
		if !ev.Triggered {
			continue
		}
		res.TriggeredRules = append(res.TriggeredRules, ev.RuleID)
		approvers = append(approvers, roleMembers(users, ev.AssignedRoles)...)
		approvers = append(approvers, ev.AssignedUsers...)
	}
	res.Approvers = dedupStrings(approvers)
	if len(res.Approvers) > 0 {
		return res, nil
	}

	res.Fallback = true
	if r.fallback.Policy != FallbackDefaultGroup {
		return res, fmt.Errorf("%w: no approval rule resolves an approver for %s and the fallback policy is %s",
			governance.ErrValidation, describe(c), FallbackDeny)
	}
	res.Approvers = dedupStrings(mergeStringSlices(r.fallback.UserIDs, roleMembers(users, r.fallback.RoleIDs)))
	if len(res.Approvers) == 0 {
		return res, fmt.Errorf("%w: default approver group is empty", governance.ErrValidation)
	}
	return res, nil
}

// roleMembers 返回 roleId 属于 roleIDs 的活跃用户
func roleMembers(users []governance.User, roleIDs []string) []string {
	if len(roleIDs) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	var members []string
	for _, u := range users {
		if u.Status == governance.StatusInactive {
			continue
		}
		if _, ok := wanted[u.RoleID]; ok {
			members = append(members, u.ID)
		}
	}
	return members
}

func describe(c Candidate) string {
	if c.EntityType != "" {
		return fmt.Sprintf("%s (%s)", c.Kind, c.EntityType)
	}
	return string(c.Kind)
}

func mergeStringSlices(values ...[]string) []string {
	var merged []string
	for _, slice := range values {
		if len(slice) == 0 {
			continue
		}
		merged = append(merged, slice...)
	}
	return merged
}

func dedupStrings(items []string) []string {
	set := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		val := strings.TrimSpace(item)
		if val == "" {
			continue
		}
		if _, ok := set[val]; ok {
			continue
		}
		set[val] = struct{}{}
		result = append(result, val)
	}
	return result
}
