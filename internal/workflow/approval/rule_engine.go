package approval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mdm/internal/governance"
)

// Candidate 待评估的候选记录
type Candidate struct {
	Kind governance.Kind
	// EntityType 仅 Entity 记录使用，对应业务类型（如 Product）
	EntityType string
	// AttributeValues Entity 的属性值；其他记录为空
	AttributeValues map[string]any
	// Fields 候选记录的顶层 JSON 字段
	Fields map[string]any
}

// NewCandidate 从记录 JSON 构造候选对象
func NewCandidate(kind governance.Kind, data json.RawMessage) (Candidate, error) {
	c := Candidate{Kind: kind, Fields: map[string]any{}}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.Fields); err != nil {
		return c, fmt.Errorf("%w: 候选数据必须是 JSON 对象: %v", governance.ErrValidation, err)
	}
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if kind == governance.KindEntity {
		if et, ok := c.Fields["entityType"].(string); ok {
			c.EntityType = et
		}
		if av, ok := c.Fields["attributeValues"].(map[string]any); ok {
			c.AttributeValues = av
		}
	}
	return c, nil
}

// lookup 优先读取 attributeValues，缺失时回退到顶层字段
func (c Candidate) lookup(field string) (any, bool) {
	if v, ok := c.AttributeValues[field]; ok {
		return v, true
	}
	v, ok := c.Fields[field]
	return v, ok
}

// ConditionResult 单个条件的评估明细
type ConditionResult struct {
	AttributeID string              `json:"attributeId"`
	FieldName   string              `json:"fieldName"`
	Operator    governance.Operator `json:"operator"`
	Expected    any                 `json:"expected"`
	Actual      any                 `json:"actual,omitempty"`
	Found       bool                `json:"found"`
	Matched     bool                `json:"matched"`
}

// RuleEvaluation 规则评估结果
type RuleEvaluation struct {
	RuleID        string            `json:"ruleId"`
	RuleName      string            `json:"ruleName"`
	Triggered     bool              `json:"triggered"`
	Conditions    []ConditionResult `json:"conditions"`
	AssignedRoles []string          `json:"assignedRoles"`
	AssignedUsers []string          `json:"assignedUsers,omitempty"`
}

// RuleEngine 审批规则引擎，无状态，规则与属性由调用方提供
type RuleEngine struct{}

// NewRuleEngine 创建规则引擎
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{}
}

// Applies 判断规则是否在线且适用于候选记录
func (e *RuleEngine) Applies(rule governance.ApprovalRule, c Candidate) bool {
	if !rule.Live() {
		return false
	}
	target := strings.TrimSpace(rule.EntityType)
	if strings.EqualFold(target, string(c.Kind)) || strings.EqualFold(target, c.Kind.Slug()) {
		return true
	}
	return c.EntityType != "" && strings.EqualFold(target, strings.TrimSpace(c.EntityType))
}

// Evaluate 按顺序评估所有适用规则
func (e *RuleEngine) Evaluate(rules []governance.ApprovalRule, attributes []governance.Attribute, c Candidate) []RuleEvaluation {
	fieldNames := make(map[string]string, len(attributes))
	for _, attr := range attributes {
		fieldNames[attr.ID] = attr.FieldName
	}

	results := make([]RuleEvaluation, 0, len(rules))
	for _, rule := range rules {
		if !e.Applies(rule, c) {
			continue
		}
		results = append(results, e.EvaluateRule(rule, fieldNames, c))
	}
	return results
}

// EvaluateRule 评估单条规则，不检查规则是否在线
func (e *RuleEngine) EvaluateRule(rule governance.ApprovalRule, fieldNames map[string]string, c Candidate) RuleEvaluation {
	result := RuleEvaluation{
		RuleID:        rule.ID,
		RuleName:      rule.RuleName,
		Conditions:    make([]ConditionResult, 0, len(rule.Conditions)),
		AssignedRoles: append([]string(nil), rule.AssignedRoles...),
		AssignedUsers: append([]string(nil), rule.AssignedUsers...),
	}
	if len(rule.Conditions) == 0 {
		result.Triggered = true // 没有条件，默认命中
		return result
	}

	var combined bool
	var join governance.LogicOperator
	for i, cond := range rule.Conditions {
		cr := e.evaluateCondition(cond, fieldNames, c)
		result.Conditions = append(result.Conditions, cr)

		switch {
		case i == 0:
			combined = cr.Matched
		case join == governance.LogicOr:
			combined = combined || cr.Matched
		default:
			combined = combined && cr.Matched
		}
		join = cond.LogicOperator
	}
	result.Triggered = combined
	return result
}

// evaluateCondition 评估单个条件
func (e *RuleEngine) evaluateCondition(cond governance.RuleCondition, fieldNames map[string]string, c Candidate) ConditionResult {
	field := cond.AttributeID
	if name, ok := fieldNames[cond.AttributeID]; ok && name != "" {
		field = name
	}
	cr := ConditionResult{
		AttributeID: cond.AttributeID,
		FieldName:   field,
		Operator:    cond.Operator,
		Expected:    cond.Value,
	}

	value, found := c.lookup(field)
	if !found || value == nil {
		return cr
	}
	cr.Actual = value
	cr.Found = true
	cr.Matched = matchOperator(cond.Operator, value, cond.Value)
	return cr
}

func matchOperator(op governance.Operator, actual, expected any) bool {
	switch op {
	case governance.OpEquals:
		return stringify(actual) == stringify(expected)
	case governance.OpNotEquals:
		return stringify(actual) != stringify(expected)
	case governance.OpIn:
		return checkIn(actual, expected)
	case governance.OpNotIn:
		return !checkIn(actual, expected)
	case governance.OpRegex:
		return checkRegex(actual, expected)
	case governance.OpGreaterThan:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a > b })
	case governance.OpLessThan:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a < b })
	case governance.OpGreaterEqual:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a >= b })
	case governance.OpLessEqual:
		return compareNumeric(actual, expected, func(a, b float64) bool { return a <= b })
	default:
		return false
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// compareNumeric 两侧均需可解析为数值，否则不匹配
func compareNumeric(a, b any, cmp func(a, b float64) bool) bool {
	af, ok := toFloat64(a)
	if !ok {
		return false
	}
	bf, ok := toFloat64(b)
	if !ok {
		return false
	}
	return cmp(af, bf)
}

// toFloat64 转换为 float64
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// SetValues 将条件值展开为集合：列表或逗号分隔字符串
func SetValues(list any) []string {
	switch v := list.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, strings.TrimSpace(stringify(item)))
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, strings.TrimSpace(item))
		}
		return out
	case string:
		items := strings.Split(v, ",")
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, strings.TrimSpace(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{strings.TrimSpace(stringify(v))}
	}
}

// checkIn 检查是否在集合中
func checkIn(value any, list any) bool {
	strValue := strings.TrimSpace(stringify(value))
	for _, item := range SetValues(list) {
		if item == strValue {
			return true
		}
	}
	return false
}

// checkRegex 正则匹配，无效的表达式视为不匹配
func checkRegex(value, pattern any) bool {
	re, err := regexp.Compile(stringify(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(stringify(value))
}
