package mdm

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/workflow/approval"
)

const recentApprovals = 5

// Stats 仪表盘汇总
type Stats struct {
	Counts            map[governance.Kind]int      `json:"counts"`
	ActiveUsers       int                          `json:"activeUsers"`
	PendingApprovals  int                          `json:"pendingApprovals"`
	ApprovedToday     int                          `json:"approvedToday"`
	RejectedToday     int                          `json:"rejectedToday"`
	RecentApprovals   []governance.ApprovalRequest `json:"recentApprovals"`
	// IntegrityWarnings 父节点已不存在的记录
	IntegrityWarnings map[governance.Kind][]string `json:"integrityWarnings,omitempty"`
}

// Stats 统计记录数与审批情况。"今天"按服务时钟的 UTC 日期，以决策时间计
func (s *Service) Stats(p *governance.Principal) (*Stats, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	out := &Stats{Counts: make(map[governance.Kind]int, len(s.collections))}
	for kind, c := range s.collections {
		out.Counts[kind] = c.Count()
		if ids := c.danglingParents(); len(ids) > 0 {
			if out.IntegrityWarnings == nil {
				out.IntegrityWarnings = make(map[governance.Kind][]string)
			}
			out.IntegrityWarnings[kind] = ids
		}
	}
	for _, u := range s.Users.repo.List() {
		if u.Status == governance.StatusActive {
			out.ActiveUsers++
		}
	}

	today := s.now().UTC().Format("2006-01-02")
	requests := s.approvals.List(approval.ListFilter{})
	for _, req := range requests {
		switch req.Status {
		case governance.ApprovalPending:
			out.PendingApprovals++
		case governance.ApprovalApproved, governance.ApprovalRejected:
			if req.ResolvedDate == nil || req.ResolvedDate.UTC().Format("2006-01-02") != today {
				continue
			}
			if req.Status == governance.ApprovalApproved {
				out.ApprovedToday++
			} else {
				out.RejectedToday++
			}
		}
	}
	if len(requests) > recentApprovals {
		requests = requests[:recentApprovals]
	}
	out.RecentApprovals = requests
	return out, nil
}

// AttributeIssue 实体某个属性值的一条提示性问题
type AttributeIssue struct {
	AttributeID string                        `json:"attributeId"`
	FieldName   string                        `json:"fieldName"`
	Rule        governance.ValidationRuleType `json:"rule,omitempty"`
	Message     string                        `json:"message"`
}

// ValidateEntity 按属性的数据类型与校验规则检查实体的属性值。
// 结果仅供参考，不阻止写入
func (s *Service) ValidateEntity(p *governance.Principal, id string) ([]AttributeIssue, error) {
	e, err := s.Entities.Get(p, id)
	if err != nil {
		return nil, err
	}
	return s.validateValues(e), nil
}

func (s *Service) validateValues(e governance.Entity) []AttributeIssue {
	issues := []AttributeIssue{}
	for _, attrID := range e.AttributeIDs {
		attr, err := s.Attributes.repo.Get(attrID)
		if err != nil {
			issues = append(issues, AttributeIssue{AttributeID: attrID, Message: "attribute does not exist"})
			continue
		}
		value, present := e.AttributeValues[attr.FieldName]
		text := ""
		if present && value != nil {
			text = fmt.Sprint(value)
		}
		report := func(rule governance.ValidationRuleType, fallback string, custom string) {
			msg := custom
			if msg == "" {
				msg = fallback
			}
			issues = append(issues, AttributeIssue{AttributeID: attr.ID, FieldName: attr.FieldName, Rule: rule, Message: msg})
		}

		for _, rule := range attr.ValidationRules {
			if rule.Type == governance.ValidationRequired && strings.TrimSpace(text) == "" {
				report(rule.Type, "value is required", rule.Message)
			}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if msg := checkDataType(attr, value, text); msg != "" {
			report("", msg, "")
			continue
		}
		for _, rule := range attr.ValidationRules {
			if !ruleHolds(rule, text) {
				report(rule.Type, fmt.Sprintf("value %q violates %s rule", text, rule.Type), rule.Message)
			}
		}
	}
	return issues
}

func checkDataType(attr governance.Attribute, value any, text string) string {
	switch attr.DataType {
	case governance.DataTypeNumber:
		if _, ok := number(value); !ok {
			return fmt.Sprintf("%q is not a number", text)
		}
	case governance.DataTypeBoolean:
		switch strings.ToLower(text) {
		case "true", "false":
		default:
			return fmt.Sprintf("%q is not a boolean", text)
		}
	case governance.DataTypeDropdown:
		if !contains(attr.PredefinedValues, text) {
			return fmt.Sprintf("%q is not one of %s", text, strings.Join(attr.PredefinedValues, ", "))
		}
	case governance.DataTypeDate:
		if !isDate(text) {
			return fmt.Sprintf("%q is not a date", text)
		}
	}
	return ""
}

// ruleHolds 执行一条校验规则。长度与范围规则接受 [min, max]，
// 或单个边界：最大长度，或不含边界的最小值
func ruleHolds(rule governance.ValidationRule, text string) bool {
	switch rule.Type {
	case governance.ValidationLength:
		n := float64(utf8.RuneCountInString(text))
		if lo, hi, ok := pair(rule.Value); ok {
			return n >= lo && n <= hi
		}
		if limit, ok := number(rule.Value); ok {
			return n <= limit
		}
	case governance.ValidationRange:
		v, ok := number(text)
		if !ok {
			return false
		}
		if lo, hi, ok := pair(rule.Value); ok {
			return v >= lo && v <= hi
		}
		if limit, ok := number(rule.Value); ok {
			return v > limit
		}
	case governance.ValidationRegex:
		re, err := regexp.Compile(fmt.Sprint(rule.Value))
		return err != nil || re.MatchString(text)
	}
	return true
}

func pair(v any) (lo, hi float64, ok bool) {
	b, isList := v.([]any)
	if !isList || len(b) != 2 {
		return 0, 0, false
	}
	lo, okLo := number(b[0])
	hi, okHi := number(b[1])
	return lo, hi, okLo && okHi
}

func isDate(text string) bool {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if _, err := time.Parse(layout, text); err == nil {
			return true
		}
	}
	return false
}
