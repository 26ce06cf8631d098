package governance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind 受治理的记录集合
type Kind string

const (
	KindCategory     Kind = "Category"
	KindGeography    Kind = "Geography"
	KindRole         Kind = "Role"
	KindUser         Kind = "User"
	KindAttribute    Kind = "Attribute"
	KindEntity       Kind = "Entity"
	KindApprovalRule Kind = "ApprovalRule"
)

// Kinds 按依赖顺序列出全部集合：被引用的集合排在引用方之前
var Kinds = []Kind{
	KindRole,
	KindCategory,
	KindGeography,
	KindUser,
	KindAttribute,
	KindEntity,
	KindApprovalRule,
}

var kindSlugs = map[Kind]string{
	KindCategory:     "categories",
	KindGeography:    "geographies",
	KindRole:         "roles",
	KindUser:         "users",
	KindAttribute:    "attributes",
	KindEntity:       "entities",
	KindApprovalRule: "approval-rules",
}

// Slug 类型的复数形式，用于 URL
func (k Kind) Slug() string {
	return kindSlugs[k]
}

// Hierarchical 该类型记录是否带 parentId
func (k Kind) Hierarchical() bool {
	return k == KindCategory || k == KindGeography || k == KindRole
}

// ParseKind 接受类型名（"Category"）或其 slug（"categories"）
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), s) || kindSlugs[k] == strings.ToLower(s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown record kind %q", ErrValidation, s)
}

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "Draft"
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// UserRole 用户的系统权限角色，与 User.RoleID 引用的业务角色记录无关
type UserRole string

const (
	UserRoleMaker   UserRole = "Maker"
	UserRoleChecker UserRole = "Checker"
	UserRoleAdmin   UserRole = "Admin"
	UserRoleViewer  UserRole = "Viewer"
)

type GeographyType string

const (
	GeographyCountry GeographyType = "Country"
	GeographyState   GeographyType = "State"
	GeographyCity    GeographyType = "City"
	GeographyZone    GeographyType = "Zone"
)

type DataType string

const (
	DataTypeString   DataType = "string"
	DataTypeNumber   DataType = "number"
	DataTypeDropdown DataType = "dropdown"
	DataTypeBoolean  DataType = "boolean"
	DataTypeDate     DataType = "date"
)

type ValidationRuleType string

const (
	ValidationLength   ValidationRuleType = "length"
	ValidationRange    ValidationRuleType = "range"
	ValidationRegex    ValidationRuleType = "regex"
	ValidationRequired ValidationRuleType = "required"
)

type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpRegex        Operator = "regex"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
)

// Valid op 是否为支持的条件运算符
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpRegex,
		OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Numeric op 是否比较数值
func (op Operator) Numeric() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

type AuditAction string

const (
	ActionCreate            AuditAction = "CREATE"
	ActionUpdate            AuditAction = "UPDATE"
	ActionDelete            AuditAction = "DELETE"
	ActionSubmitForApproval AuditAction = "SUBMIT_FOR_APPROVAL"
	ActionApprove           AuditAction = "APPROVE"
	ActionReject            AuditAction = "REJECT"
)

// BaseEntity 所有受治理记录的公共字段
type BaseEntity struct {
	ID             string         `json:"id"`
	CreatedBy      string         `json:"createdBy"`
	CreatedDate    time.Time      `json:"createdDate"`
	ModifiedBy     string         `json:"modifiedBy,omitempty"`
	ModifiedDate   *time.Time     `json:"modifiedDate,omitempty"`
	Status         Status         `json:"status"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
}

// Meta 供泛型代码访问公共字段
func (b *BaseEntity) Meta() *BaseEntity { return b }

func (b BaseEntity) cloneBase() BaseEntity {
	out := b
	if b.ModifiedDate != nil {
		t := *b.ModifiedDate
		out.ModifiedDate = &t
	}
	return out
}

type Category struct {
	BaseEntity
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

func (c Category) NodeID() string       { return c.ID }
func (c Category) ParentNodeID() string { return c.ParentID }

func (c *Category) Clone() *Category {
	out := *c
	out.BaseEntity = c.cloneBase()
	return &out
}

type Geography struct {
	BaseEntity
	Name     string        `json:"name"`
	Type     GeographyType `json:"type"`
	ParentID string        `json:"parentId,omitempty"`
}

func (g Geography) NodeID() string       { return g.ID }
func (g Geography) ParentNodeID() string { return g.ParentID }

func (g *Geography) Clone() *Geography {
	out := *g
	out.BaseEntity = g.cloneBase()
	return &out
}

type Role struct {
	BaseEntity
	Name       string `json:"name"`
	Department string `json:"department"`
	ParentID   string `json:"parentId,omitempty"`
}

func (r Role) NodeID() string       { return r.ID }
func (r Role) ParentNodeID() string { return r.ParentID }

func (r *Role) Clone() *Role {
	out := *r
	out.BaseEntity = r.cloneBase()
	return &out
}

type User struct {
	BaseEntity
	FullName     string   `json:"fullName"`
	Email        string   `json:"email"`
	PhoneNumber  string   `json:"phoneNumber"`
	RoleID       string   `json:"roleId"`
	Department   string   `json:"department"`
	GeographyIDs []string `json:"geographyIds"`
	CategoryIDs  []string `json:"categoryIds"`
	UserRole     UserRole `json:"userRole"`
	// PasswordHash 随记录持久化，API 输出时移除
	PasswordHash string `json:"passwordHash,omitempty"`
}

func (u *User) Clone() *User {
	out := *u
	out.BaseEntity = u.cloneBase()
	out.GeographyIDs = cloneStrings(u.GeographyIDs)
	out.CategoryIDs = cloneStrings(u.CategoryIDs)
	return &out
}

// ValidationRule 挂在属性上的提示性校验元数据
type ValidationRule struct {
	Type    ValidationRuleType `json:"type"`
	Value   any                `json:"value"`
	Message string             `json:"message"`
}

type Attribute struct {
	BaseEntity
	FieldName        string           `json:"fieldName"`
	DataType         DataType         `json:"dataType"`
	PredefinedValues []string         `json:"predefinedValues,omitempty"`
	DefaultValue     string           `json:"defaultValue,omitempty"`
	ValidationRules  []ValidationRule `json:"validationRules,omitempty"`
	Context          string           `json:"context"`
}

func (a *Attribute) Clone() *Attribute {
	out := *a
	out.BaseEntity = a.cloneBase()
	out.PredefinedValues = cloneStrings(a.PredefinedValues)
	if a.ValidationRules != nil {
		out.ValidationRules = make([]ValidationRule, len(a.ValidationRules))
		copy(out.ValidationRules, a.ValidationRules)
	}
	return &out
}

type Entity struct {
	BaseEntity
	Name            string         `json:"name"`
	EntityType      string         `json:"entityType"`
	AttributeIDs    []string       `json:"attributeIds"`
	CategoryIDs     []string       `json:"categoryIds"`
	GeographyIDs    []string       `json:"geographyIds"`
	AttributeValues map[string]any `json:"attributeValues,omitempty"`
}

func (e *Entity) Clone() *Entity {
	out := *e
	out.BaseEntity = e.cloneBase()
	out.AttributeIDs = cloneStrings(e.AttributeIDs)
	out.CategoryIDs = cloneStrings(e.CategoryIDs)
	out.GeographyIDs = cloneStrings(e.GeographyIDs)
	if e.AttributeValues != nil {
		out.AttributeValues = make(map[string]any, len(e.AttributeValues))
		for k, v := range e.AttributeValues {
			out.AttributeValues[k] = v
		}
	}
	return &out
}

// RuleCondition 审批规则的一个条件，LogicOperator 连接下一个条件
type RuleCondition struct {
	ID            string        `json:"id,omitempty"`
	AttributeID   string        `json:"attributeId"`
	Operator      Operator      `json:"operator"`
	Value         any           `json:"value"`
	LogicOperator LogicOperator `json:"logicOperator,omitempty"`
}

type ApprovalRule struct {
	BaseEntity
	RuleName      string          `json:"ruleName"`
	EntityType    string          `json:"entityType"`
	Conditions    []RuleCondition `json:"conditions"`
	AssignedRoles []string        `json:"assignedRoles"`
	AssignedUsers []string        `json:"assignedUsers,omitempty"`
}

// Live 规则是否参与评估
func (r ApprovalRule) Live() bool {
	return r.Status == StatusActive && r.ApprovalStatus == ApprovalApproved
}

func (r *ApprovalRule) Clone() *ApprovalRule {
	out := *r
	out.BaseEntity = r.cloneBase()
	if r.Conditions != nil {
		out.Conditions = make([]RuleCondition, len(r.Conditions))
		for i, c := range r.Conditions {
			switch v := c.Value.(type) {
			case []string:
				c.Value = cloneStrings(v)
			case []any:
				c.Value = append([]any(nil), v...)
			}
			out.Conditions[i] = c
		}
	}
	out.AssignedRoles = cloneStrings(r.AssignedRoles)
	out.AssignedUsers = cloneStrings(r.AssignedUsers)
	return &out
}

// ApprovalRequest 等待决策的变更提议
type ApprovalRequest struct {
	ID             string          `json:"id"`
	EntityType     Kind            `json:"entityType"`
	EntityID       string          `json:"entityId"`
	RequestedBy    string          `json:"requestedBy"`
	AssignedTo     []string        `json:"assignedTo"`
	Status         ApprovalStatus  `json:"status"`
	Comments       string          `json:"comments,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedDate    time.Time       `json:"createdDate"`
	ResolvedBy     string          `json:"resolvedBy,omitempty"`
	ResolvedDate   *time.Time      `json:"resolvedDate,omitempty"`
	TriggeredRules []string        `json:"triggeredRules,omitempty"`
}

func (r *ApprovalRequest) Clone() *ApprovalRequest {
	out := *r
	out.AssignedTo = cloneStrings(r.AssignedTo)
	out.TriggeredRules = cloneStrings(r.TriggeredRules)
	if r.Data != nil {
		out.Data = append(json.RawMessage(nil), r.Data...)
	}
	if r.ResolvedDate != nil {
		t := *r.ResolvedDate
		out.ResolvedDate = &t
	}
	return &out
}

// AuditLog 只追加的变更操作记录
type AuditLog struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Action     AuditAction    `json:"action"`
	EntityType Kind           `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Timestamp  time.Time      `json:"timestamp"`
	Changes    map[string]any `json:"changes,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
