package mdm

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"mdm/internal/governance"
	"mdm/internal/workflow/approval"
)

func invalid(kind governance.Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", governance.ErrValidation, kind, fmt.Sprintf(format, args...))
}

func missingRef(kind governance.Kind, field, id string) error {
	return fmt.Errorf("%w: %s.%s references unknown %s", governance.ErrReferentialIntegrity, kind, field, id)
}

func checkBase(kind governance.Kind, b *governance.BaseEntity) error {
	switch b.Status {
	case governance.StatusActive, governance.StatusInactive:
	default:
		return invalid(kind, "status %q is not Active or Inactive", b.Status)
	}
	switch b.ApprovalStatus {
	case governance.ApprovalDraft, governance.ApprovalPending, governance.ApprovalApproved, governance.ApprovalRejected:
	default:
		return invalid(kind, "unknown approvalStatus %q", b.ApprovalStatus)
	}
	return nil
}

func required(kind governance.Kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(kind, "%s is required", field)
	}
	return nil
}

func checkRefs(kind governance.Kind, field string, ids []string, exists func(string) bool) error {
	for _, id := range ids {
		if !exists(id) {
			return missingRef(kind, field, id)
		}
	}
	return nil
}

func (s *Service) validateCategory(c *governance.Category) error {
	if err := checkBase(governance.KindCategory, &c.BaseEntity); err != nil {
		return err
	}
	return required(governance.KindCategory, "name", c.Name)
}

func (s *Service) validateGeography(g *governance.Geography) error {
	if err := checkBase(governance.KindGeography, &g.BaseEntity); err != nil {
		return err
	}
	if err := required(governance.KindGeography, "name", g.Name); err != nil {
		return err
	}
	switch g.Type {
	case governance.GeographyCountry, governance.GeographyState, governance.GeographyCity, governance.GeographyZone:
		return nil
	}
	return invalid(governance.KindGeography, "type %q must be Country, State, City or Zone", g.Type)
}

func (s *Service) validateRole(r *governance.Role) error {
	if err := checkBase(governance.KindRole, &r.BaseEntity); err != nil {
		return err
	}
	return required(governance.KindRole, "name", r.Name)
}

func (s *Service) validateUser(u *governance.User) error {
	const kind = governance.KindUser
	if err := checkBase(kind, &u.BaseEntity); err != nil {
		return err
	}
	if err := required(kind, "fullName", u.FullName); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return invalid(kind, "email %q is not a valid address", u.Email)
	}
	for _, other := range s.Users.repo.List() {
		if other.ID != u.ID && strings.EqualFold(other.Email, u.Email) {
			return invalid(kind, "email %s is already used by %s", u.Email, other.ID)
		}
	}
	switch u.UserRole {
	case governance.UserRoleMaker, governance.UserRoleChecker, governance.UserRoleAdmin, governance.UserRoleViewer:
	default:
		return invalid(kind, "userRole %q must be Maker, Checker, Admin or Viewer", u.UserRole)
	}
	if err := required(kind, "roleId", u.RoleID); err != nil {
		return err
	}
	if !s.Roles.repo.Exists(u.RoleID) {
		return missingRef(kind, "roleId", u.RoleID)
	}
	if err := checkRefs(kind, "geographyIds", u.GeographyIDs, s.Geographies.repo.Exists); err != nil {
		return err
	}
	return checkRefs(kind, "categoryIds", u.CategoryIDs, s.Categories.repo.Exists)
}

func (s *Service) validateAttribute(a *governance.Attribute) error {
	const kind = governance.KindAttribute
	if err := checkBase(kind, &a.BaseEntity); err != nil {
		return err
	}
	if err := required(kind, "fieldName", a.FieldName); err != nil {
		return err
	}
	for _, other := range s.Attributes.repo.List() {
		if other.ID != a.ID && strings.EqualFold(other.FieldName, a.FieldName) {
			return invalid(kind, "fieldName %s is already defined by %s", a.FieldName, other.ID)
		}
	}
	switch a.DataType {
	case governance.DataTypeString, governance.DataTypeNumber, governance.DataTypeBoolean, governance.DataTypeDate:
	case governance.DataTypeDropdown:
		if len(a.PredefinedValues) == 0 {
			return invalid(kind, "dropdown %s needs predefinedValues", a.FieldName)
		}
		if a.DefaultValue != "" && !contains(a.PredefinedValues, a.DefaultValue) {
			return invalid(kind, "defaultValue %q is not one of predefinedValues", a.DefaultValue)
		}
	default:
		return invalid(kind, "unknown dataType %q", a.DataType)
	}
	for _, rule := range a.ValidationRules {
		switch rule.Type {
		case governance.ValidationLength, governance.ValidationRange, governance.ValidationRequired:
		case governance.ValidationRegex:
			if _, err := regexp.Compile(fmt.Sprint(rule.Value)); err != nil {
				return invalid(kind, "validation regex %v: %v", rule.Value, err)
			}
		default:
			return invalid(kind, "unknown validation rule type %q", rule.Type)
		}
	}
	return nil
}

func (s *Service) validateEntity(e *governance.Entity) error {
	const kind = governance.KindEntity
	if err := checkBase(kind, &e.BaseEntity); err != nil {
		return err
	}
	if err := required(kind, "name", e.Name); err != nil {
		return err
	}
	if err := required(kind, "entityType", e.EntityType); err != nil {
		return err
	}
	if err := checkRefs(kind, "attributeIds", e.AttributeIDs, s.Attributes.repo.Exists); err != nil {
		return err
	}
	if err := checkRefs(kind, "categoryIds", e.CategoryIDs, s.Categories.repo.Exists); err != nil {
		return err
	}
	return checkRefs(kind, "geographyIds", e.GeographyIDs, s.Geographies.repo.Exists)
}

func (s *Service) validateRule(r *governance.ApprovalRule) error {
	const kind = governance.KindApprovalRule
	if err := checkBase(kind, &r.BaseEntity); err != nil {
		return err
	}
	if err := required(kind, "ruleName", r.RuleName); err != nil {
		return err
	}
	if err := required(kind, "entityType", r.EntityType); err != nil {
		return err
	}
	for i, cond := range r.Conditions {
		if err := validateCondition(i, cond); err != nil {
			return err
		}
	}
	if len(r.AssignedRoles) == 0 && len(r.AssignedUsers) == 0 {
		return invalid(kind, "assignedRoles or assignedUsers must name at least one approver")
	}
	if err := checkRefs(kind, "assignedRoles", r.AssignedRoles, s.Roles.repo.Exists); err != nil {
		return err
	}
	return checkRefs(kind, "assignedUsers", r.AssignedUsers, s.Users.repo.Exists)
}

func validateCondition(i int, cond governance.RuleCondition) error {
	const kind = governance.KindApprovalRule
	if strings.TrimSpace(cond.AttributeID) == "" {
		return invalid(kind, "condition %d: attributeId is required", i)
	}
	if !cond.Operator.Valid() {
		return invalid(kind, "condition %d: unknown operator %q", i, cond.Operator)
	}
	switch cond.LogicOperator {
	case "", governance.LogicAnd, governance.LogicOr:
	default:
		return invalid(kind, "condition %d: logicOperator %q must be AND or OR", i, cond.LogicOperator)
	}
	switch {
	case cond.Operator == governance.OpRegex:
		if _, err := regexp.Compile(fmt.Sprint(cond.Value)); err != nil {
			return invalid(kind, "condition %d: %v", i, err)
		}
	case cond.Operator.Numeric():
		if _, ok := number(cond.Value); !ok {
			return invalid(kind, "condition %d: %v is not a number", i, cond.Value)
		}
	case cond.Operator == governance.OpIn || cond.Operator == governance.OpNotIn:
		if len(approval.SetValues(cond.Value)) == 0 {
			return invalid(kind, "condition %d: %s needs at least one value", i, cond.Operator)
		}
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
