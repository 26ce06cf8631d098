package auth

import (
	"fmt"

	"mdm/internal/governance"
)

// Action 每条命令前检查的权限动词
type Action string

const (
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionView    Action = "view"
)

// rolePermissions 固定的 userRole 到动词的映射
var rolePermissions = map[governance.UserRole][]Action{
	governance.UserRoleAdmin:   {ActionCreate, ActionEdit, ActionDelete, ActionApprove, ActionReject, ActionView},
	governance.UserRoleChecker: {ActionApprove, ActionReject, ActionView},
	governance.UserRoleMaker:   {ActionCreate, ActionEdit, ActionView},
	governance.UserRoleViewer:  {ActionView},
}

// Permissions 列出 role 拥有的动词
func Permissions(role governance.UserRole) []Action {
	return append([]Action(nil), rolePermissions[role]...)
}

// HasPermission 调用方为空或已停用时为 false，否则看 userRole 是否拥有 action
func HasPermission(p *governance.Principal, action Action) bool {
	if p == nil || p.UserID == "" || !p.Active {
		return false
	}
	for _, granted := range rolePermissions[p.UserRole] {
		if granted == action {
			return true
		}
	}
	return false
}

// Authorize HasPermission 为 false 时返回 governance.ErrForbidden
func Authorize(p *governance.Principal, action Action) error {
	if HasPermission(p, action) {
		return nil
	}
	if p == nil || p.UserID == "" {
		return fmt.Errorf("%w: no authenticated principal for %s", governance.ErrForbidden, action)
	}
	return fmt.Errorf("%w: %s (%s) may not %s", governance.ErrForbidden, p.UserID, p.UserRole, action)
}
