package governance

import "context"

// Principal 命令的已认证调用方
type Principal struct {
	UserID   string
	UserRole UserRole
	RoleID   string
	Active   bool
}

// PrincipalFromUser 由已存储的用户构建调用方
func PrincipalFromUser(u User) Principal {
	return Principal{
		UserID:   u.ID,
		UserRole: u.UserRole,
		RoleID:   u.RoleID,
		Active:   u.Status != StatusInactive,
	}
}

type principalKey struct{}

// WithPrincipal 把调用方存入 ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext 取出 WithPrincipal 存入的调用方
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
