package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdm/internal/governance"
)

func TestPermissionMatrix(t *testing.T) {
	all := []Action{ActionCreate, ActionEdit, ActionDelete, ActionApprove, ActionReject, ActionView}
	cases := map[governance.UserRole][]Action{
		governance.UserRoleAdmin:   all,
		governance.UserRoleChecker: {ActionApprove, ActionReject, ActionView},
		governance.UserRoleMaker:   {ActionCreate, ActionEdit, ActionView},
		governance.UserRoleViewer:  {ActionView},
	}

	for role, granted := range cases {
		p := &governance.Principal{UserID: "u1", UserRole: role, Active: true}
		for _, action := range all {
			want := false
			for _, g := range granted {
				if g == action {
					want = true
				}
			}
			assert.Equalf(t, want, HasPermission(p, action), "%s/%s", role, action)
		}
	}
}

func TestHasPermissionWithoutPrincipal(t *testing.T) {
	assert.False(t, HasPermission(nil, ActionView))
	assert.False(t, HasPermission(&governance.Principal{UserRole: governance.UserRoleAdmin, Active: true}, ActionView))
	assert.False(t, HasPermission(&governance.Principal{UserID: "u1", UserRole: governance.UserRoleAdmin}, ActionView), "inactive")
	assert.False(t, HasPermission(&governance.Principal{UserID: "u1", UserRole: "Root", Active: true}, ActionView), "unknown role")
}

func TestAuthorizeReturnsForbidden(t *testing.T) {
	err := Authorize(&governance.Principal{UserID: "u1", UserRole: governance.UserRoleViewer, Active: true}, ActionDelete)
	assert.ErrorIs(t, err, governance.ErrForbidden)
	assert.Equal(t, governance.KindForbidden, governance.KindOf(err))
	assert.NoError(t, Authorize(&governance.Principal{UserID: "u1", UserRole: governance.UserRoleMaker, Active: true}, ActionCreate))
}

func TestJWTIssueAndValidate(t *testing.T) {
	svc := NewJWTService("secret", "mdm-test", time.Hour, nil)

	issued, err := svc.Issue("u-1", "Maker")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)

	claims, err := svc.Validate(context.Background(), issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "Maker", claims.UserRole)

	require.NoError(t, svc.Revoke(context.Background(), issued.AccessToken))
	_, err = svc.Validate(context.Background(), issued.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// 过期后黑名单条目失效，令牌本身也已过期
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, svc.isRevoked(context.Background(), issued.AccessToken))
}

func TestJWTRejectsForeignAndExpiredTokens(t *testing.T) {
	svc := NewJWTService("secret", "mdm-test", time.Hour, nil)
	other := NewJWTService("other-secret", "mdm-test", time.Hour, nil)

	foreign, err := other.Issue("u-1", "Admin")
	require.NoError(t, err)
	_, err = svc.Validate(context.Background(), foreign.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expiredSvc := NewJWTService("secret", "mdm-test", time.Minute, nil)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredSvc.Issue("u-1", "Admin")
	require.NoError(t, err)
	_, err = svc.Validate(context.Background(), expired.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("abc"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "s3cret"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("", "s3cret"), ErrInvalidCredentials)
}
