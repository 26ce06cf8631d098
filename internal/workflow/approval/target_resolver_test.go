package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdm/internal/governance"
)

type fakeDirectory struct {
	rules []governance.ApprovalRule
	attrs []governance.Attribute
	users []governance.User
}

func (d *fakeDirectory) ApprovalRules() []governance.ApprovalRule { return d.rules }
func (d *fakeDirectory) Attributes() []governance.Attribute       { return d.attrs }
func (d *fakeDirectory) Users() []governance.User                 { return d.users }

func user(id, roleID string, status governance.Status) governance.User {
	return governance.User{BaseEntity: governance.BaseEntity{ID: id, Status: status}, RoleID: roleID}
}

func TestResolverUnionsRoleMembersAndUsers(t *testing.T) {
	rule := liveRule("r1", "Category")
	rule.AssignedRoles = []string{"role-checker"}
	rule.AssignedUsers = []string{"u-extra", "u-1"}
	dir := &fakeDirectory{
		rules: []governance.ApprovalRule{rule},
		users: []governance.User{
			user("u-1", "role-checker", governance.StatusActive),
			user("u-2", "role-checker", governance.StatusInactive),
			user("u-3", "role-maker", governance.StatusActive),
		},
	}

	res, err := NewApproverResolver(nil, dir, FallbackConfig{}).Resolve(Candidate{Kind: governance.KindCategory})
	require.NoError(t, err)
	assert.Equal(t, []string{"u-1", "u-extra"}, res.Approvers)
	assert.Equal(t, []string{"r1"}, res.TriggeredRules)
	assert.False(t, res.Fallback)
}

func TestResolverDenyPolicy(t *testing.T) {
	res, err := NewApproverResolver(nil, &fakeDirectory{}, FallbackConfig{Policy: FallbackDeny}).Resolve(Candidate{Kind: governance.KindRole})
	assert.ErrorIs(t, err, governance.ErrValidation)
	require.NotNil(t, res)
	assert.True(t, res.Fallback)
}

func TestResolverDefaultGroup(t *testing.T) {
	dir := &fakeDirectory{users: []governance.User{user("u-admin", "role-admin", governance.StatusActive)}}
	resolver := NewApproverResolver(nil, dir, FallbackConfig{
		Policy:  FallbackDefaultGroup,
		UserIDs: []string{"u-lead"},
		RoleIDs: []string{"role-admin"},
	})

	res, err := resolver.Resolve(Candidate{Kind: governance.KindGeography})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"u-lead", "u-admin"}, res.Approvers)

	empty := NewApproverResolver(nil, &fakeDirectory{}, FallbackConfig{Policy: FallbackDefaultGroup})
	_, err = empty.Resolve(Candidate{Kind: governance.KindGeography})
	assert.ErrorIs(t, err, governance.ErrValidation)
}

func TestTriggeredRuleWithNoMembersFallsBack(t *testing.T) {
	rule := liveRule("r1", "Category")
	rule.AssignedRoles = []string{"role-empty"}
	dir := &fakeDirectory{rules: []governance.ApprovalRule{rule}}

	_, err := NewApproverResolver(nil, dir, FallbackConfig{}).Resolve(Candidate{Kind: governance.KindCategory})
	assert.ErrorIs(t, err, governance.ErrValidation)
}

func TestParseFallbackPolicy(t *testing.T) {
	p, err := ParseFallbackPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FallbackDeny, p)

	p, err = ParseFallbackPolicy("Default_Group")
	require.NoError(t, err)
	assert.Equal(t, FallbackDefaultGroup, p)

	_, err = ParseFallbackPolicy("first_admin")
	assert.Error(t, err)
}
