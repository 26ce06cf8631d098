package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mdm/internal/governance"
	"mdm/internal/mdm"
	"mdm/internal/store"
)

func newService(t *testing.T) *mdm.Service {
	t.Helper()
	return mdm.New(store.NewMemoryProvider(), mdm.Config{}, mdm.WithLogger(zaptest.NewLogger(t)))
}

func TestLoadFileImportsShippedSeed(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	report, err := LoadFile(ctx, svc, "../../config/seed.yaml", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Imported[governance.KindCategory])
	assert.Equal(t, 3, report.Imported[governance.KindUser])
	assert.Equal(t, 1, report.Imported[governance.KindApprovalRule])

	mens, err := svc.Categories.Repository().Get("cat-mens")
	require.NoError(t, err)
	assert.Equal(t, "cat-clothing", mens.ParentID)
	assert.Equal(t, governance.ApprovalApproved, mens.ApprovalStatus)
	assert.Equal(t, Actor, mens.CreatedBy)

	// 重复执行只跳过已存在的记录
	again, err := LoadFile(ctx, svc, "../../config/seed.yaml", nil)
	require.NoError(t, err)
	assert.Zero(t, again.Total())
	assert.Equal(t, 3, again.Skipped[governance.KindCategory])
}

func TestLoadHashesPasswords(t *testing.T) {
	svc := newService(t)
	_, err := Load(context.Background(), svc, []byte(`
roles:
  - id: r1
    name: Stewards
users:
  - id: u1
    fullName: Ada Admin
    email: ada@example.com
    roleId: r1
    userRole: Admin
    password: correct-horse
`), nil)
	require.NoError(t, err)

	stored, err := svc.Users.Repository().Get("u1")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.PasswordHash)
	assert.NotEqual(t, "correct-horse", stored.PasswordHash)

	user, err := svc.Authenticate("ADA@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Empty(t, user.PasswordHash)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown kind": "widgets:\n  - id: w1\n",
		"missing id":   "categories:\n  - name: Clothing\n",
		"broken yaml":  "categories: [",
		"dangling ref": "categories:\n  - id: c1\n    name: Child\n    parentId: nope\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), newService(t), []byte(body), nil)
			assert.Error(t, err)
		})
	}
}
