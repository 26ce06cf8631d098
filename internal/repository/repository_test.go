package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdm/internal/governance"
	"mdm/internal/store"
)

type sequenceIDGenerator struct {
	values []string
	idx    int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	if g.idx >= len(g.values) {
		return "", errors.New("no ids")
	}
	v := g.values[g.idx]
	g.idx++
	return v, nil
}

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	provider *store.MemoryProvider
	writer   *Writer
	repo     *Repository[governance.Category, *governance.Category]
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	provider := store.NewMemoryProvider()
	trail := NewAuditTrail(&sequenceIDGenerator{values: []string{"a1", "a2", "a3", "a4", "a5", "a6"}}, func() time.Time { return fixedNow })
	writer := NewWriter(provider, trail)
	repo := New[governance.Category](governance.KindCategory, writer,
		WithIDGenerator(&sequenceIDGenerator{values: ids}),
		WithClock(func() time.Time { return fixedNow }),
	)
	return &fixture{provider: provider, writer: writer, repo: repo}
}

func TestCreateStampsDefaultsAndAudits(t *testing.T) {
	f := newFixture(t, "c1")
	ctx := context.Background()

	got, err := f.repo.Create(ctx, governance.Category{Name: "Electronics"}, "u-admin")
	require.NoError(t, err)

	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "u-admin", got.CreatedBy)
	assert.Equal(t, fixedNow, got.CreatedDate)
	assert.Equal(t, governance.StatusActive, got.Status)
	assert.Equal(t, governance.ApprovalPending, got.ApprovalStatus)
	assert.Equal(t, 1, f.repo.Count())

	entries := f.writer.Trail().List(AuditFilter{})
	require.Len(t, entries, 1)
	assert.Equal(t, governance.ActionCreate, entries[0].Action)
	assert.Equal(t, governance.KindCategory, entries[0].EntityType)
	assert.Equal(t, "c1", entries[0].EntityID)
	assert.Equal(t, "u-admin", entries[0].UserID)
}

func TestCreateRetriesOnIDCollision(t *testing.T) {
	f := newFixture(t, "c1", "c1", "c2")
	ctx := context.Background()

	_, err := f.repo.Create(ctx, governance.Category{Name: "A"}, "u1")
	require.NoError(t, err)
	second, err := f.repo.Create(ctx, governance.Category{Name: "B"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c2", second.ID)
}

func TestUpdateIgnoresProtectedFields(t *testing.T) {
	f := newFixture(t, "c1")
	ctx := context.Background()
	_, err := f.repo.Create(ctx, governance.Category{Name: "Electronics"}, "u-admin")
	require.NoError(t, err)

	patch, err := ParsePatch([]byte(`{"name":"Consumer Electronics","id":"other","createdBy":"mallory","approvalStatus":"Approved"}`))
	require.NoError(t, err)

	got, err := f.repo.Update(ctx, "c1", patch, "u-editor")
	require.NoError(t, err)

	assert.Equal(t, "Consumer Electronics", got.Name)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "u-admin", got.CreatedBy)
	assert.Equal(t, governance.ApprovalPending, got.ApprovalStatus)
	assert.Equal(t, "u-editor", got.ModifiedBy)
	require.NotNil(t, got.ModifiedDate)

	entries := f.writer.Trail().List(AuditFilter{Action: governance.ActionUpdate})
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"name": "Consumer Electronics"}, entries[0].Changes)
}

func TestUpdateMissingRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Update(context.Background(), "nope", Patch{}, "u1")
	assert.ErrorIs(t, err, governance.ErrNotFound)
	assert.Equal(t, 0, f.writer.Trail().Len())
}

func TestCheckVetoesWrite(t *testing.T) {
	f := newFixture(t, "c1")
	veto := func(next *governance.Category) error {
		if next.Name == "" {
			return governance.ErrValidation
		}
		return nil
	}

	_, err := f.repo.Create(context.Background(), governance.Category{}, "u1", veto)
	assert.ErrorIs(t, err, governance.ErrValidation)
	assert.Equal(t, 0, f.repo.Count())
	assert.Equal(t, 0, f.writer.Trail().Len())
}

func TestDeleteRemovesRecord(t *testing.T) {
	f := newFixture(t, "c1", "c2")
	ctx := context.Background()
	_, err := f.repo.Create(ctx, governance.Category{Name: "A"}, "u1")
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, governance.Category{Name: "B"}, "u1")
	require.NoError(t, err)

	require.NoError(t, f.repo.Delete(ctx, "c1", "u1"))
	assert.False(t, f.repo.Exists("c1"))
	list := f.repo.List()
	require.Len(t, list, 1)
	assert.Equal(t, "c2", list[0].ID)

	assert.ErrorIs(t, f.repo.Delete(ctx, "c1", "u1"), governance.ErrNotFound)
	assert.Len(t, f.writer.Trail().List(AuditFilter{Action: governance.ActionDelete}), 1)
}

func TestFailedPersistenceLeavesNoTrace(t *testing.T) {
	f := newFixture(t, "c1")
	f.provider.FailNextApply(errors.New("disk full"))

	_, err := f.repo.Create(context.Background(), governance.Category{Name: "A"}, "u1")
	require.Error(t, err)
	assert.Equal(t, 0, f.repo.Count())
	assert.Equal(t, 0, f.writer.Trail().Len())

	rows, err := f.provider.LoadAll(context.Background(), string(governance.KindCategory))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadRestoresPersistedState(t *testing.T) {
	f := newFixture(t, "c1", "c2")
	ctx := context.Background()
	_, err := f.repo.Create(ctx, governance.Category{Name: "A"}, "u1")
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, governance.Category{Name: "B", ParentID: "c1"}, "u1")
	require.NoError(t, err)

	trail := NewAuditTrail(nil, nil)
	reloaded := New[governance.Category](governance.KindCategory, NewWriter(f.provider, trail))
	require.NoError(t, reloaded.Load(ctx))
	require.NoError(t, trail.Load(ctx, f.provider))

	assert.Equal(t, f.repo.List(), reloaded.List())
	assert.Equal(t, 2, trail.Len())
}

func TestGetReturnsCopy(t *testing.T) {
	f := newFixture(t, "c1")
	ctx := context.Background()
	_, err := f.repo.Create(ctx, governance.Category{Name: "A"}, "u1")
	require.NoError(t, err)

	got, err := f.repo.Get("c1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := f.repo.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Name)
}

func TestStageCommitCreatesApprovedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	data, err := NewPatch(map[string]any{"name": "Phones", "createdBy": "ignored"})
	require.NoError(t, err)

	c := NewChange()
	got, err := f.repo.StageCommit(c, "c9", data, "u-approver", "u-requester")
	require.NoError(t, err)
	assert.False(t, f.repo.Exists("c9"), "nothing visible before commit")
	require.NoError(t, f.writer.Commit(ctx, c))

	assert.Equal(t, "c9", got.ID)
	assert.Equal(t, "u-requester", got.CreatedBy)
	assert.Equal(t, governance.ApprovalApproved, got.ApprovalStatus)
	assert.True(t, f.repo.Exists("c9"))
	assert.Equal(t, 0, f.writer.Trail().Len())
}

func TestStageCommitMergesExistingRecord(t *testing.T) {
	f := newFixture(t, "c1")
	ctx := context.Background()
	_, err := f.repo.Create(ctx, governance.Category{Name: "A", ParentID: "root"}, "u1")
	require.NoError(t, err)

	c := NewChange()
	_, err = f.repo.StageCommit(c, "c1", Patch{"name": json.RawMessage(`"A2"`)}, "u-approver", "u1")
	require.NoError(t, err)
	require.NoError(t, f.writer.Commit(ctx, c))

	got, err := f.repo.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "A2", got.Name)
	assert.Equal(t, "root", got.ParentID)
	assert.Equal(t, governance.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, "u-approver", got.ModifiedBy)
}

func TestStageStatusReportsMissingRecord(t *testing.T) {
	f := newFixture(t)
	c := NewChange()
	defer c.Release()

	ok, err := f.repo.StageStatus(c, "missing", governance.ApprovalPending)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNullPatchClearsField(t *testing.T) {
	f := newFixture(t, "c1")
	ctx := context.Background()
	_, err := f.repo.Create(ctx, governance.Category{Name: "A", ParentID: "p"}, "u1")
	require.NoError(t, err)

	got, err := f.repo.Update(ctx, "c1", Patch{"parentId": json.RawMessage(`null`)}, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.ParentID)
}

func TestAuditTrailFilterAndLimit(t *testing.T) {
	trail := NewAuditTrail(&sequenceIDGenerator{values: []string{"1", "2", "3"}}, nil)
	for _, id := range []string{"x", "y", "x"} {
		entry, err := trail.NewEntry(governance.ActionUpdate, governance.KindRole, id, "u1", nil)
		require.NoError(t, err)
		trail.append(entry)
	}

	assert.Len(t, trail.List(AuditFilter{EntityID: "x"}), 2)
	latest := trail.List(AuditFilter{Limit: 1})
	require.Len(t, latest, 1)
	assert.Equal(t, "3", latest[0].ID)
	assert.Empty(t, trail.List(AuditFilter{EntityType: governance.KindUser}))
}

func TestParsePatchRejectsNonObject(t *testing.T) {
	_, err := ParsePatch([]byte(`[1,2]`))
	assert.ErrorIs(t, err, governance.ErrValidation)
}

func TestAuditTrailListReturnsDeepCopies(t *testing.T) {
	trail := NewAuditTrail(&sequenceIDGenerator{values: []string{"1"}}, nil)
	assignees := []string{"u-checker"}
	entry, err := trail.NewEntry(governance.ActionSubmitForApproval, governance.KindCategory, "c1", "u-maker", map[string]any{
		"assignedTo": assignees,
		"data":       map[string]any{"tags": []any{"a"}},
	})
	require.NoError(t, err)
	trail.append(entry)
	assignees[0] = "changed-by-caller"

	listed := trail.List(AuditFilter{})
	require.Len(t, listed, 1)
	listed[0].Changes["assignedTo"].([]string)[0] = "tampered"
	listed[0].Changes["data"].(map[string]any)["tags"].([]any)[0] = "tampered"

	again := trail.List(AuditFilter{})[0].Changes
	assert.Equal(t, []string{"u-checker"}, again["assignedTo"])
	assert.Equal(t, []any{"a"}, again["data"].(map[string]any)["tags"])
}

func TestLockKindsExclusiveBlocksShared(t *testing.T) {
	locks := NewKindLocks()
	writer := NewChange()
	require.NoError(t, writer.LockKinds(locks, []governance.Kind{governance.KindCategory}, []governance.Kind{governance.KindRole}))

	reader := NewChange()
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		_ = reader.LockKinds(locks, nil, []governance.Kind{governance.KindCategory})
	}()

	select {
	case <-acquired:
		t.Fatal("shared lock acquired while exclusive lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	writer.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("shared lock not acquired after release")
	}
	reader.Release()

	other := NewChange()
	require.NoError(t, other.LockKinds(locks, nil, []governance.Kind{governance.KindRole, governance.KindCategory}))
	other.Release()
}

func TestLockKindsMustComeFirst(t *testing.T) {
	locks := NewKindLocks()
	c := NewChange()
	defer c.Release()
	c.Lock(store.NewKeyedMutex(), "pair/Category/c1")
	assert.ErrorIs(t, c.LockKinds(locks, nil, []governance.Kind{governance.KindCategory}), ErrLockOrder)

	twice := NewChange()
	defer twice.Release()
	require.NoError(t, twice.LockKinds(locks, nil, nil))
	assert.ErrorIs(t, twice.LockKinds(locks, nil, nil), ErrLockOrder)
}
