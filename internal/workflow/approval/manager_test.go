package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mdm/internal/governance"
	"mdm/internal/repository"
	"mdm/internal/store"
)

// categoryStore 以真实的 Category 仓储实现 RecordStore
type categoryStore struct {
	repo *repository.Repository[governance.Category, *governance.Category]
}

func (s *categoryStore) Snapshot(kind governance.Kind, id string) (json.RawMessage, bool, error) {
	rec, err := s.repo.Get(id)
	if errors.Is(err, governance.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := json.Marshal(rec)
	return raw, true, err
}

func (s *categoryStore) StageStatus(c *repository.Change, kind governance.Kind, id string, status governance.ApprovalStatus) (bool, error) {
	return s.repo.StageStatus(c, id, status)
}

func (s *categoryStore) StageCommit(c *repository.Change, kind governance.Kind, id string, data repository.Patch, decidedBy, requestedBy string) error {
	_, err := s.repo.StageCommit(c, id, data, decidedBy, requestedBy)
	return err
}

// LockCommit 单一类型的测试仓储没有跨类型约束
func (s *categoryStore) LockCommit(*repository.Change, governance.Kind, string, repository.Patch) error {
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ApprovalEvent
}

func (n *recordingNotifier) NotifyApproval(_ context.Context, evt ApprovalEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

var (
	maker   = &governance.Principal{UserID: "u-maker", UserRole: governance.UserRoleMaker, Active: true}
	checker = &governance.Principal{UserID: "u-checker", UserRole: governance.UserRoleChecker, Active: true}
	other   = &governance.Principal{UserID: "u-other", UserRole: governance.UserRoleChecker, Active: true}
	admin   = &governance.Principal{UserID: "u-admin", UserRole: governance.UserRoleAdmin, Active: true}
	viewer  = &governance.Principal{UserID: "u-viewer", UserRole: governance.UserRoleViewer, Active: true}
)

type managerFixture struct {
	provider *store.MemoryProvider
	writer   *repository.Writer
	repo     *repository.Repository[governance.Category, *governance.Category]
	mgr      *Manager
	bus      *ApprovalEventBus
	notifier *recordingNotifier
}

func newManagerFixture(t *testing.T, fallback FallbackConfig) *managerFixture {
	t.Helper()
	provider := store.NewMemoryProvider()
	writer := repository.NewWriter(provider, repository.NewAuditTrail(nil, nil))
	repo := repository.New[governance.Category](governance.KindCategory, writer)

	rule := liveRule("rule-category", "Category")
	rule.AssignedRoles = []string{"role-checker"}
	dir := &fakeDirectory{
		rules: []governance.ApprovalRule{rule},
		users: []governance.User{user("u-checker", "role-checker", governance.StatusActive)},
	}

	bus := NewApprovalEventBus(&EventBusConfig{BufferSize: 8})
	notifier := &recordingNotifier{}
	mgr := NewManager(writer, &categoryStore{repo: repo}, NewApproverResolver(nil, dir, fallback),
		WithEventBus(bus),
		WithNotifier(notifier),
		WithManagerLogger(zaptest.NewLogger(t)),
	)
	return &managerFixture{provider: provider, writer: writer, repo: repo, mgr: mgr, bus: bus, notifier: notifier}
}

func (f *managerFixture) createCategory(t *testing.T, name, parentID string) governance.Category {
	t.Helper()
	rec, err := f.repo.Create(context.Background(), governance.Category{Name: name, ParentID: parentID}, maker.UserID)
	require.NoError(t, err)
	return rec
}

func TestSubmitApproveEndToEnd(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	clothing := f.createCategory(t, "Clothing", "")
	mens := f.createCategory(t, "Men's Clothing", clothing.ID)
	require.Equal(t, governance.ApprovalPending, mens.ApprovalStatus)

	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: mens.ID})
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalPending, req.Status)
	assert.Equal(t, []string{"u-checker"}, req.AssignedTo)
	assert.Equal(t, []string{"rule-category"}, req.TriggeredRules)

	events, cancel := f.mgr.Subscribe(req.ID)
	defer cancel()

	approved, err := f.mgr.Approve(ctx, checker, req.ID, "looks good")
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalApproved, approved.Status)
	assert.Equal(t, "looks good", approved.Comments)
	assert.Equal(t, "u-checker", approved.ResolvedBy)

	stored, err := f.repo.Get(mens.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalApproved, stored.ApprovalStatus)
	assert.Equal(t, clothing.ID, stored.ParentID)

	entries := f.writer.Trail().List(repository.AuditFilter{Action: governance.ActionApprove})
	require.Len(t, entries, 1)
	assert.Equal(t, mens.ID, entries[0].EntityID)
	assert.Equal(t, governance.KindCategory, entries[0].EntityType)

	select {
	case evt := <-events:
		assert.Equal(t, EventApproved, evt.Type)
		assert.Equal(t, "u-checker", evt.ActorID)
	case <-time.After(time.Second):
		t.Fatal("did not receive approval event")
	}

	f.mgr.Wait()
	f.notifier.mu.Lock()
	assert.Len(t, f.notifier.events, 2)
	f.notifier.mu.Unlock()
	assert.Equal(t, 0, f.mgr.PendingCount())
}

func TestSubmitTwiceIsAlreadyPending(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")

	_, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)
	_, err = f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	assert.ErrorIs(t, err, governance.ErrAlreadyPending)
	assert.Len(t, f.mgr.List(ListFilter{EntityID: rec.ID}), 1)
}

func TestRejectRequiresComments(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")
	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)
	before := f.writer.Trail().Len()

	_, err = f.mgr.Reject(ctx, checker, req.ID, "   ")
	assert.ErrorIs(t, err, governance.ErrValidation)

	got, err := f.mgr.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalPending, got.Status)
	assert.Equal(t, before, f.writer.Trail().Len())

	rejected, err := f.mgr.Reject(ctx, checker, req.ID, "wrong parent")
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalRejected, rejected.Status)
	stored, err := f.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalRejected, stored.ApprovalStatus)

	// 被拒后可以重新提交，生成新的请求
	again, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID)
	assert.Len(t, f.mgr.List(ListFilter{EntityID: rec.ID}), 2)
}

func TestSecondDecisionIsAlreadyResolved(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")
	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)

	_, err = f.mgr.Approve(ctx, checker, req.ID, "")
	require.NoError(t, err)
	audits := f.writer.Trail().Len()

	_, err = f.mgr.Approve(ctx, checker, req.ID, "")
	assert.ErrorIs(t, err, governance.ErrAlreadyResolved)
	_, err = f.mgr.Reject(ctx, checker, req.ID, "late")
	assert.ErrorIs(t, err, governance.ErrAlreadyResolved)
	assert.Equal(t, audits, f.writer.Trail().Len())
}

func TestConcurrentApproveOnlyOneSucceeds(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")
	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)

	var ok, resolved int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Approve(ctx, checker, req.ID, "")
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, governance.ErrAlreadyResolved):
				atomic.AddInt32(&resolved, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 7, resolved)
	assert.Len(t, f.writer.Trail().List(repository.AuditFilter{Action: governance.ActionApprove}), 1)
}

func TestDecisionAuthorization(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")
	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)

	_, err = f.mgr.Approve(ctx, maker, req.ID, "")
	assert.ErrorIs(t, err, governance.ErrForbidden, "maker lacks approve")
	_, err = f.mgr.Approve(ctx, other, req.ID, "")
	assert.ErrorIs(t, err, governance.ErrForbidden, "checker not assigned")
	_, err = f.mgr.Approve(ctx, nil, req.ID, "")
	assert.ErrorIs(t, err, governance.ErrForbidden)

	_, err = f.mgr.Approve(ctx, admin, req.ID, "admin override")
	require.NoError(t, err)
}

func TestSubmitAuthorization(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")

	_, err := f.mgr.Submit(ctx, viewer, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	assert.ErrorIs(t, err, governance.ErrForbidden)
	_, err = f.mgr.Submit(ctx, checker, SubmitInput{EntityType: governance.KindCategory, Data: json.RawMessage(`{"name":"New"}`)})
	assert.ErrorIs(t, err, governance.ErrForbidden)
	assert.Equal(t, 0, f.mgr.PendingCount())
}

func TestApproveCreatesProposedRecord(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()

	req, err := f.mgr.Submit(ctx, maker, SubmitInput{
		EntityType: governance.KindCategory,
		Data:       json.RawMessage(`{"name":"Accessories"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, req.EntityID)
	assert.False(t, f.repo.Exists(req.EntityID))

	_, err = f.mgr.Approve(ctx, checker, req.ID, "")
	require.NoError(t, err)

	rec, err := f.repo.Get(req.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Accessories", rec.Name)
	assert.Equal(t, "u-maker", rec.CreatedBy)
	assert.Equal(t, governance.ApprovalApproved, rec.ApprovalStatus)
}

func TestSubmitDataIsMergedIntoCandidate(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "root")

	req, err := f.mgr.Submit(ctx, maker, SubmitInput{
		EntityType: governance.KindCategory,
		EntityID:   rec.ID,
		Data:       json.RawMessage(`{"name":"Apparel"}`),
	})
	require.NoError(t, err)

	var data map[string]any
	require.NoError(t, json.Unmarshal(req.Data, &data))
	assert.Equal(t, "Apparel", data["name"])
	assert.Equal(t, "root", data["parentId"])

	stored, err := f.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clothing", stored.Name, "submit must not change stored fields")

	_, err = f.mgr.Approve(ctx, checker, req.ID, "")
	require.NoError(t, err)
	stored, err = f.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Apparel", stored.Name)
}

func TestFailedCommitLeavesRequestPending(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")
	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)

	f.provider.FailNextApply(errors.New("write failed"))
	_, err = f.mgr.Approve(ctx, checker, req.ID, "")
	require.Error(t, err)

	got, err := f.mgr.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalPending, got.Status)
	stored, err := f.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, governance.ApprovalPending, stored.ApprovalStatus)

	_, err = f.mgr.Approve(ctx, checker, req.ID, "")
	require.NoError(t, err)
}

func TestFallbackDenyRejectsSubmission(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{Policy: FallbackDeny})
	ctx := context.Background()

	_, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindRole, Data: json.RawMessage(`{"name":"Ops"}`)})
	assert.ErrorIs(t, err, governance.ErrValidation)
	assert.Equal(t, 0, f.writer.Trail().Len())

	sim, err := f.mgr.Simulate(governance.KindRole, json.RawMessage(`{"name":"Ops"}`))
	require.NoError(t, err)
	assert.True(t, sim.Fallback)
	assert.NotEmpty(t, sim.Denied)
}

func TestLoadRestoresOpenRequests(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")
	req, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	require.NoError(t, err)

	reloaded := NewManager(f.writer, &categoryStore{repo: f.repo}, f.mgr.resolver)
	require.NoError(t, reloaded.Load(ctx))

	openID, ok := reloaded.OpenRequest(governance.KindCategory, rec.ID)
	require.True(t, ok)
	assert.Equal(t, req.ID, openID)
	_, err = reloaded.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
	assert.ErrorIs(t, err, governance.ErrAlreadyPending)
}

func TestListFilters(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	a := f.createCategory(t, "Shoes", "")
	b := f.createCategory(t, "Hats", "")
	reqA, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: a.ID})
	require.NoError(t, err)
	_, err = f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: b.ID})
	require.NoError(t, err)
	_, err = f.mgr.Approve(ctx, checker, reqA.ID, "")
	require.NoError(t, err)

	assert.Len(t, f.mgr.List(ListFilter{}), 2)
	assert.Len(t, f.mgr.List(ListFilter{Status: governance.ApprovalPending}), 1)
	assert.Len(t, f.mgr.List(ListFilter{AssignedTo: "u-checker"}), 2)
	assert.Len(t, f.mgr.List(ListFilter{AssignedTo: "nobody"}), 0)
	hats := f.mgr.List(ListFilter{Search: "hats"})
	require.Len(t, hats, 1)
	assert.Equal(t, b.ID, hats[0].EntityID)
}

func TestSubmitUnknownRecordIsNotFound(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()

	_, err := f.mgr.Submit(ctx, maker, SubmitInput{
		EntityType: governance.KindCategory,
		EntityID:   "chosen-by-client",
		Data:       json.RawMessage(`{"name":"Outdoor"}`),
	})
	assert.ErrorIs(t, err, governance.ErrNotFound)
	assert.Empty(t, f.mgr.List(ListFilter{}))
	assert.Equal(t, 0, f.writer.Trail().Len())
}

func TestLockPairBlocksSubmit(t *testing.T) {
	f := newManagerFixture(t, FallbackConfig{})
	ctx := context.Background()
	rec := f.createCategory(t, "Clothing", "")

	held := repository.NewChange()
	f.mgr.LockPair(held, governance.KindCategory, rec.ID)

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Submit(ctx, maker, SubmitInput{EntityType: governance.KindCategory, EntityID: rec.ID})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("submit finished while the record's approval lock was held")
	case <-time.After(50 * time.Millisecond):
	}
	held.Release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit did not resume after release")
	}
}
