package mdm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/hierarchy"
	"mdm/internal/metrics"
	"mdm/internal/repository"
)

// Collection 与具体类型无关的集合接口，HTTP 层按类型分派；
// 记录以 JSON 或装箱后的具体类型穿过该接口
type Collection interface {
	Kind() governance.Kind
	Count() int
	Exists(id string) bool
	ListAny(p *governance.Principal) (any, error)
	GetAny(p *governance.Principal, id string) (any, error)
	CreateJSON(ctx context.Context, p *governance.Principal, raw []byte) (any, error)
	UpdateJSON(ctx context.Context, p *governance.Principal, id string, raw []byte) (any, error)
	Delete(ctx context.Context, p *governance.Principal, id string) error
	Tree(p *governance.Principal) (any, error)
	Ancestors(p *governance.Principal, id string) (any, error)

	load(ctx context.Context) error
	importJSON(ctx context.Context, raw []byte, actor string) error
	snapshot(id string) (json.RawMessage, bool, error)
	stageStatus(c *repository.Change, id string, status governance.ApprovalStatus) (bool, error)
	stageCommit(c *repository.Change, id string, data repository.Patch, decidedBy, requestedBy string) error
	lockCommit(c *repository.Change, id string, data repository.Patch) error
	danglingParents() []string
}

// Typed 在单一类型的仓储之上加入鉴权、校验、删除策略与层级遍历
type Typed[T any, P repository.Record[T]] struct {
	svc  *Service
	repo *repository.Repository[T, P]

	// validate 每次写入前在记录锁内执行
	validate repository.Check[T]
	// refs 列出引用 id 的其他记录
	refs func(id string) []string
	// scrub 清除既不接受也不返回给调用方的字段
	scrub  func(rec *T)
	hidden []string

	parentCheck repository.Check[T]
	children    func(id string, items []T) []string
	tree        func(items []T) any
	ancestors   func(id string, items []T) (any, error)
	dangling    func(items []T) []string
}

func newTyped[T any, P repository.Record[T]](svc *Service, repo *repository.Repository[T, P]) *Typed[T, P] {
	return &Typed[T, P]{svc: svc, repo: repo}
}

// withHierarchy 启用父节点校验、树与祖先查询
func withHierarchy[T hierarchy.Node, P repository.Record[T]](t *Typed[T, P]) *Typed[T, P] {
	// 调整父节点时本类型持有独占锁，按已提交的状态校验不会漏掉并发的结构变更
	t.parentCheck = func(next *T) error {
		id, pid := (*next).NodeID(), (*next).ParentNodeID()
		if cur, err := t.repo.Get(id); err == nil && cur.ParentNodeID() == pid {
			return nil
		}
		return hierarchy.ValidateParent(id, pid, t.repo.List())
	}
	t.children = func(id string, items []T) []string {
		var ids []string
		for _, child := range hierarchy.Children(id, items) {
			ids = append(ids, child.NodeID())
		}
		return ids
	}
	t.tree = func(items []T) any {
		return hierarchy.BuildTree(items)
	}
	t.ancestors = func(id string, items []T) (any, error) {
		out, err := hierarchy.ResolveAncestors(id, items)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []T{}
		}
		return out, nil
	}
	t.dangling = func(items []T) []string {
		var ids []string
		for _, rec := range hierarchy.DanglingParents(items) {
			ids = append(ids, rec.NodeID())
		}
		return ids
	}
	return t
}

func (t *Typed[T, P]) Kind() governance.Kind { return t.repo.Kind() }

func (t *Typed[T, P]) Count() int { return t.repo.Count() }

func (t *Typed[T, P]) Exists(id string) bool { return t.repo.Exists(id) }

// Repository 供进程内协作方直接访问底层仓储
func (t *Typed[T, P]) Repository() *repository.Repository[T, P] { return t.repo }

// List 按插入顺序返回全部记录
func (t *Typed[T, P]) List(p *governance.Principal) ([]T, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	return t.items(), nil
}

// Get 返回单条记录
func (t *Typed[T, P]) Get(p *governance.Principal, id string) (T, error) {
	var zero T
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return zero, err
	}
	rec, err := t.repo.Get(id)
	if err != nil {
		return zero, err
	}
	t.show(&rec)
	return rec, nil
}

// Create 以新 id 存储 draft。调用方为 createdBy；除非显式为 Draft，记录初始为 Pending
func (t *Typed[T, P]) Create(ctx context.Context, p *governance.Principal, draft T) (T, error) {
	var zero T
	if err := auth.Authorize(p, auth.ActionCreate); err != nil {
		return zero, err
	}
	t.show(&draft)
	meta := P(&draft).Meta()
	meta.ID = ""
	meta.CreatedBy = p.UserID
	meta.CreatedDate = zeroTime
	meta.ModifiedBy, meta.ModifiedDate = "", nil
	if meta.ApprovalStatus != governance.ApprovalDraft {
		meta.ApprovalStatus = governance.ApprovalPending
	}
	c := repository.NewChange()
	defer c.Release()
	if err := t.lockWrite(c, true, nil); err != nil {
		return zero, err
	}
	rec, err := t.repo.Run(ctx, c, governance.ActionCreate, func(c *repository.Change) (T, error) {
		return t.repo.StageCreate(c, draft, p.UserID, t.checks()...)
	})
	if err != nil {
		return zero, err
	}
	t.show(&rec)
	return rec, nil
}

// Update 将 patch 合并到记录
func (t *Typed[T, P]) Update(ctx context.Context, p *governance.Principal, id string, patch repository.Patch) (T, error) {
	var zero T
	if err := auth.Authorize(p, auth.ActionEdit); err != nil {
		return zero, err
	}
	clean := patch.Without(t.hidden...)
	c := repository.NewChange()
	defer c.Release()
	if err := t.lockWrite(c, false, clean); err != nil {
		return zero, err
	}
	rec, err := t.repo.Run(ctx, c, governance.ActionUpdate, func(c *repository.Change) (T, error) {
		return t.repo.StageUpdate(c, id, clean, p.UserID, t.checks()...)
	})
	if err != nil {
		return zero, err
	}
	t.show(&rec)
	return rec, nil
}

// Delete 按删除策略删除记录，存在未决审批请求的记录不能删除
func (t *Typed[T, P]) Delete(ctx context.Context, p *governance.Principal, id string) error {
	if err := auth.Authorize(p, auth.ActionDelete); err != nil {
		return err
	}

	c := repository.NewChange()
	defer c.Release()
	err := t.lockDelete(c)
	if err == nil {
		// 与提交审批持有同一把锁，检查与删除之间不会插入新的请求
		t.svc.approvals.LockPair(c, t.Kind(), id)
		if reqID, open := t.svc.approvals.OpenRequest(t.Kind(), id); open {
			err = fmt.Errorf("%w: %s %s has open approval request %s", governance.ErrReferentialIntegrity, t.Kind(), id, reqID)
		}
	}
	if err == nil {
		err = t.stageDelete(c, id, p.UserID)
	}
	if err == nil {
		err = t.svc.writer.Commit(ctx, c)
	}
	result := "ok"
	if err != nil {
		result = string(governance.KindOf(err))
	}
	metrics.RepositoryMutationsTotal.WithLabelValues(string(t.Kind()), string(governance.ActionDelete), result).Inc()
	if err != nil {
		t.svc.logger.Debug("删除被拒绝", zap.String("kind", string(t.Kind())), zap.String("id", id), zap.Error(err))
		return err
	}
	t.svc.logger.Info("记录已删除",
		zap.String("kind", string(t.Kind())),
		zap.String("id", id),
		zap.String("actor", p.UserID),
		zap.Int("audit_entries", len(c.Entries())))
	return nil
}

// stageDelete 暂存删除；orphan 策略下同时把子节点变为根节点
func (t *Typed[T, P]) stageDelete(c *repository.Change, id, actor string) error {
	if err := t.repo.StageDelete(c, id, actor, t.deleteCheck); err != nil {
		return err
	}
	if t.svc.deletePolicy != DeleteOrphan || t.children == nil {
		return nil
	}
	for _, child := range t.children(id, t.repo.List()) {
		if _, err := t.repo.StageUpdate(c, child, repository.Patch{"parentId": json.RawMessage("null")}, actor); err != nil {
			return err
		}
	}
	return nil
}

// Tree 返回层级类型的森林
func (t *Typed[T, P]) Tree(p *governance.Principal) (any, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	if t.tree == nil {
		return nil, t.notHierarchical()
	}
	items := t.items()
	t.warnDangling(items)
	return t.tree(items), nil
}

// Ancestors 返回祖先链，直接父节点在前
func (t *Typed[T, P]) Ancestors(p *governance.Principal, id string) (any, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	if t.ancestors == nil {
		return nil, t.notHierarchical()
	}
	return t.ancestors(id, t.items())
}

func (t *Typed[T, P]) ListAny(p *governance.Principal) (any, error) {
	items, err := t.List(p)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (t *Typed[T, P]) GetAny(p *governance.Principal, id string) (any, error) {
	rec, err := t.Get(p, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Typed[T, P]) CreateJSON(ctx context.Context, p *governance.Principal, raw []byte) (any, error) {
	var draft T
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", governance.ErrValidation, t.Kind(), err)
	}
	rec, err := t.Create(ctx, p, draft)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Typed[T, P]) UpdateJSON(ctx context.Context, p *governance.Principal, id string, raw []byte) (any, error) {
	patch, err := repository.ParsePatch(raw)
	if err != nil {
		return nil, err
	}
	rec, err := t.Update(ctx, p, id, patch)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Typed[T, P]) load(ctx context.Context) error {
	if err := t.repo.Load(ctx); err != nil {
		return err
	}
	t.warnDangling(t.repo.List())
	return nil
}

// importJSON 以记录自带的 id 存储，保留其审计字段
func (t *Typed[T, P]) importJSON(ctx context.Context, raw []byte, actor string) error {
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("%w: decode %s: %v", governance.ErrValidation, t.Kind(), err)
	}
	c := repository.NewChange()
	defer c.Release()
	if err := t.lockWrite(c, true, nil); err != nil {
		return err
	}
	_, err := t.repo.Run(ctx, c, governance.ActionCreate, func(c *repository.Change) (T, error) {
		return t.repo.StageImport(c, rec, actor, t.checks()...)
	})
	return err
}

func (t *Typed[T, P]) snapshot(id string) (json.RawMessage, bool, error) {
	rec, err := t.repo.Get(id)
	if errors.Is(err, governance.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	t.show(&rec)
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s %s: %w", t.Kind(), id, err)
	}
	return raw, true, nil
}

func (t *Typed[T, P]) stageStatus(c *repository.Change, id string, status governance.ApprovalStatus) (bool, error) {
	return t.repo.StageStatus(c, id, status)
}

func (t *Typed[T, P]) stageCommit(c *repository.Change, id string, data repository.Patch, decidedBy, requestedBy string) error {
	_, err := t.repo.StageCommit(c, id, data.Without(t.hidden...), decidedBy, requestedBy, t.checks()...)
	return err
}

func (t *Typed[T, P]) danglingParents() []string {
	if t.dangling == nil {
		return nil
	}
	return t.dangling(t.repo.List())
}

func (t *Typed[T, P]) checks() []repository.Check[T] {
	var out []repository.Check[T]
	if t.parentCheck != nil {
		out = append(out, t.parentCheck)
	}
	if t.validate != nil {
		out = append(out, t.validate)
	}
	return out
}

// deleteCheck 记录仍被引用时否决删除
func (t *Typed[T, P]) deleteCheck(cur *T) error {
	id := P(cur).Meta().ID
	var blockers []string
	if t.svc.deletePolicy != DeleteOrphan && t.children != nil {
		for _, child := range t.children(id, t.repo.List()) {
			blockers = append(blockers, fmt.Sprintf("%s %s", t.Kind(), child))
		}
	}
	if t.refs != nil {
		blockers = append(blockers, t.refs(id)...)
	}
	if len(blockers) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s %s is referenced by %s",
		governance.ErrReferentialIntegrity, t.Kind(), id, summarize(blockers, 5))
}

func (t *Typed[T, P]) items() []T {
	items := t.repo.List()
	for i := range items {
		t.show(&items[i])
	}
	return items
}

func (t *Typed[T, P]) show(rec *T) {
	if t.scrub != nil {
		t.scrub(rec)
	}
}

func (t *Typed[T, P]) warnDangling(items []T) {
	if t.dangling == nil {
		return
	}
	ids := t.dangling(items)
	if len(ids) == 0 {
		return
	}
	metrics.HierarchyIntegrityWarnings.WithLabelValues(string(t.Kind())).Add(float64(len(ids)))
	t.svc.logger.Warn("存在父节点缺失的记录",
		zap.String("kind", string(t.Kind())),
		zap.Strings("ids", ids))
}

func (t *Typed[T, P]) notHierarchical() error {
	return fmt.Errorf("%w: %s is not hierarchical", governance.ErrValidation, t.Kind())
}

func summarize(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:limit], ", "), len(items)-limit)
}
