// Package repository 在内存中维护受治理的记录集合，写穿到 store.Provider，
// 并为每次变更记录审计日志
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdm/internal/governance"
	"mdm/internal/metrics"
	"mdm/internal/store"
)

const maxIDAttempts = 3

// Option 仓储配置项
type Option func(*options)

type options struct {
	ids    IDGenerator
	now    func() time.Time
	logger *zap.Logger
}

// WithIDGenerator 替换默认的 UUID 生成器
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithClock 替换 time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Repository 存放一种受治理记录。读取返回副本；已存储的值只会被整体替换，不会原地修改
type Repository[T any, P Record[T]] struct {
	kind   governance.Kind
	writer *Writer
	ids    IDGenerator
	now    func() time.Time
	logger *zap.Logger
	locks  *store.KeyedMutex

	mu    sync.RWMutex
	order []string
	items map[string]*T
}

// New 创建空仓储，调用 Load 读取已持久化的数据
func New[T any, P Record[T]](kind governance.Kind, writer *Writer, opts ...Option) *Repository[T, P] {
	o := options{ids: UUIDGenerator{}, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T, P]{
		kind:   kind,
		writer: writer,
		ids:    o.ids,
		now:    o.now,
		logger: o.logger.With(zap.String("kind", string(kind))),
		locks:  store.NewKeyedMutex(),
		items:  make(map[string]*T),
	}
}

func (r *Repository[T, P]) Kind() governance.Kind { return r.kind }

// Load 用持久化存储的内容替换内存集合
func (r *Repository[T, P]) Load(ctx context.Context) error {
	rows, err := r.writer.Provider().LoadAll(ctx, string(r.kind))
	if err != nil {
		return fmt.Errorf("load %s: %w", r.kind, err)
	}
	items := make(map[string]*T, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		rec := new(T)
		if err := json.Unmarshal(row.Payload, rec); err != nil {
			return fmt.Errorf("decode %s %s: %w", r.kind, row.ID, err)
		}
		if _, dup := items[row.ID]; !dup {
			order = append(order, row.ID)
		}
		items[row.ID] = rec
	}

	r.mu.Lock()
	r.items = items
	r.order = order
	r.mu.Unlock()
	r.logger.Debug("集合已加载", zap.Int("count", len(order)))
	return nil
}

// List 按插入顺序返回全部记录的副本
func (r *Repository[T, P]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *P(r.items[id]).Clone())
	}
	return out
}

// Get 返回记录副本
func (r *Repository[T, P]) Get(id string) (T, error) {
	rec, ok := r.current(id)
	if !ok {
		var zero T
		return zero, r.notFound(id)
	}
	return *P(rec).Clone(), nil
}

func (r *Repository[T, P]) Exists(id string) bool {
	_, ok := r.current(id)
	return ok
}

func (r *Repository[T, P]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Create 以新 id 存储 draft 并记录 CREATE。createdBy、createdDate、status、
// approvalStatus 为空时取默认值
func (r *Repository[T, P]) Create(ctx context.Context, draft T, actor string, checks ...Check[T]) (T, error) {
	return r.Run(ctx, NewChange(), governance.ActionCreate, func(c *Change) (T, error) {
		return r.StageCreate(c, draft, actor, checks...)
	})
}

// Import 以记录自带的 id 存储，用于初始化数据与恢复
func (r *Repository[T, P]) Import(ctx context.Context, rec T, actor string, checks ...Check[T]) (T, error) {
	return r.Run(ctx, NewChange(), governance.ActionCreate, func(c *Change) (T, error) {
		return r.StageImport(c, rec, actor, checks...)
	})
}

// Update 将 patch 合并到记录并记录 UPDATE
func (r *Repository[T, P]) Update(ctx context.Context, id string, patch Patch, actor string, checks ...Check[T]) (T, error) {
	return r.Run(ctx, NewChange(), governance.ActionUpdate, func(c *Change) (T, error) {
		return r.StageUpdate(c, id, patch, actor, checks...)
	})
}

// Delete 删除记录并记录 DELETE，checks 拿到当前记录，可否决删除
func (r *Repository[T, P]) Delete(ctx context.Context, id, actor string, checks ...Check[T]) error {
	_, err := r.Run(ctx, NewChange(), governance.ActionDelete, func(c *Change) (T, error) {
		var zero T
		return zero, r.StageDelete(c, id, actor, checks...)
	})
	return err
}

// Run 在调用方准备好的变更上暂存并提交，用于需要先取得类型锁的写入。c 总会被释放
func (r *Repository[T, P]) Run(ctx context.Context, c *Change, action governance.AuditAction, stage func(c *Change) (T, error)) (T, error) {
	defer c.Release()
	rec, err := stage(c)
	if err == nil {
		err = r.writer.Commit(ctx, c)
	}
	return r.finish(action, rec, err)
}

// StageImport 暂存以 rec 自带 id 的创建
func (r *Repository[T, P]) StageImport(c *Change, rec T, actor string, checks ...Check[T]) (T, error) {
	id := P(&rec).Meta().ID
	if id == "" {
		var zero T
		return zero, fmt.Errorf("%w: %s import requires an id", governance.ErrValidation, r.kind)
	}
	r.acquire(c, id)
	return r.createLocked(c, rec, actor, governance.ActionCreate, checks)
}

// StageCreate 暂存 draft 的创建
func (r *Repository[T, P]) StageCreate(c *Change, draft T, actor string, checks ...Check[T]) (T, error) {
	id, err := r.newID()
	if err != nil {
		var zero T
		return zero, err
	}
	P(&draft).Meta().ID = id
	r.acquire(c, id)
	return r.createLocked(c, draft, actor, governance.ActionCreate, checks)
}

// StageUpdate 暂存更新。patch 中的受保护字段被忽略；modifiedBy、modifiedDate
// 默认为 actor 与当前时间
func (r *Repository[T, P]) StageUpdate(c *Change, id string, patch Patch, actor string, checks ...Check[T]) (T, error) {
	r.acquire(c, id)
	clean := patch.Without(protectedFields...)
	return r.updateLocked(c, id, actor, governance.ActionUpdate, clean.Changes(), func(next *T) error {
		if err := applyPatch(next, clean); err != nil {
			return err
		}
		meta := P(next).Meta()
		if !clean.Has("modifiedBy") {
			meta.ModifiedBy = actor
		}
		if !clean.Has("modifiedDate") {
			now := r.now()
			meta.ModifiedDate = &now
		}
		return nil
	}, checks)
}

// StageStatus 只设置 approvalStatus，不写审计；记录不存在时返回 false
func (r *Repository[T, P]) StageStatus(c *Change, id string, status governance.ApprovalStatus) (bool, error) {
	r.acquire(c, id)
	if !r.Exists(id) {
		return false, nil
	}
	_, err := r.updateLocked(c, id, "", "", nil, func(next *T) error {
		P(next).Meta().ApprovalStatus = status
		return nil
	}, nil)
	return err == nil, err
}

// StageCommit 写入审批通过的数据：已有记录按补丁合并，否则以 id 新建。
// 结果均为 Approved，审计由调用方负责
func (r *Repository[T, P]) StageCommit(c *Change, id string, data Patch, decidedBy, requestedBy string, checks ...Check[T]) (T, error) {
	r.acquire(c, id)
	clean := data.Without(protectedFields...)

	if r.Exists(id) {
		return r.updateLocked(c, id, decidedBy, "", nil, func(next *T) error {
			if err := applyPatch(next, clean); err != nil {
				return err
			}
			meta := P(next).Meta()
			meta.ApprovalStatus = governance.ApprovalApproved
			meta.ModifiedBy = decidedBy
			now := r.now()
			meta.ModifiedDate = &now
			return nil
		}, checks)
	}

	var draft T
	if err := applyPatch(&draft, clean); err != nil {
		var zero T
		return zero, err
	}
	meta := P(&draft).Meta()
	meta.ID = id
	meta.CreatedBy = requestedBy
	meta.ApprovalStatus = governance.ApprovalApproved
	return r.createLocked(c, draft, decidedBy, "", checks)
}

// StageDelete 暂存删除
func (r *Repository[T, P]) StageDelete(c *Change, id, actor string, checks ...Check[T]) error {
	r.acquire(c, id)
	cur, ok := r.current(id)
	if !ok {
		return r.notFound(id)
	}
	for _, check := range checks {
		if err := check(P(cur).Clone()); err != nil {
			return err
		}
	}
	c.Remove(string(r.kind), id)
	if err := r.stageAudit(c, governance.ActionDelete, id, actor, nil); err != nil {
		return err
	}
	c.OnCommit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
	})
	return nil
}

// acquire 在 c 的生命周期内持有 id 的记录锁
func (r *Repository[T, P]) acquire(c *Change, id string) {
	key := string(r.kind) + "/" + id
	if c.holds(key) {
		return
	}
	c.hold(key, r.locks.Lock(id))
}

func (r *Repository[T, P]) createLocked(c *Change, draft T, actor string, action governance.AuditAction, checks []Check[T]) (T, error) {
	var zero T
	rec := P(&draft).Clone()
	meta := P(rec).Meta()
	if r.Exists(meta.ID) {
		return zero, fmt.Errorf("%w: %s %s already exists", governance.ErrValidation, r.kind, meta.ID)
	}
	if meta.CreatedBy == "" {
		meta.CreatedBy = actor
	}
	if meta.CreatedDate.IsZero() {
		meta.CreatedDate = r.now()
	}
	if meta.Status == "" {
		meta.Status = governance.StatusActive
	}
	if meta.ApprovalStatus == "" {
		meta.ApprovalStatus = governance.ApprovalPending
	}
	for _, check := range checks {
		if err := check(rec); err != nil {
			return zero, err
		}
	}

	id := meta.ID
	if err := c.Put(string(r.kind), id, rec); err != nil {
		return zero, err
	}
	if action != "" {
		if err := r.stageAudit(c, action, id, actor, nil); err != nil {
			return zero, err
		}
	}
	c.OnCommit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.items[id]; !ok {
			r.order = append(r.order, id)
		}
		r.items[id] = rec
	})
	return *P(rec).Clone(), nil
}

func (r *Repository[T, P]) updateLocked(c *Change, id, actor string, action governance.AuditAction, changes map[string]any, mutate func(next *T) error, checks []Check[T]) (T, error) {
	var zero T
	cur, ok := r.current(id)
	if !ok {
		return zero, r.notFound(id)
	}
	next := P(cur).Clone()
	if err := mutate(next); err != nil {
		return zero, err
	}
	for _, check := range checks {
		if err := check(next); err != nil {
			return zero, err
		}
	}
	if err := c.Put(string(r.kind), id, next); err != nil {
		return zero, err
	}
	if action != "" {
		if err := r.stageAudit(c, action, id, actor, changes); err != nil {
			return zero, err
		}
	}
	c.OnCommit(func() {
		r.mu.Lock()
		r.items[id] = next
		r.mu.Unlock()
	})
	return *P(next).Clone(), nil
}

func (r *Repository[T, P]) stageAudit(c *Change, action governance.AuditAction, id, actor string, changes map[string]any) error {
	entry, err := r.writer.Trail().NewEntry(action, r.kind, id, actor, changes)
	if err != nil {
		return err
	}
	return c.Audit(entry)
}

func (r *Repository[T, P]) current(id string) (*T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	return rec, ok
}

func (r *Repository[T, P]) newID() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate %s id: %w", r.kind, err)
		}
		if id != "" && !r.Exists(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate %s id: no unique id after %d attempts", r.kind, maxIDAttempts)
}

func (r *Repository[T, P]) notFound(id string) error {
	return fmt.Errorf("%w: %s %s", governance.ErrNotFound, r.kind, id)
}

func (r *Repository[T, P]) finish(action governance.AuditAction, rec T, err error) (T, error) {
	result := "ok"
	if err != nil {
		result = string(governance.KindOf(err))
		if errors.Is(err, governance.ErrNotFound) || errors.Is(err, governance.ErrValidation) {
			r.logger.Debug("写入被拒绝", zap.String("action", string(action)), zap.Error(err))
		} else {
			r.logger.Warn("写入失败", zap.String("action", string(action)), zap.Error(err))
		}
	}
	metrics.RepositoryMutationsTotal.WithLabelValues(string(r.kind), string(action), result).Inc()
	if err != nil {
		var zero T
		return zero, err
	}
	return rec, nil
}
