package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mdm/internal/governance"
	"mdm/internal/store"
)

// ErrLockOrder 类型锁必须在变更持有任何其他锁之前获取
var ErrLockOrder = errors.New("类型锁必须先于记录锁获取")

// KindLocks 每个记录类型一把读写锁，保护跨记录的不变量：层级无环、引用存在、字段唯一。
// 加锁顺序固定为：类型锁 -> 审批请求锁 -> 审批对象锁 -> 记录锁
type KindLocks struct {
	locks map[governance.Kind]*sync.RWMutex
}

func NewKindLocks() *KindLocks {
	l := &KindLocks{locks: make(map[governance.Kind]*sync.RWMutex, len(governance.Kinds))}
	for _, kind := range governance.Kinds {
		l.locks[kind] = new(sync.RWMutex)
	}
	return l
}

// Change 一次原子写入：待持久化的操作、审计记录，以及落盘后才执行的内存更新。
// 暂存期间获取的锁一直持有到 Release
type Change struct {
	ops         []store.Op
	entries     []governance.AuditLog
	onCommit    []func()
	unlocks     []func()
	held        map[string]bool
	kindsLocked bool
}

func NewChange() *Change {
	return &Change{}
}

// Put 暂存 v 的写入
func (c *Change) Put(collection, id string, v any) error {
	op, err := store.Put(collection, id, v)
	if err != nil {
		return err
	}
	c.ops = append(c.ops, op)
	return nil
}

// Remove 暂存删除
func (c *Change) Remove(collection, id string) {
	c.ops = append(c.ops, store.Remove(collection, id))
}

// Audit 暂存一条审计记录
func (c *Change) Audit(entry governance.AuditLog) error {
	if err := c.Put(store.CollectionAuditLog, entry.ID, entry); err != nil {
		return err
	}
	c.entries = append(c.entries, entry)
	return nil
}

// OnCommit 注册落盘成功后执行的回调
func (c *Change) OnCommit(fn func()) {
	c.onCommit = append(c.onCommit, fn)
}

// Entries 已暂存的审计记录
func (c *Change) Entries() []governance.AuditLog {
	return append([]governance.AuditLog(nil), c.entries...)
}

func (c *Change) holds(key string) bool {
	return c.held[key]
}

func (c *Change) hold(key string, unlock func()) {
	if c.held == nil {
		c.held = make(map[string]bool)
	}
	c.held[key] = true
	c.unlocks = append(c.unlocks, unlock)
}

// LockKinds 按 governance.Kinds 的顺序获取类型锁，同一类型同时出现时独占优先。
// 每个变更只能调用一次，且必须在任何记录锁之前
func (c *Change) LockKinds(locks *KindLocks, exclusive, shared []governance.Kind) error {
	if c.kindsLocked || len(c.unlocks) > 0 {
		return ErrLockOrder
	}
	c.kindsLocked = true

	modes := make(map[governance.Kind]bool, len(exclusive)+len(shared))
	for _, kind := range shared {
		modes[kind] = false
	}
	for _, kind := range exclusive {
		modes[kind] = true
	}
	for _, kind := range governance.Kinds {
		excl, ok := modes[kind]
		mu := locks.locks[kind]
		if !ok || mu == nil {
			continue
		}
		if excl {
			mu.Lock()
			c.unlocks = append(c.unlocks, mu.Unlock)
		} else {
			mu.RLock()
			c.unlocks = append(c.unlocks, mu.RUnlock)
		}
	}
	return nil
}

// Lock 在变更生命周期内额外持有一把键锁，例如审批请求锁
func (c *Change) Lock(locks *store.KeyedMutex, key string) {
	if c.holds(key) {
		return
	}
	c.hold(key, locks.Lock(key))
}

// Release 按获取的逆序释放全部锁，可重复调用
func (c *Change) Release() {
	for i := len(c.unlocks) - 1; i >= 0; i-- {
		c.unlocks[i]()
	}
	c.unlocks = nil
	c.held = nil
}

// Writer 持久化变更，并保持审计日志与之同步
type Writer struct {
	provider store.Provider
	trail    *AuditTrail
}

func NewWriter(provider store.Provider, trail *AuditTrail) *Writer {
	return &Writer{provider: provider, trail: trail}
}

func (w *Writer) Provider() store.Provider { return w.provider }
func (w *Writer) Trail() *AuditTrail       { return w.trail }

// Commit 以一个批次写入 c 的全部操作，成功后才更新内存状态与审计日志。
// 无论成败都会释放 c
func (w *Writer) Commit(ctx context.Context, c *Change) error {
	defer c.Release()
	if len(c.ops) > 0 {
		if err := w.provider.Apply(ctx, c.ops...); err != nil {
			return fmt.Errorf("persist change: %w", err)
		}
	}
	for _, fn := range c.onCommit {
		fn()
	}
	w.trail.append(c.entries...)
	return nil
}
