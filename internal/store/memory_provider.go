package store

import (
	"context"
	"sync"
)

type memoryTable struct {
	order []string
	rows  map[string][]byte
}

// MemoryProvider 所有集合保存在进程内存中
type MemoryProvider struct {
	mu       sync.Mutex
	tables   map[string]*memoryTable
	failNext error
}

// NewMemoryProvider 创建空的 provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{tables: make(map[string]*memoryTable)}
}

// FailNextApply 下一次 Apply 不写入并返回 err
func (p *MemoryProvider) FailNextApply(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

func (p *MemoryProvider) LoadAll(ctx context.Context, collection string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tables[collection]
	if !ok {
		return nil, nil
	}
	out := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, Row{ID: id, Payload: append([]byte(nil), t.rows[id]...)})
	}
	return out, nil
}

func (p *MemoryProvider) Apply(ctx context.Context, ops ...Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}

	for _, op := range ops {
		t := p.table(op.Collection)
		if op.Delete {
			if _, ok := t.rows[op.ID]; !ok {
				continue
			}
			delete(t.rows, op.ID)
			for i, id := range t.order {
				if id == op.ID {
					t.order = append(t.order[:i], t.order[i+1:]...)
					break
				}
			}
			continue
		}
		if _, ok := t.rows[op.ID]; !ok {
			t.order = append(t.order, op.ID)
		}
		t.rows[op.ID] = append([]byte(nil), op.Payload...)
	}
	return nil
}

func (p *MemoryProvider) table(collection string) *memoryTable {
	t, ok := p.tables[collection]
	if !ok {
		t = &memoryTable{rows: make(map[string][]byte)}
		p.tables[collection] = t
	}
	return t
}
