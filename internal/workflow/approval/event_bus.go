package approval

import (
	"sync"
	"time"

	"mdm/internal/governance"
)

// EventType 审批事件类型
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventApproved  EventType = "approved"
	EventRejected  EventType = "rejected"
)

// allRequests 订阅全部审批事件的键
const allRequests = "*"

// ApprovalEvent 描述审批状态变化
type ApprovalEvent struct {
	Type        EventType                 `json:"type"`
	RequestID   string                    `json:"requestId"`
	EntityType  governance.Kind           `json:"entityType"`
	EntityID    string                    `json:"entityId"`
	Status      governance.ApprovalStatus `json:"status"`
	ActorID     string                    `json:"actorId"`
	RequestedBy string                    `json:"requestedBy"`
	AssignedTo  []string                  `json:"assignedTo,omitempty"`
	Comments    string                    `json:"comments,omitempty"`
	OccurredAt  time.Time                 `json:"occurredAt"`
}

// Recipients 需要收到通知的用户：提交时为审批人，决策后为申请人
func (evt ApprovalEvent) Recipients() []string {
	if evt.Type == EventSubmitted {
		return dedupStrings(evt.AssignedTo)
	}
	return dedupStrings([]string{evt.RequestedBy})
}

// EventBusConfig 控制事件总线行为
type EventBusConfig struct {
	BufferSize int
}

// ApprovalEventBus 本地事件总线，慢订阅者会丢事件而不会阻塞发布方
type ApprovalEventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan ApprovalEvent
	seq    uint64
	buffer int
}

// NewApprovalEventBus 创建事件总线
func NewApprovalEventBus(cfg *EventBusConfig) *ApprovalEventBus {
	buffer := 1
	if cfg != nil && cfg.BufferSize > 0 {
		buffer = cfg.BufferSize
	}
	return &ApprovalEventBus{
		subs:   make(map[string]map[uint64]chan ApprovalEvent),
		buffer: buffer,
	}
}

// Publish 发布事件，按请求订阅者与全局订阅者分别投递
func (b *ApprovalEventBus) Publish(evt ApprovalEvent) {
	if b == nil {
		return
	}
	// 投递期间持有读锁，取消订阅需写锁才能关闭通道
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{evt.RequestID, allRequests} {
		for _, ch := range b.subs[key] {
			select {
			case ch <- evt:
			default:
				// 接收方处理慢则丢弃，保持非阻塞
			}
		}
	}
}

// Subscribe 订阅指定审批请求的事件
func (b *ApprovalEventBus) Subscribe(requestID string) (<-chan ApprovalEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan ApprovalEvent, b.buffer)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.subs[requestID]; !ok {
		b.subs[requestID] = make(map[uint64]chan ApprovalEvent)
	}
	b.subs[requestID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.removeListener(requestID, id) })
	}
	return ch, cancel
}

// SubscribeAll 订阅所有审批事件
func (b *ApprovalEventBus) SubscribeAll() (<-chan ApprovalEvent, func()) {
	return b.Subscribe(allRequests)
}

// Subscribers 当前订阅者数量
func (b *ApprovalEventBus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, listeners := range b.subs {
		n += len(listeners)
	}
	return n
}

func (b *ApprovalEventBus) removeListener(requestID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.subs[requestID]; ok {
		if ch, exists := listeners[id]; exists {
			delete(listeners, id)
			close(ch)
		}
		if len(listeners) == 0 {
			delete(b.subs, requestID)
		}
	}
}
