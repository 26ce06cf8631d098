package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/metrics"
	"mdm/internal/repository"
	"mdm/internal/store"
)

const notifyTimeout = 15 * time.Second

// RecordStore 审批流程对业务记录的读写入口
type RecordStore interface {
	// Snapshot 返回记录当前的 JSON，记录不存在时 ok 为 false
	Snapshot(kind governance.Kind, id string) (data json.RawMessage, ok bool, err error)
	// StageStatus 在变更中设置记录的 approvalStatus，记录不存在时返回 false
	StageStatus(c *repository.Change, kind governance.Kind, id string, status governance.ApprovalStatus) (bool, error)
	// StageCommit 在变更中写入审批通过的数据，合并到已有记录或以 id 新建
	StageCommit(c *repository.Change, kind governance.Kind, id string, data repository.Patch, decidedBy, requestedBy string) error
	// LockCommit 在其他锁之前取得提交 data 所需的类型锁
	LockCommit(c *repository.Change, kind governance.Kind, id string, data repository.Patch) error
}

// Notifier 投递审批通知
type Notifier interface {
	NotifyApproval(ctx context.Context, evt ApprovalEvent) error
}

// SubmitInput 提交审批的参数
type SubmitInput struct {
	EntityType governance.Kind
	// EntityID 为空表示新建提议，由系统分配 id；非空时记录必须已存在
	EntityID string
	// Data 候选数据；已有记录时作为补丁合并到当前记录
	Data json.RawMessage
}

// ListFilter 审批请求过滤条件，空字段不过滤
type ListFilter struct {
	Status      governance.ApprovalStatus
	EntityType  governance.Kind
	EntityID    string
	AssignedTo  string
	RequestedBy string
	Search      string
}

type pairKey struct {
	kind governance.Kind
	id   string
}

func (k pairKey) lockKey() string { return "pair/" + string(k.kind) + "/" + k.id }

// Manager 审批管理器，负责审批请求状态机
type Manager struct {
	writer   *repository.Writer
	records  RecordStore
	resolver *ApproverResolver
	ids      repository.IDGenerator
	now      func() time.Time
	logger   *zap.Logger
	tracer   trace.Tracer
	eventBus *ApprovalEventBus
	notifier Notifier
	locks    *store.KeyedMutex
	wg       sync.WaitGroup

	mu       sync.RWMutex
	requests map[string]*governance.ApprovalRequest
	order    []string
	open     map[pairKey]string
}

// ManagerOption 自定义配置
type ManagerOption func(*Manager)

// WithEventBus 注入事件总线
func WithEventBus(bus *ApprovalEventBus) ManagerOption {
	return func(m *Manager) { m.eventBus = bus }
}

// WithNotifier 注入通知器
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithManagerLogger 注入自定义日志器
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator 注入请求 id 生成器
func WithIDGenerator(ids repository.IDGenerator) ManagerOption {
	return func(m *Manager) {
		if ids != nil {
			m.ids = ids
		}
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager 创建审批管理器
func NewManager(writer *repository.Writer, records RecordStore, resolver *ApproverResolver, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		writer:   writer,
		records:  records,
		resolver: resolver,
		ids:      repository.UUIDGenerator{},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("mdm/internal/workflow/approval"),
		locks:    store.NewKeyedMutex(),
		requests: make(map[string]*governance.ApprovalRequest),
		open:     make(map[pairKey]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr
}

// Load 从持久化存储恢复审批请求
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.writer.Provider().LoadAll(ctx, store.CollectionApprovalRequest)
	if err != nil {
		return fmt.Errorf("加载审批请求失败: %w", err)
	}
	requests := make(map[string]*governance.ApprovalRequest, len(rows))
	order := make([]string, 0, len(rows))
	open := make(map[pairKey]string)
	pending := make(map[governance.Kind]float64)
	for _, row := range rows {
		req := new(governance.ApprovalRequest)
		if err := json.Unmarshal(row.Payload, req); err != nil {
			return fmt.Errorf("解析审批请求 %s 失败: %w", row.ID, err)
		}
		if _, dup := requests[req.ID]; !dup {
			order = append(order, req.ID)
		}
		requests[req.ID] = req
		if req.Status == governance.ApprovalPending {
			open[pairKey{req.EntityType, req.EntityID}] = req.ID
			pending[req.EntityType]++
		}
	}

	m.mu.Lock()
	m.requests, m.order, m.open = requests, order, open
	m.mu.Unlock()

	metrics.ApprovalPendingGauge.Reset()
	for kind, n := range pending {
		metrics.ApprovalPendingGauge.WithLabelValues(string(kind)).Set(n)
	}
	return nil
}

// Submit 提交审批：解析审批人并创建 Pending 请求
func (m *Manager) Submit(ctx context.Context, p *governance.Principal, in SubmitInput) (*governance.ApprovalRequest, error) {
	ctx, span := m.tracer.Start(ctx, "approval.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("entity_type", string(in.EntityType)), attribute.String("entity_id", in.EntityID))

	req, err := m.submit(ctx, p, in)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("request_id", req.ID), attribute.Int("approvers", len(req.AssignedTo)))
	return req, nil
}

func (m *Manager) submit(ctx context.Context, p *governance.Principal, in SubmitInput) (*governance.ApprovalRequest, error) {
	if _, err := governance.ParseKind(string(in.EntityType)); err != nil {
		return nil, fmt.Errorf("%w: %v", governance.ErrValidation, err)
	}
	if p == nil {
		return nil, auth.Authorize(nil, auth.ActionCreate)
	}

	entityID := strings.TrimSpace(in.EntityID)
	proposal := entityID == ""
	if proposal {
		id, err := m.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("生成记录 id 失败: %w", err)
		}
		entityID = id
	}
	pair := pairKey{in.EntityType, entityID}

	c := repository.NewChange()
	defer c.Release()
	c.Lock(m.locks, pair.lockKey())

	current, exists, err := m.records.Snapshot(in.EntityType, entityID)
	if err != nil {
		return nil, err
	}
	if !exists && !proposal {
		return nil, fmt.Errorf("%w: %s %s", governance.ErrNotFound, in.EntityType, entityID)
	}
	action := auth.ActionCreate
	if exists {
		action = auth.ActionEdit
	}
	if err := auth.Authorize(p, action); err != nil {
		return nil, err
	}
	if openID, ok := m.openRequest(pair); ok {
		return nil, fmt.Errorf("%w: request %s is open for %s %s", governance.ErrAlreadyPending, openID, pair.kind, pair.id)
	}

	data, err := candidateData(current, exists, in.Data)
	if err != nil {
		return nil, err
	}
	candidate, err := NewCandidate(in.EntityType, data)
	if err != nil {
		return nil, err
	}
	res, err := m.resolver.Resolve(candidate)
	if err != nil {
		return nil, err
	}

	id, err := m.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("生成审批请求 id 失败: %w", err)
	}
	req := &governance.ApprovalRequest{
		ID:             id,
		EntityType:     in.EntityType,
		EntityID:       entityID,
		RequestedBy:    p.UserID,
		AssignedTo:     res.Approvers,
		Status:         governance.ApprovalPending,
		Data:           data,
		CreatedDate:    m.now(),
		TriggeredRules: res.TriggeredRules,
	}

	if err := c.Put(store.CollectionApprovalRequest, req.ID, req); err != nil {
		return nil, err
	}
	if exists {
		if _, err := m.records.StageStatus(c, in.EntityType, entityID, governance.ApprovalPending); err != nil {
			return nil, err
		}
	}
	if err := m.stageAudit(c, governance.ActionSubmitForApproval, req, p.UserID, map[string]any{
		"requestId":  req.ID,
		"assignedTo": req.AssignedTo,
	}); err != nil {
		return nil, err
	}
	c.OnCommit(func() {
		m.mu.Lock()
		m.requests[req.ID] = req
		m.order = append(m.order, req.ID)
		m.open[pair] = req.ID
		m.mu.Unlock()
	})
	if err := m.writer.Commit(ctx, c); err != nil {
		return nil, err
	}

	metrics.ApprovalPendingGauge.WithLabelValues(string(req.EntityType)).Inc()
	source := "rule"
	if res.Fallback {
		source = "fallback"
	}
	metrics.ApprovalRuleTriggersTotal.WithLabelValues(string(req.EntityType), source).Inc()
	m.logger.Info("审批请求已提交",
		zap.String("requestId", req.ID),
		zap.String("entityType", string(req.EntityType)),
		zap.String("entityId", req.EntityID),
		zap.Strings("assignedTo", req.AssignedTo),
		zap.Bool("fallback", res.Fallback),
	)

	evt := m.eventFor(EventSubmitted, req, p.UserID)
	m.publishEvent(evt)
	m.dispatchNotification(evt)
	return req.Clone(), nil
}

// Approve 批准请求，并在同一批次中提交数据与审计记录
func (m *Manager) Approve(ctx context.Context, p *governance.Principal, requestID, comments string) (*governance.ApprovalRequest, error) {
	ctx, span := m.tracer.Start(ctx, "approval.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	req, err := m.decide(ctx, p, requestID, comments, governance.ApprovalApproved)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	return req, nil
}

// Reject 拒绝请求，comments 必填
func (m *Manager) Reject(ctx context.Context, p *governance.Principal, requestID, comments string) (*governance.ApprovalRequest, error) {
	ctx, span := m.tracer.Start(ctx, "approval.Reject")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	req, err := m.decide(ctx, p, requestID, comments, governance.ApprovalRejected)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	return req, nil
}

func (m *Manager) decide(ctx context.Context, p *governance.Principal, requestID, comments string, outcome governance.ApprovalStatus) (*governance.ApprovalRequest, error) {
	action, auditAction, eventType := auth.ActionApprove, governance.ActionApprove, EventApproved
	if outcome == governance.ApprovalRejected {
		action, auditAction, eventType = auth.ActionReject, governance.ActionReject, EventRejected
	}
	if err := auth.Authorize(p, action); err != nil {
		return nil, err
	}
	comments = strings.TrimSpace(comments)
	if outcome == governance.ApprovalRejected && comments == "" {
		return nil, fmt.Errorf("%w: comments are required to reject a request", governance.ErrValidation)
	}

	peek, ok := m.current(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: approval request %s", governance.ErrNotFound, requestID)
	}

	c := repository.NewChange()
	defer c.Release()
	var data repository.Patch
	if outcome == governance.ApprovalApproved && peek.Status == governance.ApprovalPending {
		// 请求的对象与数据不可变，可以在请求锁之前按它们取类型锁
		var err error
		if data, err = repository.ParsePatch(peek.Data); err != nil {
			return nil, err
		}
		if err := m.records.LockCommit(c, peek.EntityType, peek.EntityID, data); err != nil {
			return nil, err
		}
	}
	c.Lock(m.locks, "request/"+requestID)

	current, _ := m.current(requestID)
	if current.Status != governance.ApprovalPending {
		return nil, fmt.Errorf("%w: request %s is %s", governance.ErrAlreadyResolved, requestID, current.Status)
	}
	if p.UserRole != governance.UserRoleAdmin && !containsString(current.AssignedTo, p.UserID) {
		return nil, fmt.Errorf("%w: %s is not an assigned approver of request %s", governance.ErrForbidden, p.UserID, requestID)
	}

	pair := pairKey{current.EntityType, current.EntityID}
	c.Lock(m.locks, pair.lockKey())

	if outcome == governance.ApprovalApproved {
		if err := m.records.StageCommit(c, current.EntityType, current.EntityID, data, p.UserID, current.RequestedBy); err != nil {
			return nil, err
		}
	} else if _, err := m.records.StageStatus(c, current.EntityType, current.EntityID, governance.ApprovalRejected); err != nil {
		return nil, err
	}

	now := m.now()
	resolved := current.Clone()
	resolved.Status = outcome
	resolved.Comments = comments
	resolved.ResolvedBy = p.UserID
	resolved.ResolvedDate = &now

	if err := c.Put(store.CollectionApprovalRequest, resolved.ID, resolved); err != nil {
		return nil, err
	}
	changes := map[string]any{"requestId": resolved.ID}
	if comments != "" {
		changes["comments"] = comments
	}
	if err := m.stageAudit(c, auditAction, resolved, p.UserID, changes); err != nil {
		return nil, err
	}
	c.OnCommit(func() {
		m.mu.Lock()
		m.requests[resolved.ID] = resolved
		if m.open[pair] == resolved.ID {
			delete(m.open, pair)
		}
		m.mu.Unlock()
	})
	if err := m.writer.Commit(ctx, c); err != nil {
		return nil, err
	}

	metrics.ApprovalPendingGauge.WithLabelValues(string(resolved.EntityType)).Dec()
	m.recordDecisionMetric(resolved.EntityType, outcome)
	m.logger.Info("审批请求已处理",
		zap.String("requestId", resolved.ID),
		zap.String("status", string(outcome)),
		zap.String("resolvedBy", p.UserID),
	)

	evt := m.eventFor(eventType, resolved, p.UserID)
	m.publishEvent(evt)
	m.dispatchNotification(evt)
	return resolved.Clone(), nil
}

// Simulate 评估规则并返回解析结果，不产生任何副作用
func (m *Manager) Simulate(kind governance.Kind, data json.RawMessage) (*Resolution, error) {
	if _, err := governance.ParseKind(string(kind)); err != nil {
		return nil, fmt.Errorf("%w: %v", governance.ErrValidation, err)
	}
	candidate, err := NewCandidate(kind, data)
	if err != nil {
		return nil, err
	}
	res, err := m.resolver.Resolve(candidate)
	if err != nil && errors.Is(err, governance.ErrValidation) && res != nil {
		res.Denied = err.Error()
		return res, nil
	}
	return res, err
}

// Get 获取审批请求
func (m *Manager) Get(requestID string) (*governance.ApprovalRequest, error) {
	req, ok := m.current(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: approval request %s", governance.ErrNotFound, requestID)
	}
	return req.Clone(), nil
}

// List 按创建时间倒序返回过滤后的请求
func (m *Manager) List(filter ListFilter) []governance.ApprovalRequest {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	m.mu.RLock()
	out := make([]governance.ApprovalRequest, 0, len(m.order))
	for _, id := range m.order {
		req := m.requests[id]
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && req.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && req.EntityID != filter.EntityID {
			continue
		}
		if filter.AssignedTo != "" && !containsString(req.AssignedTo, filter.AssignedTo) {
			continue
		}
		if filter.RequestedBy != "" && req.RequestedBy != filter.RequestedBy {
			continue
		}
		if search != "" && !matchesSearch(req, search) {
			continue
		}
		out = append(out, *req.Clone())
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedDate.After(out[j].CreatedDate)
	})
	return out
}

// LockPair 在变更中持有记录的审批锁。删除记录前调用，与提交审批互斥
func (m *Manager) LockPair(c *repository.Change, kind governance.Kind, entityID string) {
	c.Lock(m.locks, pairKey{kind, entityID}.lockKey())
}

// OpenRequest 返回记录当前 Pending 的请求 id
func (m *Manager) OpenRequest(kind governance.Kind, entityID string) (string, bool) {
	return m.openRequest(pairKey{kind, entityID})
}

// PendingCount 待审批数量
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// Subscribe 订阅审批事件
func (m *Manager) Subscribe(requestID string) (<-chan ApprovalEvent, func()) {
	if m.eventBus == nil {
		return nil, func() {}
	}
	return m.eventBus.Subscribe(requestID)
}

// SubscribeAll 订阅全部审批事件
func (m *Manager) SubscribeAll() (<-chan ApprovalEvent, func()) {
	if m.eventBus == nil {
		return nil, func() {}
	}
	return m.eventBus.SubscribeAll()
}

// Wait 等待所有异步通知完成，用于优雅退出与测试
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) openRequest(pair pairKey) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[pair]
	return id, ok
}

func (m *Manager) current(requestID string) (*governance.ApprovalRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[requestID]
	return req, ok
}

func (m *Manager) stageAudit(c *repository.Change, action governance.AuditAction, req *governance.ApprovalRequest, userID string, changes map[string]any) error {
	entry, err := m.writer.Trail().NewEntry(action, req.EntityType, req.EntityID, userID, changes)
	if err != nil {
		return err
	}
	return c.Audit(entry)
}

func (m *Manager) eventFor(t EventType, req *governance.ApprovalRequest, actor string) ApprovalEvent {
	return ApprovalEvent{
		Type:        t,
		RequestID:   req.ID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Status:      req.Status,
		ActorID:     actor,
		RequestedBy: req.RequestedBy,
		AssignedTo:  append([]string(nil), req.AssignedTo...),
		Comments:    req.Comments,
		OccurredAt:  m.now(),
	}
}

func (m *Manager) publishEvent(evt ApprovalEvent) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(evt)
}

// dispatchNotification 异步投递通知，失败只记录日志
func (m *Manager) dispatchNotification(evt ApprovalEvent) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := m.notifier.NotifyApproval(ctx, evt); err != nil {
			metrics.ApprovalNotificationsTotal.WithLabelValues(string(evt.Type), "failed").Inc()
			m.logger.Warn("发送审批通知失败", zap.String("requestId", evt.RequestID), zap.String("event", string(evt.Type)), zap.Error(err))
			return
		}
		metrics.ApprovalNotificationsTotal.WithLabelValues(string(evt.Type), "dispatched").Inc()
	}()
}

func (m *Manager) recordDecisionMetric(kind governance.Kind, status governance.ApprovalStatus) {
	metrics.ApprovalDecisionsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

// candidateData 计算候选完整数据：已有记录时将补丁合并到当前快照
func candidateData(current json.RawMessage, exists bool, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		if !exists {
			return nil, fmt.Errorf("%w: data is required when proposing a new record", governance.ErrValidation)
		}
		return current, nil
	}
	overlay, err := repository.ParsePatch(patch)
	if err != nil {
		return nil, err
	}
	base := repository.Patch{}
	if exists {
		if base, err = repository.ParsePatch(current); err != nil {
			return nil, err
		}
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode candidate: %w", err)
	}
	return merged, nil
}

func matchesSearch(req *governance.ApprovalRequest, needle string) bool {
	haystack := []string{req.ID, string(req.EntityType), req.EntityID, req.RequestedBy, req.Comments, string(req.Data)}
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func containsString(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(governance.KindOf(err)))
}
