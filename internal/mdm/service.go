// Package mdm 主数据治理门面：每个受治理类型一个仓储，
// 每条命令执行鉴权与引用完整性校验，提交经由审批流转
package mdm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/repository"
	"mdm/internal/store"
	"mdm/internal/workflow/approval"
)

var zeroTime time.Time

// DeletePolicy 决定层级节点被删除后子节点的去向
type DeletePolicy string

const (
	// DeleteRestrict 仍有子节点时拒绝删除
	DeleteRestrict DeletePolicy = "restrict"
	// DeleteOrphan 同一批次内把子节点变为根节点
	DeleteOrphan DeletePolicy = "orphan"
)

// ParseDeletePolicy 接受 restrict、orphan 或空值（即 restrict）
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch DeletePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteRestrict:
		return DeleteRestrict, nil
	case DeleteOrphan:
		return DeleteOrphan, nil
	}
	return "", fmt.Errorf("unknown delete policy %q", s)
}

// Config 治理策略
type Config struct {
	DeletePolicy    DeletePolicy
	Fallback        approval.FallbackConfig
	EventBufferSize int
}

// Option Service 可选项
type Option func(*options)

type options struct {
	logger   *zap.Logger
	ids      repository.IDGenerator
	now      func() time.Time
	notifier approval.Notifier
}

// WithLogger 门面、仓储与审批流共用的日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator 替换记录、审批请求与审计记录的 ID 生成器
func WithIDGenerator(ids repository.IDGenerator) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithNotifier 向审批人与申请人投递审批事件
func WithNotifier(n approval.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// Service 受治理集合的命令与查询入口
type Service struct {
	logger       *zap.Logger
	now          func() time.Time
	deletePolicy DeletePolicy
	writer       *repository.Writer
	kindLocks    *repository.KindLocks
	approvals    *approval.Manager

	Categories  *Typed[governance.Category, *governance.Category]
	Geographies *Typed[governance.Geography, *governance.Geography]
	Roles       *Typed[governance.Role, *governance.Role]
	Users       *Typed[governance.User, *governance.User]
	Attributes  *Typed[governance.Attribute, *governance.Attribute]
	Entities    *Typed[governance.Entity, *governance.Entity]
	Rules       *Typed[governance.ApprovalRule, *governance.ApprovalRule]

	collections map[governance.Kind]Collection
}

// New 在 provider 之上组装仓储与审批流，对外服务前需先调用 Load
func New(provider store.Provider, cfg Config, opts ...Option) *Service {
	o := options{
		logger: zap.NewNop(),
		ids:    repository.UUIDGenerator{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.DeletePolicy == "" {
		cfg.DeletePolicy = DeleteRestrict
	}

	writer := repository.NewWriter(provider, repository.NewAuditTrail(o.ids, o.now))
	repoOpts := []repository.Option{
		repository.WithIDGenerator(o.ids),
		repository.WithClock(o.now),
		repository.WithLogger(o.logger),
	}
	s := &Service{
		logger:       o.logger,
		now:          o.now,
		deletePolicy: cfg.DeletePolicy,
		writer:       writer,
		kindLocks:    repository.NewKindLocks(),
	}

	s.Categories = withHierarchy(newTyped(s, repository.New[governance.Category](governance.KindCategory, writer, repoOpts...)))
	s.Categories.validate = s.validateCategory
	s.Categories.refs = s.categoryRefs

	s.Geographies = withHierarchy(newTyped(s, repository.New[governance.Geography](governance.KindGeography, writer, repoOpts...)))
	s.Geographies.validate = s.validateGeography
	s.Geographies.refs = s.geographyRefs

	s.Roles = withHierarchy(newTyped(s, repository.New[governance.Role](governance.KindRole, writer, repoOpts...)))
	s.Roles.validate = s.validateRole
	s.Roles.refs = s.roleRefs

	s.Users = newTyped(s, repository.New[governance.User](governance.KindUser, writer, repoOpts...))
	s.Users.validate = s.validateUser
	s.Users.refs = s.userRefs
	s.Users.scrub = func(u *governance.User) { u.PasswordHash = "" }
	s.Users.hidden = []string{"passwordHash"}

	s.Attributes = newTyped(s, repository.New[governance.Attribute](governance.KindAttribute, writer, repoOpts...))
	s.Attributes.validate = s.validateAttribute
	s.Attributes.refs = s.attributeRefs

	s.Entities = newTyped(s, repository.New[governance.Entity](governance.KindEntity, writer, repoOpts...))
	s.Entities.validate = s.validateEntity

	s.Rules = newTyped(s, repository.New[governance.ApprovalRule](governance.KindApprovalRule, writer, repoOpts...))
	s.Rules.validate = s.validateRule

	s.collections = map[governance.Kind]Collection{
		governance.KindCategory:     s.Categories,
		governance.KindGeography:    s.Geographies,
		governance.KindRole:         s.Roles,
		governance.KindUser:         s.Users,
		governance.KindAttribute:    s.Attributes,
		governance.KindEntity:       s.Entities,
		governance.KindApprovalRule: s.Rules,
	}

	bus := approval.NewApprovalEventBus(&approval.EventBusConfig{BufferSize: cfg.EventBufferSize})
	resolver := approval.NewApproverResolver(nil, directory{s}, cfg.Fallback)
	managerOpts := []approval.ManagerOption{
		approval.WithEventBus(bus),
		approval.WithManagerLogger(o.logger),
		approval.WithIDGenerator(o.ids),
		approval.WithClock(o.now),
	}
	if o.notifier != nil {
		managerOpts = append(managerOpts, approval.WithNotifier(o.notifier))
	}
	s.approvals = approval.NewManager(writer, s, resolver, managerOpts...)
	return s
}

// Load 读取审计日志、全部集合与审批请求
func (s *Service) Load(ctx context.Context) error {
	if err := s.writer.Trail().Load(ctx, s.writer.Provider()); err != nil {
		return fmt.Errorf("load audit trail: %w", err)
	}
	for _, kind := range governance.Kinds {
		if err := s.collections[kind].load(ctx); err != nil {
			return fmt.Errorf("load %s: %w", kind, err)
		}
	}
	if err := s.approvals.Load(ctx); err != nil {
		return err
	}
	s.logger.Info("治理状态已加载",
		zap.Int("audit_entries", s.writer.Trail().Len()),
		zap.Int("pending_approvals", s.approvals.PendingCount()))
	return nil
}

// Collection 按类型返回集合
func (s *Service) Collection(kind governance.Kind) (Collection, error) {
	c, ok := s.collections[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown record kind %q", governance.ErrValidation, kind)
	}
	return c, nil
}

// Approvals 暴露审批流，用于事件订阅与关闭
func (s *Service) Approvals() *approval.Manager { return s.approvals }

// Import 以记录自带的 id 存储，种子数据在尚无用户时借此初始化
func (s *Service) Import(ctx context.Context, kind governance.Kind, raw []byte, actor string) error {
	c, err := s.Collection(kind)
	if err != nil {
		return err
	}
	return c.importJSON(ctx, raw, actor)
}

// SubmitForApproval 为记录发起审批；id 为空表示提议新建记录
func (s *Service) SubmitForApproval(ctx context.Context, p *governance.Principal, kind governance.Kind, id string, data json.RawMessage) (*governance.ApprovalRequest, error) {
	return s.approvals.Submit(ctx, p, approval.SubmitInput{EntityType: kind, EntityID: id, Data: data})
}

// Approve 通过待审批请求并提交其数据
func (s *Service) Approve(ctx context.Context, p *governance.Principal, requestID, comments string) (*governance.ApprovalRequest, error) {
	return s.approvals.Approve(ctx, p, requestID, comments)
}

// Reject 驳回待审批请求，不提交数据
func (s *Service) Reject(ctx context.Context, p *governance.Principal, requestID, comments string) (*governance.ApprovalRequest, error) {
	return s.approvals.Reject(ctx, p, requestID, comments)
}

// ApprovalRequests 按时间倒序列出请求
func (s *Service) ApprovalRequests(p *governance.Principal, filter approval.ListFilter) ([]governance.ApprovalRequest, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	return s.approvals.List(filter), nil
}

// ApprovalRequest 返回单个请求
func (s *Service) ApprovalRequest(p *governance.Principal, id string) (*governance.ApprovalRequest, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	return s.approvals.Get(id)
}

// ApprovalEvents 持续推送审批事件直到调用 cancel
func (s *Service) ApprovalEvents(p *governance.Principal) (<-chan approval.ApprovalEvent, func(), error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.approvals.SubscribeAll()
	return ch, cancel, nil
}

// Simulate 对 data 评估审批规则，无副作用
func (s *Service) Simulate(p *governance.Principal, kind governance.Kind, data json.RawMessage) (*approval.Resolution, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	return s.approvals.Simulate(kind, data)
}

// AuditLogs 按时间正序列出审计记录
func (s *Service) AuditLogs(p *governance.Principal, filter repository.AuditFilter) ([]governance.AuditLog, error) {
	if err := auth.Authorize(p, auth.ActionView); err != nil {
		return nil, err
	}
	return s.writer.Trail().List(filter), nil
}

// Principal 解析调用方，未知用户返回 NotFound，停用用户返回 Forbidden
func (s *Service) Principal(userID string) (*governance.Principal, error) {
	u, err := s.Users.repo.Get(userID)
	if err != nil {
		return nil, err
	}
	if u.Status == governance.StatusInactive {
		return nil, fmt.Errorf("%w: user %s is inactive", governance.ErrForbidden, userID)
	}
	p := governance.PrincipalFromUser(u)
	return &p, nil
}

// Authenticate 校验邮箱与密码，返回不含密码哈希的用户
func (s *Service) Authenticate(email, password string) (governance.User, error) {
	u, ok := s.findUserByEmail(email)
	if !ok || u.PasswordHash == "" {
		return governance.User{}, auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return governance.User{}, err
	}
	if u.Status == governance.StatusInactive {
		return governance.User{}, fmt.Errorf("%w: user %s is inactive", governance.ErrForbidden, u.ID)
	}
	u.PasswordHash = ""
	return u, nil
}

// SetPassword 保存新的 bcrypt 哈希。用户可改自己的密码，改他人密码需要 Admin
func (s *Service) SetPassword(ctx context.Context, p *governance.Principal, userID, password string) error {
	if p == nil || !p.Active || (p.UserID != userID && p.UserRole != governance.UserRoleAdmin) {
		return fmt.Errorf("%w: cannot change the password of %s", governance.ErrForbidden, userID)
	}
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", governance.ErrValidation)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	patch, err := repository.NewPatch(map[string]string{"passwordHash": hash})
	if err != nil {
		return err
	}
	_, err = s.Users.repo.Update(ctx, userID, patch, p.UserID)
	return err
}

func (s *Service) findUserByEmail(email string) (governance.User, bool) {
	email = strings.TrimSpace(email)
	for _, u := range s.Users.repo.List() {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return governance.User{}, false
}

// directory 规则引擎读取的参考数据
type directory struct{ s *Service }

func (d directory) ApprovalRules() []governance.ApprovalRule { return d.s.Rules.repo.List() }
func (d directory) Attributes() []governance.Attribute       { return d.s.Attributes.repo.List() }
func (d directory) Users() []governance.User                 { return d.s.Users.repo.List() }

// Snapshot 实现 approval.RecordStore
func (s *Service) Snapshot(kind governance.Kind, id string) (json.RawMessage, bool, error) {
	c, err := s.Collection(kind)
	if err != nil {
		return nil, false, err
	}
	return c.snapshot(id)
}

// StageStatus 实现 approval.RecordStore
func (s *Service) StageStatus(ch *repository.Change, kind governance.Kind, id string, status governance.ApprovalStatus) (bool, error) {
	c, err := s.Collection(kind)
	if err != nil {
		return false, err
	}
	return c.stageStatus(ch, id, status)
}

// StageCommit 实现 approval.RecordStore
func (s *Service) StageCommit(ch *repository.Change, kind governance.Kind, id string, data repository.Patch, decidedBy, requestedBy string) error {
	c, err := s.Collection(kind)
	if err != nil {
		return err
	}
	return c.stageCommit(ch, id, data, decidedBy, requestedBy)
}

// LockCommit 实现 approval.RecordStore
func (s *Service) LockCommit(ch *repository.Change, kind governance.Kind, id string, data repository.Patch) error {
	c, err := s.Collection(kind)
	if err != nil {
		return err
	}
	return c.lockCommit(ch, id, data)
}
