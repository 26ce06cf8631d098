package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdm_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdm_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdm_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// AccessDeniedTotal 认证失败与权限拒绝次数
var AccessDeniedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mdm_access_denied_total",
		Help: "认证失败与权限矩阵拒绝的请求数",
	},
	[]string{"path", "user_role", "reason"},
)

// 主数据仓储指标
var (
	// RepositoryMutationsTotal 记录写操作次数
	RepositoryMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdm_repository_mutations_total",
			Help: "主数据写操作次数",
		},
		[]string{"kind", "action", "result"},
	)

	// HierarchyIntegrityWarnings 悬挂父节点告警次数
	HierarchyIntegrityWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdm_hierarchy_integrity_warnings_total",
			Help: "层级数据完整性告警次数",
		},
		[]string{"kind"},
	)
)

// 审批与通知指标
var (
	ApprovalPendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mdm_approval_pending_total",
			Help: "当前待审批数量",
		},
		[]string{"entity_type"},
	)

	ApprovalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdm_approval_decisions_total",
			Help: "审批决策次数",
		},
		[]string{"entity_type", "status"},
	)

	ApprovalRuleTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdm_approval_rule_triggers_total",
			Help: "审批规则命中次数，fallback 表示未命中规则时使用兜底策略",
		},
		[]string{"entity_type", "source"},
	)

	ApprovalNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdm_approval_notifications_total",
			Help: "审批通知发送次数",
		},
		[]string{"event", "status"},
	)

	WebSocketConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdm_ws_connections",
			Help: "审批事件 WebSocket 在线连接数",
		},
	)
)
