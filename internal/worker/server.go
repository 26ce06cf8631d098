package worker

import (
	"context"
	"errors"
	"time"

	"mdm/internal/config"
	"mdm/internal/infra/queue"
	"mdm/internal/metrics"
	"mdm/internal/worker/handlers"
	"mdm/internal/worker/tasks"
	"mdm/internal/workflow/approval"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const maxRetryDelay = 5 * time.Minute

// Server 消费审批通知队列，把事件交给实际投递通道
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建 worker，deliver 为实际投递通道（WebSocket / Webhook）
func NewServer(redisCfg config.RedisConfig, queueCfg config.QueueConfig, deliver approval.Notifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := queueCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(queue.RedisConnOpt(redisCfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			tasks.QueueCritical: 6,
			tasks.QueueDefault:  3,
		},
		RetryDelayFunc: retryDelay,
		Logger:         logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("通知任务失败",
				zap.String("type", task.Type()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Use(countDeliveries)
	mux.HandleFunc(tasks.TypeApprovalNotify, handlers.NewApprovalHandler(deliver, logger).HandleApprovalNotify)

	return &Server{server: srv, mux: mux, logger: logger}
}

// retryDelay 指数退避：2s、4s、8s… 上限 5 分钟
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n > 8 {
		return maxRetryDelay
	}
	d := time.Duration(1<<uint(n+1)) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// countDeliveries 按结果统计投递次数，载荷损坏的任务记为 dropped
func countDeliveries(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		err := next.ProcessTask(ctx, t)
		status := "delivered"
		switch {
		case errors.Is(err, asynq.SkipRetry):
			status = "dropped"
		case err != nil:
			status = "retry"
		}
		metrics.ApprovalNotificationsTotal.WithLabelValues(t.Type(), status).Inc()
		return err
	})
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("通知 worker 启动")
	return s.server.Start(s.mux)
}

// Shutdown 等待处理中的任务结束后退出
func (s *Server) Shutdown() {
	s.logger.Info("通知 worker 停止")
	s.server.Shutdown()
}
