package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mdm/internal/config"
	"mdm/internal/worker/tasks"
	"mdm/internal/workflow/approval"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueApprovalNotification(ctx context.Context, evt approval.ApprovalEvent) error
	Close() error
}

type asynqClient struct {
	client   *asynq.Client
	maxRetry int
}

// RedisConnOpt 将 Redis 配置转换为 asynq 连接参数
func RedisConnOpt(cfg config.RedisConfig) asynq.RedisConnOpt {
	switch cfg.Mode {
	case "sentinel":
		return asynq.RedisFailoverClientOpt{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
		}
	case "cluster":
		return asynq.RedisClusterClientOpt{
			Addrs:    cfg.ClusterAddrs,
			Password: cfg.Password,
		}
	default:
		return asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig, maxRetry int) Client {
	return &asynqClient{
		client:   asynq.NewClient(RedisConnOpt(cfg)),
		maxRetry: maxRetry,
	}
}

func (c *asynqClient) EnqueueApprovalNotification(ctx context.Context, evt approval.ApprovalEvent) error {
	task, opts, err := NewApprovalNotifyTask(evt, c.maxRetry)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}

// NewApprovalNotifyTask 构造审批通知任务；提交事件进入 critical 队列
func NewApprovalNotifyTask(evt approval.ApprovalEvent, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(tasks.ApprovalNotifyPayload{Event: evt})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	queue := tasks.QueueDefault
	if evt.Type == approval.EventSubmitted {
		queue = tasks.QueueCritical
	}
	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(time.Minute),
		asynq.Queue(queue),
	}
	return asynq.NewTask(tasks.TypeApprovalNotify, payload), opts, nil
}

// Notifier 将审批通知转交给队列，由 worker 异步投递
type Notifier struct {
	client Client
}

// NewNotifier 创建队列通知器
func NewNotifier(client Client) *Notifier {
	return &Notifier{client: client}
}

// NotifyApproval 实现 approval.Notifier
func (n *Notifier) NotifyApproval(ctx context.Context, evt approval.ApprovalEvent) error {
	return n.client.EnqueueApprovalNotification(ctx, evt)
}
