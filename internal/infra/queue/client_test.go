package queue

import (
	"context"
	"encoding/json"
	"testing"

	"mdm/internal/config"
	"mdm/internal/worker/tasks"
	"mdm/internal/workflow/approval"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	events []approval.ApprovalEvent
}

func (c *recordingClient) EnqueueApprovalNotification(_ context.Context, evt approval.ApprovalEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func (c *recordingClient) Close() error { return nil }

func TestNewApprovalNotifyTask(t *testing.T) {
	evt := approval.ApprovalEvent{Type: approval.EventSubmitted, RequestID: "req-1", AssignedTo: []string{"u-1"}}
	task, opts, err := NewApprovalNotifyTask(evt, 3)
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeApprovalNotify, task.Type())

	var payload tasks.ApprovalNotifyPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "req-1", payload.Event.RequestID)

	var queue string
	for _, opt := range opts {
		if opt.Type() == asynq.QueueOpt {
			queue = opt.Value().(string)
		}
	}
	assert.Equal(t, tasks.QueueCritical, queue)

	_, opts, err = NewApprovalNotifyTask(approval.ApprovalEvent{Type: approval.EventRejected}, 3)
	require.NoError(t, err)
	for _, opt := range opts {
		if opt.Type() == asynq.QueueOpt {
			assert.Equal(t, tasks.QueueDefault, opt.Value())
		}
	}
}

func TestNotifierEnqueues(t *testing.T) {
	client := &recordingClient{}
	n := NewNotifier(client)
	require.NoError(t, n.NotifyApproval(context.Background(), approval.ApprovalEvent{RequestID: "req-7"}))
	require.Len(t, client.events, 1)
	assert.Equal(t, "req-7", client.events[0].RequestID)
}

func TestRedisConnOptByMode(t *testing.T) {
	assert.IsType(t, asynq.RedisClientOpt{}, RedisConnOpt(config.RedisConfig{Host: "localhost", Port: 6379}))
	assert.IsType(t, asynq.RedisFailoverClientOpt{}, RedisConnOpt(config.RedisConfig{Mode: "sentinel"}))
	assert.IsType(t, asynq.RedisClusterClientOpt{}, RedisConnOpt(config.RedisConfig{Mode: "cluster"}))
}
