package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mdm/internal/metrics"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRetryDelayBacksOffWithCap(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 8*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, maxRetryDelay, retryDelay(8, nil, nil))
	assert.Equal(t, maxRetryDelay, retryDelay(40, nil, nil))
}

func TestCountDeliveries(t *testing.T) {
	const taskType = "test:count"
	results := []error{nil, errors.New("webhook down"), fmt.Errorf("bad payload: %w", asynq.SkipRetry)}
	i := 0
	h := countDeliveries(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		err := results[i]
		i++
		return err
	}))

	for range results {
		_ = h.ProcessTask(context.Background(), asynq.NewTask(taskType, nil))
	}

	for _, status := range []string{"delivered", "retry", "dropped"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ApprovalNotificationsTotal.WithLabelValues(taskType, status)), status)
	}
}
