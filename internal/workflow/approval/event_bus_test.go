package approval

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdm/internal/governance"
)

func TestApprovalEventBus(t *testing.T) {
	bus := NewApprovalEventBus(&EventBusConfig{BufferSize: 2})
	ch, cancel := bus.Subscribe("request-1")
	t.Cleanup(cancel)

	expected := ApprovalEvent{RequestID: "request-1", Status: governance.ApprovalApproved}
	bus.Publish(expected)

	select {
	case evt := <-ch:
		require.Equal(t, expected.RequestID, evt.RequestID)
		require.Equal(t, expected.Status, evt.Status)
	default:
		t.Fatal("expected event to be delivered")
	}

	// cancel 之后通道关闭，重复调用无副作用
	cancel()
	cancel()
	bus.Publish(expected)
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(50 * time.Millisecond):
		t.Fatal("channel should be closed")
	}
	require.Equal(t, 0, bus.Subscribers())
}

func TestApprovalEventBusSubscribeAll(t *testing.T) {
	bus := NewApprovalEventBus(&EventBusConfig{BufferSize: 4})
	all, cancelAll := bus.SubscribeAll()
	defer cancelAll()
	one, cancelOne := bus.Subscribe("request-2")
	defer cancelOne()

	bus.Publish(ApprovalEvent{RequestID: "request-1"})
	bus.Publish(ApprovalEvent{RequestID: "request-2"})

	require.Equal(t, "request-1", (<-all).RequestID)
	require.Equal(t, "request-2", (<-all).RequestID)
	require.Equal(t, "request-2", (<-one).RequestID)
	require.Len(t, one, 0)
}

func TestApprovalEventBusConcurrentCancel(t *testing.T) {
	bus := NewApprovalEventBus(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		_, cancel := bus.Subscribe("request-1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(ApprovalEvent{RequestID: "request-1"})
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, bus.Subscribers())
}

func TestEventRecipients(t *testing.T) {
	submitted := ApprovalEvent{Type: EventSubmitted, RequestedBy: "maker", AssignedTo: []string{"c1", "c2", "c1"}}
	require.Equal(t, []string{"c1", "c2"}, submitted.Recipients())

	approved := ApprovalEvent{Type: EventApproved, RequestedBy: "maker", AssignedTo: []string{"c1"}}
	require.Equal(t, []string{"maker"}, approved.Recipients())
}
