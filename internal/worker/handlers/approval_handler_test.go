package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mdm/internal/worker/tasks"
	"mdm/internal/workflow/approval"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"
)

type fakeNotifier struct {
	events []approval.ApprovalEvent
	retErr error
}

func (f *fakeNotifier) NotifyApproval(ctx context.Context, evt approval.ApprovalEvent) error {
	f.events = append(f.events, evt)
	return f.retErr
}

func notifyTask(t *testing.T, evt approval.ApprovalEvent) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.ApprovalNotifyPayload{Event: evt})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return asynq.NewTask(tasks.TypeApprovalNotify, payload)
}

func TestApprovalHandlerHandleApprovalNotify_Success(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewApprovalHandler(notifier, zaptest.NewLogger(t))
	evt := approval.ApprovalEvent{Type: approval.EventSubmitted, RequestID: "req-1", AssignedTo: []string{"u-2"}}
	if err := h.HandleApprovalNotify(context.Background(), notifyTask(t, evt)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].RequestID != "req-1" {
		t.Fatalf("notifier not invoked correctly: %+v", notifier.events)
	}
	if got := notifier.events[0].AssignedTo; len(got) != 1 || got[0] != "u-2" {
		t.Fatalf("assignees lost in transit: %v", got)
	}
}

func TestApprovalHandlerHandleApprovalNotify_DeliverError(t *testing.T) {
	expectedErr := errors.New("offline")
	h := NewApprovalHandler(&fakeNotifier{retErr: expectedErr}, zaptest.NewLogger(t))
	task := notifyTask(t, approval.ApprovalEvent{Type: approval.EventApproved, RequestID: "req-2"})
	if err := h.HandleApprovalNotify(context.Background(), task); !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}

func TestApprovalHandlerHandleApprovalNotify_InvalidPayload(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewApprovalHandler(notifier, zaptest.NewLogger(t))
	task := asynq.NewTask(tasks.TypeApprovalNotify, []byte("not-json"))
	err := h.HandleApprovalNotify(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for invalid payload, got %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("notifier should not be called when payload invalid")
	}
}
