package storage

import (
	"context"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"project-manager/domain"
	"project-manager/intake"
)

func envelopes(n int) []domain.CommandEnvelope {
	envs := make([]domain.CommandEnvelope, n)
	for i := range envs {
		envs[i] = domain.CommandEnvelope{UserID: "u1", WorkflowID: "wf1", Command: domain.Command{IdempotencyKey: "k", Type: domain.TaskRemoved}}
	}
	return envs
}

func TestEnqueueCommandsSendsEveryEnvelope(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{commandQueue: fq, queueConcurrency: 3}

	if err := store.EnqueueCommands(context.Background(), envelopes(7)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(fq.messages) != 7 {
		t.Fatalf("expected 7 messages, got %d", len(fq.messages))
	}
	if fq.max > 3 {
		t.Fatalf("concurrency limit exceeded: %d in flight", fq.max)
	}
	var env domain.CommandEnvelope
	if err := sonic.UnmarshalString(fq.messages[0], &env); err != nil || env.WorkflowID != "wf1" {
		t.Fatalf("unexpected message body %q: %v", fq.messages[0], err)
	}
}

func TestEnqueueCommandsSequentialWhenConfigured(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{commandQueue: fq, queueConcurrency: 1}
	if err := store.EnqueueCommands(context.Background(), envelopes(5)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if fq.max != 1 {
		t.Fatalf("expected sequential sends, observed max in flight: %d", fq.max)
	}
}

func TestEnqueueCommandsPropagatesErrors(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 2
	store := &Storage{commandQueue: fq, queueConcurrency: 2}
	if err := store.EnqueueCommands(context.Background(), envelopes(4)); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnqueueWorkflowGeneration(t *testing.T) {
	gq := newFakeQueue()
	store := &Storage{generationQueue: gq}
	req := intake.GenerationRequest{ProjectID: "p1", WorkflowID: "p1", OrganizationID: "org1", RequestedBy: "u1"}
	if err := store.EnqueueWorkflowGeneration(context.Background(), req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var got intake.GenerationRequest
	if err := sonic.UnmarshalString(gq.messages[0], &got); err != nil || got != req {
		t.Fatalf("unexpected request %#v: %v", got, err)
	}
}

func TestDequeueAndDeleteCommand(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{commandQueue: fq}

	msg, err := store.DequeueCommand(context.Background(), 30*time.Second)
	if err != nil || msg != nil {
		t.Fatalf("expected empty queue, got %v %v", msg, err)
	}

	fq.messages = []string{`{"workflowId":"wf1"}`}
	msg, err = store.DequeueCommand(context.Background(), 30*time.Second)
	if err != nil || msg == nil {
		t.Fatalf("dequeue: %v %v", msg, err)
	}
	if msg.Text != `{"workflowId":"wf1"}` || msg.DequeueCount != 1 || msg.PopReceipt == "" {
		t.Fatalf("unexpected message: %#v", msg)
	}
	if err := store.DeleteCommand(context.Background(), *msg); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fq.messages) != 0 || len(fq.deleted) != 1 {
		t.Fatalf("message not deleted: %#v", fq)
	}
}
