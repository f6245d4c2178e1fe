package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"project-manager/domain"
)

type blockingQueue struct {
	release chan struct{}
	mu      sync.Mutex
	count   int
}

func (q *blockingQueue) EnqueueCommands(ctx context.Context, envs []domain.CommandEnvelope) error {
	<-q.release
	q.mu.Lock()
	q.count += len(envs)
	q.mu.Unlock()
	return nil
}

func testJob(key string) enqueueJob {
	return enqueueJob{
		userID: "u1",
		envs:   []domain.CommandEnvelope{{UserID: "u1", WorkflowID: "wf1", Command: domain.Command{IdempotencyKey: key, Type: domain.TaskRemoved}}},
		added:  []string{key},
	}
}

func TestTryEnqueueJobTimesOutWhenSaturated(t *testing.T) {
	logger, _ := test.NewNullLogger()
	q := &blockingQueue{release: make(chan struct{})}
	s := NewCommandSender(q, nil, logger, SenderOptions{Workers: 1, Buffer: 1, HandoffTimeout: 10 * time.Millisecond})

	// First job occupies the worker, second fills the buffer.
	if !s.tryEnqueueJob(testJob("a")) {
		t.Fatal("expected first job to be accepted")
	}
	deadline := time.Now().Add(time.Second)
	for !s.tryEnqueueJob(testJob("b")) {
		if time.Now().After(deadline) {
			t.Fatal("expected buffer slot to free up")
		}
	}

	start := time.Now()
	if s.tryEnqueueJob(testJob("c")) {
		t.Fatal("expected saturated sender to refuse the job")
	}
	if waited := time.Since(start); waited < 10*time.Millisecond {
		t.Fatalf("expected to wait for the handoff timeout, waited %v", waited)
	}

	close(q.release)
	s.Close()
	if q.count != 2 {
		t.Fatalf("expected queued jobs to drain on close, got %d", q.count)
	}
}

func TestTryEnqueueJobReturnsFalseWhenClosed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewCommandSender(&fakeCommandQueue{}, nil, logger, SenderOptions{Workers: 1, Buffer: 1})
	s.Close()
	s.Close()
	if s.tryEnqueueJob(testJob("a")) {
		t.Fatal("closed sender must not accept jobs")
	}
}

func TestSendInlineFallback(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := &fakeCommandQueue{}
	s := NewCommandSender(q, nil, logger, SenderOptions{Workers: 1})
	s.Close()

	if err := s.Send(testJob("a")); err != nil {
		t.Fatalf("inline send: %v", err)
	}
	if n := len(q.Envelopes()); n != 1 {
		t.Fatalf("expected inline enqueue, got %d envelopes", n)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "enqueue buffer saturated; processing inline" {
		t.Fatalf("expected saturation warning, got %#v", entry)
	}
}

func TestWorkerFailureRollsBackDedupe(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := newMemDeduper()
	if _, err := d.AddMany(context.Background(), "u1", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	q := &fakeCommandQueue{err: errors.New("queue down")}
	s := NewCommandSender(q, d, logger, SenderOptions{Workers: 1, Buffer: 1})

	if err := s.Send(testJob("a")); err != nil {
		t.Fatalf("send: %v", err)
	}
	s.Close()
	if d.Has("u1", "a") {
		t.Fatal("expected dedupe key to be rolled back")
	}
}

func TestNewCommandSenderRequiresLogger(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without logger")
		}
	}()
	NewCommandSender(&fakeCommandQueue{}, nil, nil, SenderOptions{})
}
