package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"project-manager/domain"
	"project-manager/intake"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	wf    *domain.Workflow
	err   error
}

func (s *countingSource) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil || s.wf == nil {
		return nil, "", s.err
	}
	cp := *s.wf
	return &cp, "1", nil
}

func TestCacheServesSecondReadFromRedis(t *testing.T) {
	mr, rc := newTestRedis(t)
	src := &countingSource{wf: &domain.Workflow{ID: "wf1", OrganizationID: "org1", Milestones: []domain.Milestone{{ID: "A"}}}}
	cache := NewCache(src, rc, time.Minute)

	for i := 0; i < 2; i++ {
		wf, err := cache.Workflow(context.Background(), "wf1")
		if err != nil || wf == nil || wf.Milestones[0].ID != "A" {
			t.Fatalf("read %d: %v %v", i, wf, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected a single backing read, got %d", src.calls)
	}
	if !mr.Exists("wf:wf1") {
		t.Fatal("expected cache key wf:wf1")
	}
	if ttl := mr.TTL("wf:wf1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := cache.Evict(context.Background(), "wf1"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, err := cache.Workflow(context.Background(), "wf1"); err != nil {
		t.Fatalf("read after evict: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expected reload after eviction, got %d calls", src.calls)
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr, rc := newTestRedis(t)
	if err := mr.Set("wf:wf1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	src := &countingSource{wf: &domain.Workflow{ID: "wf1"}}
	cache := NewCache(src, rc, time.Minute)

	if _, err := cache.Workflow(context.Background(), "wf1"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if src.calls != 1 {
		t.Fatal("expected fallback to backing storage")
	}
}

func TestCacheMissingWorkflowAndErrors(t *testing.T) {
	_, rc := newTestRedis(t)
	cache := NewCache(&countingSource{}, rc, time.Minute)
	wf, err := cache.Workflow(context.Background(), "nope")
	if err != nil || wf != nil {
		t.Fatalf("expected nil workflow, got %v %v", wf, err)
	}

	cache = NewCache(&countingSource{err: errors.New("boom")}, rc, time.Minute)
	if _, err := cache.Workflow(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	src := &countingSource{wf: &domain.Workflow{ID: "wf1"}}
	cache := NewCache(src, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.Workflow(context.Background(), "wf1"); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if src.calls != 2 {
		t.Fatalf("expected every read to hit storage, got %d", src.calls)
	}
	if err := cache.Evict(context.Background(), "wf1"); err != nil {
		t.Fatalf("evict: %v", err)
	}
}

func TestDraftStore(t *testing.T) {
	mr, rc := newTestRedis(t)
	drafts := NewDraftStore(rc, time.Hour)
	ctx := context.Background()

	if _, ok, err := drafts.LoadDraft(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected no draft, got %v %v", ok, err)
	}

	s := intake.NewState()
	s.Step = 4
	s.Requirements.Tags = []string{"portal"}
	s.Requirements.Contacts.Billing = &intake.Contact{Name: "Bo"}
	if err := drafts.SaveDraft(ctx, "u1", s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("intake:u1"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	got, ok, err := drafts.LoadDraft(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if got.Step != 4 || got.Requirements.Tags[0] != "portal" || got.Requirements.Contacts.Billing.Name != "Bo" {
		t.Fatalf("unexpected draft: %#v", got)
	}

	if err := drafts.DeleteDraft(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("intake:u1") {
		t.Fatal("draft still present")
	}
}

func TestUpdatesBusDeliversPublishedIDs(t *testing.T) {
	_, rc := newTestRedis(t)
	bus := NewUpdatesBus(rc, "workflow-updates")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan WorkflowUpdate, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Listen(ctx, func(u WorkflowUpdate) {
			select {
			case got <- u:
			default:
			}
		})
	}()

	deadline := time.After(2 * time.Second)
	for {
		if err := bus.Publish(context.Background(), "wf1"); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case u := <-got:
			if u.WorkflowID != "wf1" || u.UpdatedAt == 0 {
				t.Fatalf("unexpected update: %#v", u)
			}
			cancel()
			<-done
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no update received")
		}
	}
}
