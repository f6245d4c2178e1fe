package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"project-manager/domain"
)

// SenderOptions sizes the command sender's worker pool.
type SenderOptions struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	// HandoffTimeout bounds how long a request waits for buffer space before
	// enqueueing inline.
	HandoffTimeout time.Duration
}

type enqueueJob struct {
	userID string
	envs   []domain.CommandEnvelope
	added  []string // keys added to deduper (for rollback on enqueue failure)
}

// CommandSender hands accepted commands to a bounded pool of workers that
// write them to the command queue.
type CommandSender struct {
	queue          CommandQueue
	deduper        Deduper
	log            *log.Logger
	enqueueTimeout time.Duration
	handoffTimeout time.Duration

	mu     sync.RWMutex
	jobs   chan enqueueJob
	closed bool
	wg     sync.WaitGroup
}

func NewCommandSender(queue CommandQueue, deduper Deduper, logger *log.Logger, opts SenderOptions) *CommandSender {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 5 * time.Second
	}
	if opts.HandoffTimeout <= 0 {
		opts.HandoffTimeout = 15 * time.Millisecond
	}
	s := &CommandSender{
		queue:          queue,
		deduper:        deduper,
		log:            logger,
		enqueueTimeout: opts.EnqueueTimeout,
		handoffTimeout: opts.HandoffTimeout,
		jobs:           make(chan enqueueJob, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("command sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.EnqueueTimeout, opts.HandoffTimeout)
	return s
}

// Close stops accepting jobs and waits for queued ones to drain.
func (s *CommandSender) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *CommandSender) worker(id int) {
	defer s.wg.Done()
	for j := range s.jobs {
		if err := s.enqueue(j); err != nil {
			s.log.Errorf("enqueue failed, err: %v, user: %s, count: %d, worker: %d", err, j.userID, len(j.envs), id)
		}
	}
}

func (s *CommandSender) enqueue(j enqueueJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.enqueueTimeout)
	err := s.queue.EnqueueCommands(ctx, j.envs)
	cancel()
	if err != nil {
		s.rollback(j.userID, j.added)
	}
	return err
}

func (s *CommandSender) rollback(userID string, keys []string) {
	if s.deduper == nil {
		return
	}
	for _, k := range keys {
		if err := s.deduper.Remove(context.Background(), userID, k); err != nil {
			s.log.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", err, k, userID)
		}
	}
}

// Send hands the job to the pool, or enqueues it inline when the buffer stays
// full past the handoff timeout.
func (s *CommandSender) Send(j enqueueJob) error {
	if s.tryEnqueueJob(j) {
		return nil
	}
	s.log.Warn("enqueue buffer saturated; processing inline")
	return s.enqueue(j)
}

func (s *CommandSender) tryEnqueueJob(j enqueueJob) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}

	select {
	case s.jobs <- j:
		return true
	default:
	}

	timer := time.NewTimer(s.handoffTimeout)
	defer timer.Stop()
	select {
	case s.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}
