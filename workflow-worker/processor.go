package main

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"project-manager/domain"
	"project-manager/storage"
)

type commandQueue interface {
	DequeueCommand(ctx context.Context, visibility time.Duration) (*storage.QueueMessage, error)
	DeleteCommand(ctx context.Context, msg storage.QueueMessage) error
}

type commandApplier interface {
	Apply(ctx context.Context, env domain.CommandEnvelope) (*domain.Workflow, error)
}

type cacheEvicter interface {
	Evict(ctx context.Context, id string) error
}

type updatePublisher interface {
	Publish(ctx context.Context, workflowID string) error
}

type outcome string

const (
	outcomeApplied   outcome = "applied"
	outcomeMalformed outcome = "malformed"
	outcomeRejected  outcome = "rejected"
	outcomePoison    outcome = "poison"
	outcomeRetry     outcome = "retry"
)

type processor struct {
	queue      commandQueue
	service    commandApplier
	cache      cacheEvicter
	updates    updatePublisher
	visibility time.Duration
	maxDequeue int64
	idle       time.Duration
}

// run polls the command queue until ctx is cancelled.
func (p *processor) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := p.queue.DequeueCommand(ctx, p.visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("receive")
			p.sleep(ctx)
			continue
		}
		if msg == nil {
			p.sleep(ctx)
			continue
		}
		p.handle(ctx, *msg)
	}
}

func (p *processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// handle applies one message. Everything except a transient failure removes
// the message from the queue.
func (p *processor) handle(ctx context.Context, msg storage.QueueMessage) outcome {
	entry := log.WithFields(log.Fields{"message": msg.ID, "dequeueCount": msg.DequeueCount})

	var env domain.CommandEnvelope
	if err := sonic.UnmarshalString(msg.Text, &env); err != nil || env.WorkflowID == "" || env.Command.Type == "" {
		entry.WithField("payload", msg.Text).Warn("dropping malformed command")
		p.delete(ctx, entry, msg)
		return outcomeMalformed
	}
	entry = entry.WithFields(log.Fields{"workflow": env.WorkflowID, "command": env.Command.Type, "key": env.Command.IdempotencyKey})

	if err := p.process(ctx, env); err != nil {
		switch {
		case domain.IsPermanent(err):
			entry.WithError(err).Warn("command rejected")
			p.delete(ctx, entry, msg)
			return outcomeRejected
		case p.maxDequeue > 0 && msg.DequeueCount >= p.maxDequeue:
			entry.WithError(err).Error("command failed too many times, dropping")
			p.delete(ctx, entry, msg)
			return outcomePoison
		default:
			entry.WithError(err).Error("command failed, leaving for redelivery")
			return outcomeRetry
		}
	}
	p.delete(ctx, entry, msg)
	return outcomeApplied
}

func (p *processor) process(ctx context.Context, env domain.CommandEnvelope) error {
	if _, err := p.service.Apply(ctx, env); err != nil {
		return err
	}
	if p.cache != nil {
		if err := p.cache.Evict(ctx, env.WorkflowID); err != nil {
			log.WithError(err).WithField("workflow", env.WorkflowID).Warn("cache evict failed")
		}
	}
	if p.updates != nil {
		if err := p.updates.Publish(ctx, env.WorkflowID); err != nil {
			log.WithError(err).WithField("workflow", env.WorkflowID).Error("Unable to publish workflow update")
		}
	}
	return nil
}

func (p *processor) delete(ctx context.Context, entry *log.Entry, msg storage.QueueMessage) {
	if err := p.queue.DeleteCommand(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		entry.WithError(err).Error("delete message")
	}
}
