package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"project-manager/domain"
	"project-manager/intake"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type commandQueueClient interface {
	queueClient
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// QueueMessage is a dequeued command message.
type QueueMessage struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

// EnqueueCommands sends one message per command, up to queueConcurrency at a
// time. The first failure is returned after all sends finish.
func (s *Storage) EnqueueCommands(ctx context.Context, envs []domain.CommandEnvelope) error {
	limit := s.queueConcurrency
	if limit <= 0 {
		limit = 1
	}
	bodies := make([]string, len(envs))
	for i, env := range envs {
		data, err := sonic.Marshal(env)
		if err != nil {
			return err
		}
		bodies[i] = string(data)
	}

	sem := make(chan struct{}, limit)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, body := range bodies {
		sem <- struct{}{}
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.commandQueue.EnqueueMessage(ctx, body, nil); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(body)
	}
	wg.Wait()
	return firstErr
}

// EnqueueWorkflowGeneration asks the planner to build a workflow.
func (s *Storage) EnqueueWorkflowGeneration(ctx context.Context, req intake.GenerationRequest) error {
	if s.generationQueue == nil {
		return errors.New("generation queue not configured")
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		return err
	}
	_, err = s.generationQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DequeueCommand hides one message for visibility and returns it, or nil when
// the queue is empty.
func (s *Storage) DequeueCommand(ctx context.Context, visibility time.Duration) (*QueueMessage, error) {
	var opts *azqueue.DequeueMessageOptions
	if visibility > 0 {
		secs := int32(visibility / time.Second)
		opts = &azqueue.DequeueMessageOptions{VisibilityTimeout: &secs}
	}
	resp, err := s.commandQueue.DequeueMessage(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 || resp.Messages[0] == nil {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &QueueMessage{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	if m.DequeueCount != nil {
		msg.DequeueCount = *m.DequeueCount
	}
	return msg, nil
}

// DeleteCommand removes a processed message.
func (s *Storage) DeleteCommand(ctx context.Context, msg QueueMessage) error {
	_, err := s.commandQueue.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil)
	return err
}
