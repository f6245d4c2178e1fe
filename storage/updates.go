package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// WorkflowUpdate announces that a workflow document changed.
type WorkflowUpdate struct {
	WorkflowID string `json:"workflowId"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// UpdatesBus carries workflow change notifications over Redis pub/sub.
type UpdatesBus struct {
	redis   *redis.Client
	channel string
}

func NewUpdatesBus(client *redis.Client, channel string) *UpdatesBus {
	return &UpdatesBus{redis: client, channel: channel}
}

func (b *UpdatesBus) Publish(ctx context.Context, workflowID string) error {
	data, err := sonic.Marshal(WorkflowUpdate{WorkflowID: workflowID, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, b.channel, data).Err()
}

// Listen calls fn for every update until ctx is cancelled, resubscribing when
// the connection drops.
func (b *UpdatesBus) Listen(ctx context.Context, fn func(WorkflowUpdate)) {
	for {
		sub := b.redis.Subscribe(ctx, b.channel)
		ch := sub.Channel()
		b.drain(ctx, ch, fn)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", b.channel).Error("updates channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *UpdatesBus) drain(ctx context.Context, ch <-chan *redis.Message, fn func(WorkflowUpdate)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var upd WorkflowUpdate
			if err := sonic.UnmarshalString(msg.Payload, &upd); err != nil || upd.WorkflowID == "" {
				log.WithField("payload", msg.Payload).Warn("unable to parse workflow update")
				continue
			}
			fn(upd)
		}
	}
}
