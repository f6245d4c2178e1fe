package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"project-manager/domain"
)

type workflowSource interface {
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, string, error)
}

// Cache serves workflow reads from Redis and falls back to the table.
type Cache struct {
	base  workflowSource
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a read-through workflow cache. A nil client or a zero ttl
// disables caching.
func NewCache(base workflowSource, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// Workflow returns nil when the workflow does not exist.
func (c *Cache) Workflow(ctx context.Context, id string) (*domain.Workflow, error) {
	if wf, ok := c.load(ctx, id); ok {
		return wf, nil
	}
	wf, _, err := c.base.GetWorkflow(ctx, id)
	if err != nil || wf == nil {
		return nil, err
	}
	c.store(ctx, wf)
	return wf, nil
}

// Evict drops the cached copy of a workflow.
func (c *Cache) Evict(ctx context.Context, id string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, workflowCacheKey(id)).Err()
}

func (c *Cache) load(ctx context.Context, id string) (*domain.Workflow, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, workflowCacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).WithField("workflow", id).Warn("workflow cache read failed")
		}
		return nil, false
	}
	var wf domain.Workflow
	if err := sonic.Unmarshal(data, &wf); err != nil {
		_ = c.redis.Del(ctx, workflowCacheKey(id)).Err()
		return nil, false
	}
	return &wf, true
}

func (c *Cache) store(ctx context.Context, wf *domain.Workflow) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(wf)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, workflowCacheKey(wf.ID), data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("workflow", wf.ID).Warn("workflow cache write failed")
	}
}

func workflowCacheKey(id string) string {
	return "wf:" + id
}
