package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"project-manager/intake"
)

// DraftStore keeps one unfinished intake form per user in Redis. The TTL is
// refreshed on every save.
type DraftStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewDraftStore(client *redis.Client, ttl time.Duration) *DraftStore {
	return &DraftStore{redis: client, ttl: ttl}
}

func (d *DraftStore) LoadDraft(ctx context.Context, userID string) (intake.State, bool, error) {
	data, err := d.redis.Get(ctx, draftKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return intake.State{}, false, nil
		}
		return intake.State{}, false, err
	}
	var s intake.State
	if err := sonic.Unmarshal(data, &s); err != nil {
		return intake.State{}, false, err
	}
	return s, true, nil
}

func (d *DraftStore) SaveDraft(ctx context.Context, userID string, s intake.State) error {
	data, err := sonic.Marshal(s)
	if err != nil {
		return err
	}
	return d.redis.Set(ctx, draftKey(userID), data, d.ttl).Err()
}

func (d *DraftStore) DeleteDraft(ctx context.Context, userID string) error {
	return d.redis.Del(ctx, draftKey(userID)).Err()
}

func draftKey(userID string) string {
	return "intake:" + userID
}
