package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

// Cache wraps a Backend with Redis-backed caching for reads. Every successful
// write evicts the user's keys.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or a zero TTL disables caching.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, tasksCacheKey(userID), &tasks) {
		return tasks, nil
	}
	tasks, err := c.base.FetchTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(userID), tasks)
	return tasks, nil
}

func (c *Cache) FetchRewards(ctx context.Context, userID string) (domain.Rewards, error) {
	var rewards domain.Rewards
	if c.load(ctx, rewardsCacheKey(userID), &rewards) {
		return rewards, nil
	}
	rewards, err := c.base.FetchRewards(ctx, userID)
	if err != nil {
		return domain.Rewards{}, err
	}
	c.store(ctx, rewardsCacheKey(userID), rewards)
	return rewards, nil
}

func (c *Cache) InsertTask(ctx context.Context, userID string, draft domain.Draft) (domain.Task, error) {
	t, err := c.base.InsertTask(ctx, userID, draft)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(userID))
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, userID, id string, patch domain.Patch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, userID, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(userID))
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, userID, id string) error {
	if err := c.base.DeleteTask(ctx, userID, id); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey(userID))
	return nil
}

func (c *Cache) SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error {
	if err := c.base.SaveRewards(ctx, userID, rewards); err != nil {
		return err
	}
	c.evict(ctx, rewardsCacheKey(userID))
	return nil
}

// Evict drops both cached keys of a user. Use it after the backing store was
// changed without going through the cache.
func (c *Cache) Evict(ctx context.Context, userID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, tasksCacheKey(userID), rewardsCacheKey(userID)).Err()
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func rewardsCacheKey(userID string) string {
	return "rewards:" + userID
}
