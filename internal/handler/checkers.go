package handler

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/penshort/shortlinker/internal/storage"
)

// StorageChecker adapts storage.Store.Ping to HealthChecker.
type StorageChecker struct {
	store storage.Store
}

// NewStorageChecker wraps store as a HealthChecker named "storage".
func NewStorageChecker(store storage.Store) *StorageChecker {
	return &StorageChecker{store: store}
}

func (c *StorageChecker) Name() string { return "storage" }

func (c *StorageChecker) Check(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// RedisChecker adapts a redis client's Ping to HealthChecker, for
// deployments that wire the click-manager WAL spillover.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker wraps client as a HealthChecker named "redis_wal".
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis_wal" }

func (c *RedisChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ HealthChecker = (*StorageChecker)(nil)
var _ HealthChecker = (*RedisChecker)(nil)
