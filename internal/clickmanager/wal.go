package clickmanager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisWAL is an optional spillover sink: on top of a primary Sink, it
// writes every flush batch to a Redis list first, so a batch whose primary
// flush never succeeded before a crash can still be replayed on the next
// run. It wraps the primary storage sink rather than replacing it.
type RedisWAL struct {
	client  *redis.Client
	key     string
	primary Sink
}

// NewRedisWAL wraps primary with a Redis-backed write-ahead log at key.
func NewRedisWAL(client *redis.Client, key string, primary Sink) *RedisWAL {
	if key == "" {
		key = "shortlinker:click_wal"
	}
	return &RedisWAL{client: client, key: key, primary: primary}
}

// FlushClicks appends the batch to the WAL list, then delegates to the
// primary sink. If the primary succeeds, the WAL entry is trimmed; if it
// fails, the WAL entry survives for replay via Replay.
func (w *RedisWAL) FlushClicks(ctx context.Context, updates []Update) error {
	encoded, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("clickmanager: encode wal batch: %w", err)
	}

	if err := w.client.RPush(ctx, w.key, encoded).Err(); err != nil {
		// WAL write failure should not block the primary attempt; it just
		// means this batch has no spillover safety net.
		if primaryErr := w.primary.FlushClicks(ctx, updates); primaryErr != nil {
			return primaryErr
		}
		return nil
	}

	if err := w.primary.FlushClicks(ctx, updates); err != nil {
		return err
	}

	w.client.LRem(ctx, w.key, -1, encoded)
	return nil
}

// Replay drains any WAL entries left over from a prior process (one that
// crashed between the Redis write and the primary flush succeeding) back
// through the primary sink. Intended to run once at startup.
func (w *RedisWAL) Replay(ctx context.Context) error {
	for {
		result, err := w.client.LPop(ctx, w.key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("clickmanager: read wal entry: %w", err)
		}

		var updates []Update
		if err := json.Unmarshal([]byte(result), &updates); err != nil {
			return fmt.Errorf("clickmanager: decode wal entry: %w", err)
		}
		if err := w.primary.FlushClicks(ctx, updates); err != nil {
			// put it back at the head so the next Replay call retries it first.
			w.client.LPush(ctx, w.key, result)
			return fmt.Errorf("clickmanager: replay wal entry: %w", err)
		}
	}
}

var _ Sink = (*RedisWAL)(nil)
