package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenworks/thoughtline/internal/thoughts"
)

const (
	redisKeyPrefix   = "thoughts:sent:"
	redisPingTimeout = 5 * time.Second
)

var errEmptyRedisURL = errors.New("cache: redis url is required")

// RedisRecentSends tracks recent sends in Redis so the pre-check survives
// process restarts and is shared across replicas.
type RedisRecentSends struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
}

var _ thoughts.RecentSends = (*RedisRecentSends)(nil)

// NewRedisRecentSends connects to the Redis instance named by the URL and
// verifies it responds before returning.
func NewRedisRecentSends(redisURL string, retention time.Duration, logger *zap.Logger) (*RedisRecentSends, error) {
	if redisURL == "" {
		return nil, errEmptyRedisURL
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRecentSends{client: client, retention: retention, logger: logger}, nil
}

func (index *RedisRecentSends) key(senderID, receiverID thoughts.UserID, day thoughts.DayBucket) string {
	return redisKeyPrefix + sentKey(senderID, receiverID, day)
}

// MarkSent records the pair for the day. Failures are logged and swallowed;
// the storage-level cooldown still holds.
func (index *RedisRecentSends) MarkSent(ctx context.Context, senderID, receiverID thoughts.UserID, day thoughts.DayBucket) {
	if err := index.client.SetEx(ctx, index.key(senderID, receiverID, day), "1", index.retention).Err(); err != nil {
		index.logger.Warn("recent send mark failed", zap.Error(err))
	}
}

// WasSent reports whether the pair was marked. Lookup failures read as not
// seen so the send path keeps moving.
func (index *RedisRecentSends) WasSent(ctx context.Context, senderID, receiverID thoughts.UserID, day thoughts.DayBucket) bool {
	count, err := index.client.Exists(ctx, index.key(senderID, receiverID, day)).Result()
	if err != nil {
		index.logger.Warn("recent send lookup failed", zap.Error(err))
		return false
	}
	return count > 0
}

// Close releases the underlying client.
func (index *RedisRecentSends) Close() error {
	return index.client.Close()
}
