package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultReplayTTL = 24 * time.Hour

// ReplayGuard remembers delivery ids so a redelivered webhook is not
// dispatched twice.
type ReplayGuard interface {
	// FirstDelivery records the id and reports whether it was unseen.
	FirstDelivery(ctx context.Context, source, deliveryID string) (bool, error)
	// Forget drops the id so the sender's retry is accepted again.
	Forget(ctx context.Context, source, deliveryID string) error
}

type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (g *RedisReplayGuard) FirstDelivery(ctx context.Context, source, deliveryID string) (bool, error) {
	return g.client.SetNX(ctx, replayKey(source, deliveryID), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}

func (g *RedisReplayGuard) Forget(ctx context.Context, source, deliveryID string) error {
	return g.client.Del(ctx, replayKey(source, deliveryID)).Err()
}

func replayKey(source, deliveryID string) string {
	return "crossdispatch:webhook:" + source + ":" + deliveryID
}

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var _ ReplayGuard = (*RedisReplayGuard)(nil)
