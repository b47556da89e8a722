package cache

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const invalidationChannel = "entitlements:invalidate"

// RedisFanout broadcasts snapshot invalidations over a pub/sub channel so
// every replica drops its local copy. Delivery is best effort; the TTL bound
// covers a missed message.
type RedisFanout struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisFanout(client *redis.Client, log *zap.Logger) *RedisFanout {
	return &RedisFanout{
		client: client,
		log:    log.Named("entitlement.fanout"),
	}
}

func (f *RedisFanout) Publish(ctx context.Context, userID snowflake.ID) error {
	return f.client.Publish(ctx, invalidationChannel, userID.String()).Err()
}

// Run subscribes to the invalidation channel and drops local snapshots until
// ctx is cancelled.
func (f *RedisFanout) Run(ctx context.Context, cache *SnapshotCache) {
	pubsub := f.client.Subscribe(ctx, invalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload := strings.TrimSpace(msg.Payload)
			id, err := snowflake.ParseString(payload)
			if err != nil || id == 0 {
				f.log.Warn("ignoring malformed invalidation message", zap.String("payload", payload))
				continue
			}
			cache.Drop(id)
		}
	}
}
