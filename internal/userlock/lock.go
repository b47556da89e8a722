// Package userlock serializes webhook application per user. A keyed in-process
// mutex covers one replica; when redis is configured a SetNX lock extends the
// guarantee across replicas.
package userlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockKeyFormat = "entitlements:userlock:%s"

	defaultLockTTL    = 30 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type entry struct {
	mu   sync.Mutex
	refs int
}

// Lock hands out per-user critical sections. Release must be called exactly
// once per successful Acquire.
type Lock struct {
	mu      sync.Mutex
	entries map[snowflake.ID]*entry

	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	log    *zap.Logger
}

func New(client *redis.Client, log *zap.Logger) *Lock {
	l := &Lock{
		entries: make(map[snowflake.ID]*entry),
		client:  client,
		ttl:     defaultLockTTL,
		log:     log.Named("userlock"),
	}
	if client != nil {
		l.script = redis.NewScript(lockReleaseScript)
	}
	return l
}

// Acquire blocks until the per-user lock is held or ctx expires. The returned
// release function is safe to defer.
func (l *Lock) Acquire(ctx context.Context, userID snowflake.ID) (func(), error) {
	if userID == 0 {
		return nil, errors.New("userlock: zero user id")
	}

	e := l.checkout(userID)
	e.mu.Lock()

	token, err := l.acquireRemote(ctx, userID)
	if err != nil {
		e.mu.Unlock()
		l.checkin(userID)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.releaseRemote(userID, token)
			e.mu.Unlock()
			l.checkin(userID)
		})
	}
	return release, nil
}

func (l *Lock) checkout(userID snowflake.ID) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[userID]
	if !ok {
		e = &entry{}
		l.entries[userID] = e
	}
	e.refs++
	return e
}

func (l *Lock) checkin(userID snowflake.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[userID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, userID)
	}
}

// acquireRemote spins on SetNX until the lock is won or ctx expires. Returns
// an empty token when no redis client is configured.
func (l *Lock) acquireRemote(ctx context.Context, userID snowflake.ID) (string, error) {
	if l.client == nil {
		return "", nil
	}

	key := fmt.Sprintf(lockKeyFormat, userID.String())
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("userlock: acquire %s: %w", key, err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(defaultRetryDelay):
		}
	}
}

func (l *Lock) releaseRemote(userID snowflake.ID, token string) {
	if l.client == nil || token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := fmt.Sprintf(lockKeyFormat, userID.String())
	if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		// The TTL reclaims an unreleased lock.
		l.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
	}
}
