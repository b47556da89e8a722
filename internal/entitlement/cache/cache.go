// Package cache memoizes entitlement snapshots per user with a TTL bound and
// per-key single-flight, and is the single point of invalidation.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/entitlement/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader computes a fresh snapshot for one user.
type Loader func(ctx context.Context, userID snowflake.ID) (domain.Snapshot, error)

// Fanout broadcasts invalidations to other replicas.
type Fanout interface {
	Publish(ctx context.Context, userID snowflake.ID) error
}

// Instruments counts lookup outcomes; satisfied by the metrics package.
type Instruments interface {
	RecordCacheLookup(ctx context.Context, outcome string)
}

type Config struct {
	TTL time.Duration
	// MaxEntries is a safety valve, not a correctness requirement.
	MaxEntries int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100_000
	}
	return c
}

// SnapshotCache holds one live snapshot per user. Entries are kept past their
// TTL so a storage outage can be absorbed by serving the last good value.
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[snowflake.ID]domain.Snapshot
	// gens counts invalidations per user; global counts InvalidateAll calls.
	// Together they fence loads that were in flight when an invalidation
	// landed, so their result never repopulates the entry.
	gens   map[snowflake.ID]uint64
	global uint64

	group       singleflight.Group
	cfg         Config
	clock       clock.Clock
	log         *zap.Logger
	fanout      Fanout
	instruments Instruments
}

func New(cfg Config, clk clock.Clock, log *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		entries: make(map[snowflake.ID]domain.Snapshot),
		gens:    make(map[snowflake.ID]uint64),
		cfg:     cfg.withDefaults(),
		clock:   clk,
		log:     log.Named("entitlement.cache"),
	}
}

// SetFanout attaches the cross-replica invalidation publisher.
func (c *SnapshotCache) SetFanout(f Fanout) { c.fanout = f }

// SetInstruments attaches lookup outcome counters.
func (c *SnapshotCache) SetInstruments(i Instruments) { c.instruments = i }

func (c *SnapshotCache) record(ctx context.Context, outcome string) {
	if c.instruments != nil {
		c.instruments.RecordCacheLookup(ctx, outcome)
	}
}

// Get returns the live snapshot for userID, computing it via load on miss or
// expiry. Concurrent callers for the same user share one computation. When
// load fails and a previous snapshot exists, the stale snapshot is served
// (fail open on read).
func (c *SnapshotCache) Get(ctx context.Context, userID snowflake.ID, load Loader) (domain.Snapshot, error) {
	if snap, ok := c.live(userID); ok {
		c.record(ctx, "hit")
		return snap, nil
	}

	v, err, _ := c.group.Do(userID.String(), func() (any, error) {
		// A concurrent caller may have populated the entry while this one
		// waited on the flight.
		if snap, ok := c.live(userID); ok {
			return snap, nil
		}

		gen := c.gen(userID)
		snap, loadErr := load(ctx, userID)
		if loadErr != nil {
			if stale, ok := c.any(userID); ok {
				c.record(ctx, "stale")
				c.log.Warn("serving stale snapshot, resolver read failed",
					zap.String("user_id", userID.String()),
					zap.Error(loadErr),
				)
				return stale, nil
			}
			return domain.Snapshot{}, loadErr
		}

		c.record(ctx, "miss")
		snap.ExpiresAt = c.clock.Now().Add(c.cfg.TTL)
		c.set(snap, gen)
		return snap, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return v.(domain.Snapshot), nil
}

// Invalidate drops the user's snapshot locally and broadcasts to replicas.
// Callers must invalidate only after the ledger write has committed.
func (c *SnapshotCache) Invalidate(userID snowflake.ID) {
	c.drop(userID)

	if c.fanout != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.fanout.Publish(ctx, userID); err != nil {
			// Local invalidation already happened; remote replicas fall back
			// to their TTL bound.
			c.log.Warn("invalidation fan-out failed",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}
}

// Drop removes the user's snapshot locally without broadcasting; used by the
// fan-out subscriber to avoid republish loops.
func (c *SnapshotCache) Drop(userID snowflake.ID) {
	c.drop(userID)
}

// InvalidateAll clears every snapshot on this replica.
func (c *SnapshotCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[snowflake.ID]domain.Snapshot)
	c.global++
	c.mu.Unlock()
}

// Len reports the current entry count.
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *SnapshotCache) live(userID snowflake.ID) (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[userID]
	if !ok || c.clock.Now().After(snap.ExpiresAt) {
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (c *SnapshotCache) any(userID snowflake.ID) (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[userID]
	return snap, ok
}

// gen reads the invalidation generation a load must survive for its result to
// be storable.
func (c *SnapshotCache) gen(userID snowflake.ID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.global + c.gens[userID]
}

func (c *SnapshotCache) set(snap domain.Snapshot, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.global+c.gens[snap.UserID] != gen {
		// An invalidation landed while the load was in flight; the loaded
		// snapshot may predate the write that triggered it. The in-flight
		// callers still get it, but the next Get recomputes.
		return
	}

	if len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked()
	}
	c.entries[snap.UserID] = snap
}

func (c *SnapshotCache) drop(userID snowflake.ID) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.gens[userID]++
	c.mu.Unlock()

	// A Get arriving after this point must not share a flight that started
	// before it.
	c.group.Forget(userID.String())
}

// evictLocked removes expired entries, falling back to the oldest entry when
// nothing has expired yet.
func (c *SnapshotCache) evictLocked() {
	now := c.clock.Now()

	removed := false
	for id, snap := range c.entries {
		if now.After(snap.ExpiresAt) {
			delete(c.entries, id)
			removed = true
		}
	}
	if removed {
		return
	}

	var oldestID snowflake.ID
	var oldest time.Time
	for id, snap := range c.entries {
		if oldest.IsZero() || snap.ComputedAt.Before(oldest) {
			oldest = snap.ComputedAt
			oldestID = id
		}
	}
	if oldestID != 0 {
		delete(c.entries, oldestID)
	}
}
