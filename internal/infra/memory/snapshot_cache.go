package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizhub/internal/domain"
)

// SnapshotLoader fetches a frozen quiz version from the backing store.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, quizID string, version int) (domain.Snapshot, error)
}

// SnapshotCache keeps frozen versions in process with a TTL. History entries are
// immutable, so the TTL only bounds memory. A TTL <= 0 disables caching.
type SnapshotCache struct {
	loader SnapshotLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedSnapshot
}

type cachedSnapshot struct {
	snapshot  domain.Snapshot
	expiresAt time.Time
}

func NewSnapshotCache(loader SnapshotLoader, ttl time.Duration) *SnapshotCache {
	return NewSnapshotCacheWithClock(loader, ttl, time.Now)
}

// NewSnapshotCacheWithClock is test-only for controlling expiry.
func NewSnapshotCacheWithClock(loader SnapshotLoader, ttl time.Duration, clock func() time.Time) *SnapshotCache {
	return &SnapshotCache{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSnapshot),
	}
}

func (c *SnapshotCache) GetSnapshot(ctx context.Context, quizID string, version int) (domain.Snapshot, error) {
	if c.ttl <= 0 {
		return c.loader.LoadSnapshot(ctx, quizID, version)
	}
	key := quizID + "@" + strconv.Itoa(version)
	if snap, ok := c.lookup(key); ok {
		return snap, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if snap, ok := c.lookup(key); ok {
			return snap, nil
		}

		snap, err := c.loader.LoadSnapshot(ctx, quizID, version)
		if err != nil {
			return domain.Snapshot{}, err
		}

		c.mu.Lock()
		c.cache[key] = cachedSnapshot{
			snapshot:  snap,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return result.(domain.Snapshot), nil
}

func (c *SnapshotCache) lookup(key string) (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Snapshot{}, false
	}
	return entry.snapshot, true
}

// ttlWithJitter adds up to 10% to spread expirations. Called with mu held.
func (c *SnapshotCache) ttlWithJitter() time.Duration {
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
