package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"quizhub/internal/domain"
	"quizhub/internal/infra/memory"
)

// SnapshotCache keeps frozen quiz versions in Redis and falls back to a loader on a miss.
// Each version is stored as JSON under quiz:{quizID}:snapshot:{version}.
// Redis failures degrade to the loader; they never fail a read. A TTL <= 0
// disables caching, matching the in-process cache.
type SnapshotCache struct {
	client *redis.Client
	loader memory.SnapshotLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSnapshotCache(client *redis.Client, loader memory.SnapshotLoader, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *SnapshotCache) GetSnapshot(ctx context.Context, quizID string, version int) (domain.Snapshot, error) {
	if c.ttl <= 0 {
		return c.loader.LoadSnapshot(ctx, quizID, version)
	}
	key := snapshotKey(quizID, version)
	if snap, ok := c.lookup(ctx, key); ok {
		return snap, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if snap, ok := c.lookup(ctx, key); ok {
			return snap, nil
		}

		snap, err := c.loader.LoadSnapshot(ctx, quizID, version)
		if err != nil {
			return domain.Snapshot{}, err
		}

		payload, err := json.Marshal(snap)
		if err == nil {
			err = c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("snapshot cache write failed")
		}
		return snap, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return result.(domain.Snapshot), nil
}

func (c *SnapshotCache) lookup(ctx context.Context, key string) (domain.Snapshot, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("snapshot cache read failed")
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cached snapshot")
		return domain.Snapshot{}, false
	}
	return snap, true
}

func snapshotKey(quizID string, version int) string {
	return "quiz:" + quizID + ":snapshot:" + strconv.Itoa(version)
}

func (c *SnapshotCache) ttlWithJitter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
