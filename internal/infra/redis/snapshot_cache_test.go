package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizhub/internal/domain"
	"quizhub/internal/versioning"
)

func TestSnapshotCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{snapshot: sampleSnapshot()}
	cache := NewSnapshotCache(newClient(mr), loader, time.Minute)

	first, err := cache.GetSnapshot(context.Background(), "quiz-1", 1)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.count())
	}
	if !mr.Exists("quiz:quiz-1:snapshot:1") {
		t.Fatalf("expected snapshot key in redis")
	}
	if ttl := mr.TTL("quiz:quiz-1:snapshot:1"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	// Second call should hit cache, loader not incremented.
	second, err := cache.GetSnapshot(context.Background(), "quiz-1", 1)
	if err != nil {
		t.Fatalf("get snapshot 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count())
	}
	if !versioning.Equal(first, second) {
		t.Fatalf("cached snapshot differs from loaded one")
	}
}

func TestSnapshotCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	loader := &countingLoader{snapshot: sampleSnapshot()}
	cache := NewSnapshotCache(client, loader, time.Minute)

	snap, err := cache.GetSnapshot(context.Background(), "quiz-1", 1)
	if err != nil {
		t.Fatalf("expected loader fallback, got %v", err)
	}
	if snap.Title != "Arithmetic" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSnapshotCacheDiscardsCorruptEntries(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	if err := mr.Set("quiz:quiz-1:snapshot:1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	loader := &countingLoader{snapshot: sampleSnapshot()}
	cache := NewSnapshotCache(newClient(mr), loader, time.Minute)
	if _, err := cache.GetSnapshot(context.Background(), "quiz-1", 1); err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected reload of corrupt entry, loader calls=%d", loader.count())
	}
}

type countingLoader struct {
	mu       sync.Mutex
	calls    int
	snapshot domain.Snapshot
}

func (l *countingLoader) LoadSnapshot(_ context.Context, _ string, _ int) (domain.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.snapshot, nil
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleSnapshot() domain.Snapshot {
	passing := 50
	from := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Snapshot{
		Title:    "Arithmetic",
		Settings: domain.Settings{PassingScore: &passing, ShowCorrectAnswers: true},
		Schedule: domain.Schedule{AvailableFrom: &from},
		Questions: []domain.Question{
			{
				ID:     "q1",
				Text:   "What is 2 + 2?",
				Points: 1,
				Data: domain.SingleChoiceData{Choices: []domain.Choice{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				}},
			},
			{
				ID:       "q2",
				Text:     "Name the capital",
				Points:   2,
				Position: 1,
				Data:     domain.FillBlankData{Answers: [][]string{{"Paris"}}},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func TestSnapshotCacheDisabledWithoutTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{snapshot: sampleSnapshot()}
	cache := NewSnapshotCache(newClient(mr), loader, 0)

	for i := 0; i < 2; i++ {
		if _, err := cache.GetSnapshot(context.Background(), "quiz-1", 1); err != nil {
			t.Fatalf("get snapshot: %v", err)
		}
	}
	if loader.count() != 2 {
		t.Fatalf("expected every read to hit the loader, got %d", loader.count())
	}
	if mr.Exists("quiz:quiz-1:snapshot:1") {
		t.Fatalf("expected nothing written to redis")
	}
}
