package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/resilience"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	gets int
	fail error
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (b *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.fail != nil {
		return nil, b.fail
	}
	v, ok := b.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (b *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.data[key] = value
	b.sets++
	return nil
}

func (b *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k := range b.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func newToyReader(t *testing.T) *accessor.Reader {
	t.Helper()
	r, err := accessor.New(indextest.Toy(), snapshot.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestTermStatsReadThrough(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	r := newToyReader(t)
	ctx := context.Background()

	stats, hit, err := c.TermStats(ctx, r, "here")
	if err != nil || hit {
		t.Fatalf("first TermStats: hit=%v err=%v", hit, err)
	}
	want := accessor.TermStats{CollectionFrequency: 3, DocumentFrequency: 2}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Diff: (-want +got)\n%s", diff)
	}

	stats, hit, err = c.TermStats(ctx, r, "here")
	if err != nil || !hit {
		t.Fatalf("second TermStats: hit=%v err=%v", hit, err)
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("cached Diff: (-want +got)\n%s", diff)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 2 {
		t.Errorf("Stats() = %d hits, %d misses; want 1, 2", hits, misses)
	}
}

func TestVectorAndDocidAreCached(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	r := newToyReader(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		vec, _, err := c.DocumentVector(ctx, r, "doc1")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(accessor.DocumentVector{"here": 2, "more": 1, "some": 2, "text": 2}, vec); diff != "" {
			t.Errorf("Diff: (-want +got)\n%s", diff)
		}
		docID, _, err := c.ExternalToInternal(ctx, r, "doc2")
		if err != nil || docID != 1 {
			t.Errorf("ExternalToInternal(doc2) = %d, %v", docID, err)
		}
	}
	if backend.sets != 2 {
		t.Errorf("backend saw %d sets, want 2", backend.sets)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	r := newToyReader(t)

	for i := 0; i < 2; i++ {
		_, hit, err := c.ExternalToInternal(context.Background(), r, "doc9")
		if !errors.Is(err, apperrors.ErrNotFound) || hit {
			t.Fatalf("ExternalToInternal(doc9) hit=%v err=%v", hit, err)
		}
	}
	if backend.sets != 0 {
		t.Errorf("backend saw %d sets, want 0", backend.sets)
	}
}

func TestBackendFailureFallsThrough(t *testing.T) {
	backend := newMemBackend()
	backend.fail = errors.New("connection refused")
	c := New(backend, time.Minute, nil)

	stats, hit, err := c.TermStats(context.Background(), newToyReader(t), "test")
	if err != nil || hit {
		t.Fatalf("TermStats: hit=%v err=%v", hit, err)
	}
	if stats.DocumentFrequency != 1 {
		t.Errorf("DocumentFrequency = %d, want 1", stats.DocumentFrequency)
	}
}

func TestKeysAreScopedBySnapshot(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	ctx := context.Background()
	a, b := newToyReader(t), newToyReader(t)

	if _, _, err := c.TermStats(ctx, a, "here"); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := c.TermStats(ctx, b, "here"); hit {
		t.Error("a different snapshot must not hit the first snapshot's entry")
	}

	if err := c.Invalidate(ctx, a.Store().ID()); err != nil {
		t.Fatal(err)
	}
	if _, hit, _ := c.TermStats(ctx, a, "here"); hit {
		t.Error("entry survived invalidation")
	}
	if _, hit, _ := c.TermStats(ctx, b, "here"); !hit {
		t.Error("invalidating one snapshot dropped another snapshot's entry")
	}
}

func TestConcurrentMissesShareOneComputation(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute, nil)
	r := newToyReader(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.TermStats(context.Background(), r, "text"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if backend.sets < 1 || backend.sets > 16 {
		t.Errorf("backend saw %d sets", backend.sets)
	}
}

func TestOpenBreakerBypassesBackend(t *testing.T) {
	backend := newMemBackend()
	backend.fail = errors.New("connection refused")
	cb := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		IsFailure:        IsBackendFailure,
	})
	c := New(backend, time.Minute, nil, WithBreaker(cb))
	r := newToyReader(t)

	// one lookup is two gets and one set, which trips the breaker
	if _, _, err := c.TermStats(context.Background(), r, "here"); err != nil {
		t.Fatal(err)
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.State())
	}
	gets := backend.gets

	stats, hit, err := c.TermStats(context.Background(), r, "text")
	if err != nil || hit {
		t.Fatalf("TermStats: hit=%v err=%v", hit, err)
	}
	if stats.CollectionFrequency != 3 {
		t.Errorf("CollectionFrequency = %d, want 3", stats.CollectionFrequency)
	}
	if backend.gets != gets {
		t.Errorf("backend saw %d gets while the breaker was open", backend.gets-gets)
	}
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        IsBackendFailure,
	})
	c := New(newMemBackend(), time.Minute, nil, WithBreaker(cb))
	r := newToyReader(t)
	for _, term := range indextest.Vocabulary() {
		if _, _, err := c.TermStats(context.Background(), r, term); err != nil {
			t.Fatal(err)
		}
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("breaker state = %s, want closed", cb.State())
	}
}
