// Package cache is a Redis-backed read-through cache in front of the
// accessor. Keys are namespaced by snapshot id, so a reload never serves
// answers computed against the previous snapshot. Errors are never cached.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/resilience"
)

const keyPrefix = "idx:"

// Backend is the subset of pkg/redis.Client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type AccessorCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

type Option func(*AccessorCache)

// WithBreaker routes backend calls through cb. While it is open the cache
// behaves as if empty and every lookup goes to the accessor.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *AccessorCache) { c.breaker = cb }
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics, opts ...Option) *AccessorCache {
	c := &AccessorCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "accessor-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsBackendFailure reports whether err from a Backend means the backend is
// unhealthy. A missing key is not a failure.
func IsBackendFailure(err error) bool {
	return err != nil && !pkgredis.IsNilError(err)
}

func (c *AccessorCache) call(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

// TermStats returns r.TermStats(term), served from the cache when present.
// The bool reports a cache hit.
func (c *AccessorCache) TermStats(ctx context.Context, r *accessor.Reader, term string) (accessor.TermStats, bool, error) {
	return getOrCompute(ctx, c, buildKey(r, "tstats", term), func() (accessor.TermStats, error) {
		return r.TermStats(term)
	})
}

func (c *AccessorCache) DocumentVector(ctx context.Context, r *accessor.Reader, externalID string) (accessor.DocumentVector, bool, error) {
	return getOrCompute(ctx, c, buildKey(r, "dvec", externalID), func() (accessor.DocumentVector, error) {
		return r.DocumentVector(externalID)
	})
}

func (c *AccessorCache) ExternalToInternal(ctx context.Context, r *accessor.Reader, externalID string) (int, bool, error) {
	return getOrCompute(ctx, c, buildKey(r, "ext", externalID), func() (int, error) {
		return r.ExternalToInternal(externalID)
	})
}

func getOrCompute[T any](ctx context.Context, c *AccessorCache, key string, compute func() (T, error)) (T, bool, error) {
	if v, ok := get[T](ctx, c, key); ok {
		return v, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := get[T](ctx, c, key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

func get[T any](ctx context.Context, c *AccessorCache, key string) (T, bool) {
	var v T
	var data []byte
	err := c.call(func() error {
		var err error
		data, err = c.backend.Get(ctx, key)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.logger.Debug("cache bypassed", "key", key, "error", err)
		case IsBackendFailure(err):
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return v, false
	}
	c.hit()
	c.logger.Debug("cache hit", "key", key)
	return v, true
}

func (c *AccessorCache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.call(func() error { return c.backend.Set(ctx, key, data, c.ttl) })
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every entry cached for snapshotID. An empty id drops
// everything.
func (c *AccessorCache) Invalidate(ctx context.Context, snapshotID string) error {
	pattern := keyPrefix + "*"
	if snapshotID != "" {
		pattern = keyPrefix + snapshotID + ":*"
	}
	deleted, err := c.backend.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "snapshot", snapshotID, "keys_deleted", deleted)
	return nil
}

func (c *AccessorCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *AccessorCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *AccessorCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey hashes the value so arbitrary ids and terms make safe keys. The
// field names are part of the hash since they change what a lookup means.
func buildKey(r *accessor.Reader, kind, value string) string {
	cfg := r.Config()
	raw := kind + "\x00" + cfg.IDField + "\x00" + cfg.TextField + "\x00" + strconv.FormatBool(cfg.TermVectors) + "\x00" + value
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%s:%x", keyPrefix, r.Store().ID(), kind, hash[:16])
}
