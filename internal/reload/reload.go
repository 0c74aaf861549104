// Package reload swaps the served snapshot when the indexing side announces
// a newly committed one on the index.complete topic.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/resilience"
)

// IndexCompleteEvent announces a committed snapshot. Path may be empty when
// the snapshot is registered in the catalog under SnapshotID.
type IndexCompleteEvent struct {
	SnapshotID  string    `json:"snapshot_id"`
	Path        string    `json:"path"`
	CommittedAt time.Time `json:"committed_at"`
}

// Opener opens the snapshot stored at path.
type Opener func(path string) (snapshot.Store, error)

// Resolver looks a snapshot up in the catalog.
type Resolver interface {
	Get(ctx context.Context, id string) (catalog.Entry, error)
}

type Reloader struct {
	manager *snapshot.Manager
	open    Opener
	catalog Resolver
	onSwap  func(ctx context.Context, oldID, newID string)
	retry   *resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	mu      sync.Mutex
}

type Option func(*Reloader)

func WithCatalog(c Resolver) Option {
	return func(r *Reloader) { r.catalog = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reloader) { r.metrics = m }
}

// WithRetry retries failed opens with backoff. A snapshot that opens but
// fails validation is not retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Reloader) { r.retry = &cfg }
}

// WithSwapHook registers fn to run after every successful swap.
func WithSwapHook(fn func(ctx context.Context, oldID, newID string)) Option {
	return func(r *Reloader) { r.onSwap = fn }
}

func New(manager *snapshot.Manager, open Opener, opts ...Option) *Reloader {
	r := &Reloader{
		manager: manager,
		open:    open,
		logger:  slog.Default().With("component", "snapshot-reloader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload opens the snapshot at path and makes it the served one. Reloads
// are serialized. A snapshot identical to the served one is closed again
// and left alone.
func (r *Reloader) Reload(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, err := r.openStore(ctx, path)
	if err != nil {
		r.count("failed")
		return fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	if store.ID() == r.manager.CurrentID() {
		r.count("unchanged")
		r.logger.Info("snapshot already served", "snapshot", store.ID())
		return store.Close()
	}
	oldID, err := r.manager.Swap(store)
	if err != nil {
		r.count("failed")
		return fmt.Errorf("installing snapshot %s: %w", store.ID(), err)
	}
	r.count("swapped")
	if r.metrics != nil {
		r.metrics.LiveDocuments.Set(float64(store.LiveDocCount()))
	}
	r.logger.Info("snapshot reloaded", "snapshot", store.ID(), "previous", oldID, "path", path)
	if r.onSwap != nil {
		r.onSwap(ctx, oldID, store.ID())
	}
	return nil
}

func (r *Reloader) openStore(ctx context.Context, path string) (snapshot.Store, error) {
	if r.retry == nil {
		return r.open(path)
	}
	var store snapshot.Store
	err := resilience.Retry(ctx, "open snapshot", *r.retry, func(context.Context) error {
		s, err := r.open(path)
		if errors.Is(err, apperrors.ErrCorruptSnapshot) {
			return resilience.Permanent(err)
		}
		store = s
		return err
	})
	return store, err
}

// HandleMessage returns a Kafka MessageHandler for index.complete events.
// Undecodable events are logged and dropped so they do not block the
// partition.
func (r *Reloader) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[IndexCompleteEvent](value)
		if err != nil {
			r.logger.Error("failed to decode index complete event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		path := event.Path
		if path == "" {
			if r.catalog == nil || event.SnapshotID == "" {
				r.logger.Error("index complete event has no path", "snapshot", event.SnapshotID)
				return nil
			}
			entry, err := r.catalog.Get(ctx, event.SnapshotID)
			if err != nil {
				return fmt.Errorf("resolving snapshot %s: %w", event.SnapshotID, err)
			}
			path = entry.Path
		}
		r.logger.Debug("processing index complete event", "snapshot", event.SnapshotID, "path", path)
		return r.Reload(ctx, path)
	}
}

func (r *Reloader) count(status string) {
	if r.metrics != nil {
		r.metrics.SnapshotReloadsTotal.WithLabelValues(status).Inc()
	}
}
