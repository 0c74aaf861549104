// Package accessor answers read-only questions about an opened index
// snapshot: term statistics, postings, document vectors and the mapping
// between external document ids and internal docids.
//
// A Reader borrows its snapshot.Store; it never closes it and keeps no state
// between calls, so one Reader may be used from any number of goroutines.
// Terms must be passed in the normalized form the index was built with.
package accessor

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
)

const (
	opExternalToInternal = "external_to_internal"
	opInternalToExternal = "internal_to_external"
	opTermStats          = "term_stats"
	opPostings           = "postings"
	opDocumentVector     = "document_vector"
	opDocumentRaw        = "document_raw"
	opIndexStats         = "index_stats"
)

type Reader struct {
	store   snapshot.Store
	cfg     snapshot.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Reader)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// New returns a Reader over store using the field names in cfg.
func New(store snapshot.Store, cfg snapshot.Config, opts ...Option) (*Reader, error) {
	if store == nil {
		return nil, apperrors.New(apperrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "no index store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("creating accessor: %w", err)
	}
	r := &Reader{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "index-accessor", "snapshot", store.ID())
	return r, nil
}

func (r *Reader) Store() snapshot.Store { return r.store }

func (r *Reader) Config() snapshot.Config { return r.cfg }

func (r *Reader) observe(op string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.AccessorOpsTotal.WithLabelValues(op, apperrors.Kind(err)).Inc()
	r.metrics.AccessorLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (r *Reader) countPath(path string) {
	if r.metrics != nil {
		r.metrics.TermStatsPathTotal.WithLabelValues(path).Inc()
	}
}

func (r *Reader) countLookup(method string) {
	if r.metrics != nil {
		r.metrics.DocidLookupsTotal.WithLabelValues(method).Inc()
	}
}

func (r *Reader) countTraversed(n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.PostingsTraversed.Add(float64(n))
	}
}
