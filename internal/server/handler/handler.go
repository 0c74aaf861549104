package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor/cache"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/tracing"
)

type Handler struct {
	manager *snapshot.Manager
	cfg     snapshot.Config
	api     config.APIConfig
	cache   *cache.AccessorCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Handler)

// WithCache puts a read-through cache in front of term stats, document
// vectors and external id lookups.
func WithCache(c *cache.AccessorCache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func New(manager *snapshot.Manager, cfg snapshot.Config, api config.APIConfig, opts ...Option) *Handler {
	h := &Handler{
		manager: manager,
		cfg:     cfg,
		api:     api,
		logger:  slog.Default().With("component", "reader-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/terms/{term}/stats", h.TermStats)
	mux.HandleFunc("POST /api/v1/terms/stats", h.TermStatsBatch)
	mux.HandleFunc("GET /api/v1/terms/{term}/postings", h.Postings)
	mux.HandleFunc("GET /api/v1/documents/{id}/vector", h.DocumentVector)
	mux.HandleFunc("GET /api/v1/documents/{id}/raw", h.DocumentRaw)
	mux.HandleFunc("GET /api/v1/docids/{id}", h.ExternalToInternal)
	mux.HandleFunc("GET /api/v1/docids/internal/{n}", h.InternalToExternal)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// withReader leases the current snapshot for the duration of fn and records
// the call as a span named op.
func (h *Handler) withReader(ctx context.Context, op string, fn func(r *accessor.Reader) error) error {
	_, span := tracing.Start(ctx, op, "")
	defer span.End()
	lease, err := h.manager.Acquire()
	if err != nil {
		span.SetAttr("error", apperrors.Kind(err))
		return err
	}
	defer lease.Release()
	span.SetAttr("snapshot", lease.Store().ID())
	var opts []accessor.Option
	if h.metrics != nil {
		opts = append(opts, accessor.WithMetrics(h.metrics))
	}
	r, err := accessor.New(lease.Store(), h.cfg, opts...)
	if err != nil {
		return err
	}
	return fn(r)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var stats accessor.IndexStats
	err := h.withReader(r.Context(), "index_stats", func(rd *accessor.Reader) error {
		var err error
		stats, err = rd.IndexStats()
		return err
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type termStatsResponse struct {
	Term string `json:"term"`
	accessor.TermStats
	CacheHit bool `json:"cache_hit,omitempty"`
}

func (h *Handler) TermStats(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	var resp termStatsResponse
	err := h.withReader(r.Context(), "term_stats", func(rd *accessor.Reader) error {
		var err error
		resp, err = h.termStats(r.Context(), rd, term)
		return err
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) termStats(ctx context.Context, rd *accessor.Reader, term string) (termStatsResponse, error) {
	resp := termStatsResponse{Term: term}
	var err error
	if h.cache != nil {
		resp.TermStats, resp.CacheHit, err = h.cache.TermStats(ctx, rd, term)
	} else {
		resp.TermStats, err = rd.TermStats(term)
	}
	return resp, err
}

type batchRequest struct {
	Terms []string `json:"terms"`
}

// TermStatsBatch answers term stats for many terms against one leased
// snapshot, so every answer in the response comes from the same snapshot.
func (h *Handler) TermStatsBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAppError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decode body: %v", err))
		return
	}
	if len(req.Terms) == 0 {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "terms must not be empty"))
		return
	}
	if h.api.MaxBatchTerms > 0 && len(req.Terms) > h.api.MaxBatchTerms {
		h.writeAppError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"%d terms requested, at most %d allowed", len(req.Terms), h.api.MaxBatchTerms))
		return
	}

	results := make([]termStatsResponse, len(req.Terms))
	var snapshotID string
	err := h.withReader(r.Context(), "term_stats_batch", func(rd *accessor.Reader) error {
		snapshotID = rd.Store().ID()
		g, ctx := errgroup.WithContext(r.Context())
		if h.api.BatchConcurrency > 0 {
			g.SetLimit(h.api.BatchConcurrency)
		}
		for i, term := range req.Terms {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				resp, err := h.termStats(ctx, rd, term)
				if err != nil {
					return err
				}
				results[i] = resp
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snapshotID,
		"results":  results,
	})
}

func (h *Handler) Postings(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	limit, err := h.parseLimit(r)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	postings := make([]accessor.Posting, 0)
	truncated := false
	err = h.withReader(r.Context(), "postings", func(rd *accessor.Reader) error {
		it, err := rd.Postings(term)
		if err != nil {
			return err
		}
		defer it.Close()
		for it.Next() {
			if len(postings) == limit {
				truncated = true
				break
			}
			postings = append(postings, it.Posting())
		}
		return it.Err()
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"term":      term,
		"postings":  postings,
		"truncated": truncated,
	})
}

func (h *Handler) parseLimit(r *http.Request) (int, error) {
	limit := h.api.DefaultPostingsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}
	if h.api.MaxPostingsLimit > 0 && limit > h.api.MaxPostingsLimit {
		limit = h.api.MaxPostingsLimit
	}
	return limit, nil
}

func (h *Handler) DocumentVector(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var vec accessor.DocumentVector
	var hit bool
	err := h.withReader(r.Context(), "document_vector", func(rd *accessor.Reader) error {
		var err error
		if h.cache != nil {
			vec, hit, err = h.cache.DocumentVector(r.Context(), rd, id)
		} else {
			vec, err = rd.DocumentVector(id)
		}
		return err
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"terms":     vec,
		"total":     vec.Total(),
		"cache_hit": hit,
	})
}

func (h *Handler) DocumentRaw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var raw string
	err := h.withReader(r.Context(), "document_raw", func(rd *accessor.Reader) error {
		var err error
		raw, err = rd.DocumentRaw(id)
		return err
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "raw": raw})
}

func (h *Handler) ExternalToInternal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var docID int
	err := h.withReader(r.Context(), "external_to_internal", func(rd *accessor.Reader) error {
		var err error
		if h.cache != nil {
			docID, _, err = h.cache.ExternalToInternal(r.Context(), rd, id)
		} else {
			docID, err = rd.ExternalToInternal(id)
		}
		return err
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "doc_id": docID})
}

func (h *Handler) InternalToExternal(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		h.writeAppError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "internal id %q is not an integer", r.PathValue("n")))
		return
	}
	var id string
	err = h.withReader(r.Context(), "internal_to_external", func(rd *accessor.Reader) error {
		var err error
		id, err = rd.InternalToExternal(n)
		return err
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "doc_id": n})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops cached answers for ?snapshot=<id>, or for every
// snapshot when the parameter is absent.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeAppError(w, r, apperrors.New(apperrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	snapshotID := strings.TrimSpace(r.URL.Query().Get("snapshot"))
	if err := h.cache.Invalidate(r.Context(), snapshotID); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  apperrors.Kind(err),
	})
}
