package accessor_test

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
)

// backends returns the same frozen index served from memory and from a
// segment file, so every behaviour is checked against both stores.
func backends(t *testing.T, snap *index.Snapshot) map[string]snapshot.Store {
	t.Helper()
	dir := t.TempDir()
	name, err := segment.NewWriter(dir).Write(snap)
	if err != nil {
		t.Fatalf("writing segment: %v", err)
	}
	seg, err := segment.OpenReader(filepath.Join(dir, name), snap.Config())
	if err != nil {
		t.Fatalf("opening segment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return map[string]snapshot.Store{"memory": snap, "segment": seg}
}

func newReader(t *testing.T, store snapshot.Store, opts ...accessor.Option) *accessor.Reader {
	t.Helper()
	r, err := accessor.New(store, snapshot.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("accessor.New(): %v", err)
	}
	return r
}

func forEachBackend(t *testing.T, snap *index.Snapshot, fn func(t *testing.T, r *accessor.Reader)) {
	t.Helper()
	for name, store := range backends(t, snap) {
		t.Run(name, func(t *testing.T) {
			fn(t, newReader(t, store))
		})
	}
}

func TestToyCollection(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		stats, err := r.TermStats("here")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(accessor.TermStats{CollectionFrequency: 3, DocumentFrequency: 2}, stats); diff != "" {
			t.Errorf("TermStats(here) Diff: (-want +got)\n%s", diff)
		}
		postings, err := r.PostingsList("here")
		if err != nil {
			t.Fatal(err)
		}
		want := []accessor.Posting{
			{DocID: 0, Frequency: 2, Positions: []int{0, 4}},
			{DocID: 2, Frequency: 1, Positions: []int{0}},
		}
		if diff := cmp.Diff(want, postings); diff != "" {
			t.Errorf("PostingsList(here) Diff: (-want +got)\n%s", diff)
		}

		stats, err = r.TermStats("test")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(accessor.TermStats{CollectionFrequency: 1, DocumentFrequency: 1}, stats); diff != "" {
			t.Errorf("TermStats(test) Diff: (-want +got)\n%s", diff)
		}
		postings, err = r.PostingsList("test")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]accessor.Posting{{DocID: 2, Frequency: 1, Positions: []int{3}}}, postings); diff != "" {
			t.Errorf("PostingsList(test) Diff: (-want +got)\n%s", diff)
		}

		vec, err := r.DocumentVector("doc1")
		if err != nil {
			t.Fatal(err)
		}
		wantVec := accessor.DocumentVector{"here": 2, "more": 1, "some": 2, "text": 2}
		if diff := cmp.Diff(wantVec, vec); diff != "" {
			t.Errorf("DocumentVector(doc1) Diff: (-want +got)\n%s", diff)
		}

		docID, err := r.ExternalToInternal("doc2")
		if err != nil || docID != 1 {
			t.Errorf("ExternalToInternal(doc2) = %d, %v; want 1", docID, err)
		}
		ext, err := r.InternalToExternal(1)
		if err != nil || ext != "doc2" {
			t.Errorf("InternalToExternal(1) = %q, %v; want doc2", ext, err)
		}
	})
}

func TestUnknownTermIsEmptyNotError(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		stats, err := r.TermStats("zzz999")
		if err != nil || stats != (accessor.TermStats{}) {
			t.Errorf("TermStats(zzz999) = %+v, %v; want zero", stats, err)
		}
		postings, err := r.PostingsList("zzz999")
		if err != nil || len(postings) != 0 {
			t.Errorf("PostingsList(zzz999) = %v, %v; want empty", postings, err)
		}
		it, err := r.Postings("zzz999")
		if err != nil {
			t.Fatal(err)
		}
		if it.Next() {
			t.Error("Next() on an absent term returned true")
		}
		if err := it.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})
}

func TestProperties(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		perDoc := make(map[int]int)
		for _, term := range indextest.Vocabulary() {
			stats, err := r.TermStats(term)
			if err != nil {
				t.Fatal(err)
			}
			if stats.CollectionFrequency < int64(stats.DocumentFrequency) || stats.DocumentFrequency <= 0 {
				t.Errorf("%s: cf=%d df=%d violates cf >= df > 0", term, stats.CollectionFrequency, stats.DocumentFrequency)
			}
			postings, err := r.PostingsList(term)
			if err != nil {
				t.Fatal(err)
			}
			if len(postings) != stats.DocumentFrequency {
				t.Errorf("%s: %d postings, df=%d", term, len(postings), stats.DocumentFrequency)
			}
			var sum int64
			for i, p := range postings {
				sum += int64(p.Frequency)
				perDoc[p.DocID] += p.Frequency
				if i > 0 && postings[i-1].DocID >= p.DocID {
					t.Errorf("%s: docids not ascending at %d", term, i)
				}
				if len(p.Positions) != p.Frequency {
					t.Errorf("%s doc %d: %d positions for tf %d", term, p.DocID, len(p.Positions), p.Frequency)
				}
				if !sort.IntsAreSorted(p.Positions) {
					t.Errorf("%s doc %d: positions %v not sorted", term, p.DocID, p.Positions)
				}
				for j := 1; j < len(p.Positions); j++ {
					if p.Positions[j] == p.Positions[j-1] {
						t.Errorf("%s doc %d: duplicate position %d", term, p.DocID, p.Positions[j])
					}
				}
			}
			if sum != stats.CollectionFrequency {
				t.Errorf("%s: sum of tf = %d, cf = %d", term, sum, stats.CollectionFrequency)
			}
		}

		for doc := 0; doc < r.Store().MaxDoc(); doc++ {
			ext, err := r.InternalToExternal(doc)
			if err != nil {
				t.Fatal(err)
			}
			back, err := r.ExternalToInternal(ext)
			if err != nil || back != doc {
				t.Errorf("round trip of %d via %q = %d, %v", doc, ext, back, err)
			}
			vec, err := r.DocumentVectorByInternal(doc)
			if err != nil {
				t.Fatal(err)
			}
			if vec.Total() != perDoc[doc] {
				t.Errorf("doc %d: vector total %d, postings total %d", doc, vec.Total(), perDoc[doc])
			}
			for term, freq := range vec {
				if freq < 1 {
					t.Errorf("doc %d: term %q has frequency %d", doc, term, freq)
				}
			}
		}
	})
}

func TestDocidErrors(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		if _, err := r.ExternalToInternal("doc9"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("ExternalToInternal(doc9) err = %v, want ErrNotFound", err)
		}
		if _, err := r.DocumentVector("doc9"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("DocumentVector(doc9) err = %v, want ErrNotFound", err)
		}
		for _, id := range []int{-1, 3, 1 << 20} {
			if _, err := r.InternalToExternal(id); !errors.Is(err, apperrors.ErrOutOfRange) {
				t.Errorf("InternalToExternal(%d) err = %v, want ErrOutOfRange", id, err)
			}
			if _, err := r.DocumentVectorByInternal(id); !errors.Is(err, apperrors.ErrOutOfRange) {
				t.Errorf("DocumentVectorByInternal(%d) err = %v, want ErrOutOfRange", id, err)
			}
		}
	})
}

func TestDuplicateExternalIDIsAmbiguous(t *testing.T) {
	docs := append(indextest.ToyDocs(), indextest.Doc{ID: "doc2", Tokens: indextest.Tokens("more", 0)})
	for _, opts := range [][]index.Option{nil, {index.WithoutIDIndex()}} {
		snap := indextest.Build(snapshot.DefaultConfig(), docs, opts...).Freeze()
		forEachBackend(t, snap, func(t *testing.T, r *accessor.Reader) {
			_, err := r.ExternalToInternal("doc2")
			if !errors.Is(err, apperrors.ErrAmbiguous) {
				t.Fatalf("ExternalToInternal(doc2) err = %v, want ErrAmbiguous", err)
			}
			if apperrors.HTTPStatusCode(err) != 409 {
				t.Errorf("status = %d, want 409", apperrors.HTTPStatusCode(err))
			}
			if _, err := r.DocumentVector("doc2"); !errors.Is(err, apperrors.ErrAmbiguous) {
				t.Errorf("DocumentVector(doc2) err = %v, want ErrAmbiguous", err)
			}
			if docID, err := r.ExternalToInternal("doc3"); err != nil || docID != 2 {
				t.Errorf("ExternalToInternal(doc3) = %d, %v", docID, err)
			}
		})
	}
}

func TestScanFallback(t *testing.T) {
	snap := indextest.Toy(index.WithoutIDIndex())
	for name, store := range backends(t, snap) {
		t.Run(name, func(t *testing.T) {
			m := metrics.NewWithRegisterer(prometheus.NewRegistry())
			r := newReader(t, store, accessor.WithMetrics(m))
			docID, err := r.ExternalToInternal("doc3")
			if err != nil || docID != 2 {
				t.Fatalf("ExternalToInternal(doc3) = %d, %v", docID, err)
			}
			if got := testutil.ToFloat64(m.DocidLookupsTotal.WithLabelValues("scan")); got != 1 {
				t.Errorf("scan lookups = %v, want 1", got)
			}
			if got := testutil.ToFloat64(m.DocidLookupsTotal.WithLabelValues("seek")); got != 0 {
				t.Errorf("seek lookups = %v, want 0", got)
			}
		})
	}
}

func TestTraversalMatchesPrecomputed(t *testing.T) {
	precomputed := newReader(t, indextest.Toy())
	for name, store := range backends(t, indextest.Toy(index.WithoutAggregates())) {
		t.Run(name, func(t *testing.T) {
			m := metrics.NewWithRegisterer(prometheus.NewRegistry())
			traversal := newReader(t, store, accessor.WithMetrics(m))
			for _, term := range indextest.Vocabulary() {
				want, err := precomputed.TermStats(term)
				if err != nil {
					t.Fatal(err)
				}
				got, err := traversal.TermStats(term)
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("TermStats(%s) Diff: (-want +got)\n%s", term, diff)
				}
			}
			if got := testutil.ToFloat64(m.TermStatsPathTotal.WithLabelValues("traversal")); got != float64(len(indextest.Vocabulary())) {
				t.Errorf("traversal lookups = %v", got)
			}
			if got := testutil.ToFloat64(m.PostingsTraversed); got != 8 {
				t.Errorf("postings traversed = %v, want 8", got)
			}
		})
	}
}

func TestDeletedDocuments(t *testing.T) {
	m := indextest.Build(snapshot.DefaultConfig(), indextest.ToyDocs())
	if err := m.Delete(0); err != nil {
		t.Fatal(err)
	}
	forEachBackend(t, m.Freeze(), func(t *testing.T, r *accessor.Reader) {
		stats, err := r.TermStats("here")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(accessor.TermStats{CollectionFrequency: 1, DocumentFrequency: 1}, stats); diff != "" {
			t.Errorf("TermStats(here) Diff: (-want +got)\n%s", diff)
		}
		stats, err = r.TermStats("some")
		if err != nil || stats != (accessor.TermStats{}) {
			t.Errorf("TermStats(some) = %+v, %v; want zero", stats, err)
		}
		postings, err := r.PostingsList("here")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]accessor.Posting{{DocID: 2, Frequency: 1, Positions: []int{0}}}, postings); diff != "" {
			t.Errorf("PostingsList(here) Diff: (-want +got)\n%s", diff)
		}
		if _, err := r.InternalToExternal(0); !errors.Is(err, apperrors.ErrOutOfRange) {
			t.Errorf("InternalToExternal(0) err = %v, want ErrOutOfRange", err)
		}
		if _, err := r.ExternalToInternal("doc1"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("ExternalToInternal(doc1) err = %v, want ErrNotFound", err)
		}
		if docID, err := r.ExternalToInternal("doc2"); err != nil || docID != 1 {
			t.Errorf("ExternalToInternal(doc2) = %d, %v", docID, err)
		}
	})
}

func TestDeletedDuplicateIsNotAmbiguous(t *testing.T) {
	docs := append(indextest.ToyDocs(), indextest.Doc{ID: "doc2", Tokens: indextest.Tokens("more", 0)})
	m := indextest.Build(snapshot.DefaultConfig(), docs)
	if err := m.Delete(1); err != nil {
		t.Fatal(err)
	}
	forEachBackend(t, m.Freeze(), func(t *testing.T, r *accessor.Reader) {
		if docID, err := r.ExternalToInternal("doc2"); err != nil || docID != 3 {
			t.Errorf("ExternalToInternal(doc2) = %d, %v; want 3", docID, err)
		}
	})
}

func TestVectorsUnavailable(t *testing.T) {
	t.Run("not retained", func(t *testing.T) {
		forEachBackend(t, indextest.Toy(index.WithoutTermVectors()), func(t *testing.T, r *accessor.Reader) {
			_, err := r.DocumentVector("doc1")
			if !errors.Is(err, apperrors.ErrVectorsUnavailable) {
				t.Errorf("DocumentVector(doc1) err = %v, want ErrVectorsUnavailable", err)
			}
		})
	})
	t.Run("disabled in config", func(t *testing.T) {
		cfg := snapshot.DefaultConfig()
		cfg.TermVectors = false
		r, err := accessor.New(indextest.Toy(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.DocumentVectorByInternal(0); !errors.Is(err, apperrors.ErrVectorsUnavailable) {
			t.Errorf("DocumentVectorByInternal(0) err = %v, want ErrVectorsUnavailable", err)
		}
	})
	t.Run("unknown id wins", func(t *testing.T) {
		r := newReader(t, indextest.Toy(index.WithoutTermVectors()))
		if _, err := r.DocumentVector("doc9"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("DocumentVector(doc9) err = %v, want ErrNotFound", err)
		}
	})
}

func TestPostingsWithoutPositions(t *testing.T) {
	forEachBackend(t, indextest.Toy(index.WithoutPositions()), func(t *testing.T, r *accessor.Reader) {
		postings, err := r.PostingsList("here")
		if err != nil {
			t.Fatal(err)
		}
		want := []accessor.Posting{
			{DocID: 0, Frequency: 2, Positions: []int{}},
			{DocID: 2, Frequency: 1, Positions: []int{}},
		}
		if diff := cmp.Diff(want, postings); diff != "" {
			t.Errorf("Diff: (-want +got)\n%s", diff)
		}
	})
}

func TestPostingsOutliveEnumerator(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		it, err := r.Postings("text")
		if err != nil {
			t.Fatal(err)
		}
		defer it.Close()
		var kept []accessor.Posting
		for it.Next() {
			kept = append(kept, it.Posting())
		}
		if err := it.Err(); err != nil {
			t.Fatal(err)
		}
		want := []accessor.Posting{
			{DocID: 0, Frequency: 2, Positions: []int{3, 8}},
			{DocID: 1, Frequency: 1, Positions: []int{1}},
		}
		if diff := cmp.Diff(want, kept); diff != "" {
			t.Errorf("Diff: (-want +got)\n%s", diff)
		}
	})
}

func TestIteratorEarlyClose(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		it, err := r.Postings("here")
		if err != nil {
			t.Fatal(err)
		}
		if !it.Next() {
			t.Fatal("expected a first posting")
		}
		if err := it.Close(); err != nil {
			t.Fatal(err)
		}
		if it.Next() {
			t.Error("Next() after Close returned true")
		}
		if err := it.Close(); err != nil {
			t.Errorf("second Close(): %v", err)
		}
		if err := it.Err(); err != nil {
			t.Errorf("Err() = %v", err)
		}
	})
}

func TestClosedStore(t *testing.T) {
	for name, store := range backends(t, indextest.Toy()) {
		t.Run(name, func(t *testing.T) {
			r := newReader(t, store)
			it, err := r.Postings("here")
			if err != nil {
				t.Fatal(err)
			}
			if err := store.Close(); err != nil {
				t.Fatal(err)
			}

			if it.Next() {
				t.Error("Next() on a closed store returned true")
			}
			if !errors.Is(it.Err(), apperrors.ErrStoreUnavailable) {
				t.Errorf("iterator Err() = %v, want ErrStoreUnavailable", it.Err())
			}
			checks := map[string]error{}
			_, checks["TermStats"] = r.TermStats("here")
			_, checks["PostingsList"] = r.PostingsList("here")
			_, checks["ExternalToInternal"] = r.ExternalToInternal("doc1")
			_, checks["InternalToExternal"] = r.InternalToExternal(0)
			_, checks["DocumentVector"] = r.DocumentVector("doc1")
			_, checks["DocumentRaw"] = r.DocumentRaw("doc1")
			_, checks["IndexStats"] = r.IndexStats()
			for op, err := range checks {
				if !errors.Is(err, apperrors.ErrStoreUnavailable) {
					t.Errorf("%s err = %v, want ErrStoreUnavailable", op, err)
				}
			}
		})
	}
}

func TestDocumentRawAndIndexStats(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		raw, err := r.DocumentRaw("doc3")
		if err != nil || raw != "here is a test" {
			t.Errorf("DocumentRaw(doc3) = %q, %v", raw, err)
		}
		stats, err := r.IndexStats()
		if err != nil {
			t.Fatal(err)
		}
		want := accessor.IndexStats{
			SnapshotID:    r.Store().ID(),
			LiveDocuments: 3,
			MaxDoc:        3,
			UniqueTerms:   5,
			TotalTerms:    11,
			DocsWithField: 3,
		}
		if diff := cmp.Diff(want, stats); diff != "" {
			t.Errorf("IndexStats Diff: (-want +got)\n%s", diff)
		}
	})
}

func TestDocumentRawMissing(t *testing.T) {
	docs := []indextest.Doc{{ID: "bare", Tokens: indextest.Tokens("here", 0)}}
	r := newReader(t, indextest.Build(snapshot.DefaultConfig(), docs).Freeze())
	if _, err := r.DocumentRaw("bare"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("DocumentRaw(bare) err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentReads(t *testing.T) {
	forEachBackend(t, indextest.Toy(), func(t *testing.T, r *accessor.Reader) {
		want, err := r.PostingsList("text")
		if err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		for g := 0; g < 16; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					got, err := r.PostingsList("text")
					if err != nil {
						t.Error(err)
						return
					}
					if diff := cmp.Diff(want, got); diff != "" {
						t.Errorf("Diff: (-want +got)\n%s", diff)
						return
					}
					if _, err := r.DocumentVector("doc2"); err != nil {
						t.Error(err)
						return
					}
				}
			}()
		}
		wg.Wait()
	})
}

func TestNewValidates(t *testing.T) {
	if _, err := accessor.New(nil, snapshot.DefaultConfig()); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("New(nil) err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := accessor.New(indextest.Toy(), snapshot.Config{}); err == nil {
		t.Error("New with an empty config should fail")
	}
}

func TestOperationMetrics(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	r := newReader(t, indextest.Toy(), accessor.WithMetrics(m))
	r.TermStats("here")
	r.ExternalToInternal("nope")
	if _, err := r.PostingsList("here"); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.AccessorOpsTotal.WithLabelValues("term_stats", "ok")); got != 1 {
		t.Errorf("term_stats ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AccessorOpsTotal.WithLabelValues("external_to_internal", "not_found")); got != 1 {
		t.Errorf("external_to_internal not_found = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AccessorOpsTotal.WithLabelValues("postings", "ok")); got != 1 {
		t.Errorf("postings ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TermStatsPathTotal.WithLabelValues("precomputed")); got != 1 {
		t.Errorf("precomputed lookups = %v, want 1", got)
	}
}
