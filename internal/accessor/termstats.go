package accessor

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
)

// TermStats are the collection-level frequencies of one term.
type TermStats struct {
	CollectionFrequency int64 `json:"collection_frequency"`
	DocumentFrequency   int   `json:"document_frequency"`
}

// TermStats returns the collection and document frequency of term in the
// text field. A term missing from the dictionary yields zero for both.
//
// Precomputed dictionary aggregates are used when the store recorded them
// and the snapshot has no deletions, since aggregates still count deleted
// documents. Otherwise the postings are walked, counting live documents only.
func (r *Reader) TermStats(term string) (stats TermStats, err error) {
	defer func(start time.Time) { r.observe(opTermStats, start, err) }(time.Now())

	entry, found, err := r.store.Seek(r.cfg.TextField, term)
	if err != nil {
		return TermStats{}, err
	}
	if !found {
		r.countPath("absent")
		return TermStats{}, nil
	}
	if df, cf, ok := entry.Aggregates(); ok && !snapshot.HasDeletions(r.store) {
		r.countPath("precomputed")
		return TermStats{CollectionFrequency: cf, DocumentFrequency: df}, nil
	}

	r.countPath("traversal")
	enum, err := entry.Postings()
	if err != nil {
		return TermStats{}, err
	}
	defer r.closeEnum(enum)
	n := 0
	for enum.Next() {
		n++
		if !r.store.IsLive(enum.DocID()) {
			continue
		}
		stats.DocumentFrequency++
		stats.CollectionFrequency += int64(enum.Freq())
	}
	r.countTraversed(n)
	if err := enum.Err(); err != nil {
		return TermStats{}, err
	}
	r.logger.Debug("term stats by traversal", "term", term, "postings", n, "df", stats.DocumentFrequency)
	return stats, nil
}
