package accessor

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// IndexStats summarises the snapshot. The term figures come from the text
// field's build-time statistics and so include deleted documents.
type IndexStats struct {
	SnapshotID    string `json:"snapshot_id"`
	LiveDocuments int    `json:"live_documents"`
	MaxDoc        int    `json:"max_doc"`
	HasDeletions  bool   `json:"has_deletions"`
	UniqueTerms   int    `json:"unique_terms"`
	TotalTerms    int64  `json:"total_terms"`
	DocsWithField int    `json:"docs_with_field"`
}

func (r *Reader) IndexStats() (stats IndexStats, err error) {
	defer func(start time.Time) { r.observe(opIndexStats, start, err) }(time.Now())
	if err := r.store.Check(); err != nil {
		return IndexStats{}, err
	}
	stats = IndexStats{
		SnapshotID:    r.store.ID(),
		LiveDocuments: r.store.LiveDocCount(),
		MaxDoc:        r.store.MaxDoc(),
		HasDeletions:  snapshot.HasDeletions(r.store),
	}
	if fs, ok := r.store.FieldStats(r.cfg.TextField); ok {
		stats.UniqueTerms = fs.Terms
		stats.TotalTerms = fs.SumTotalTermFreq
		stats.DocsWithField = fs.DocCount
	}
	return stats, nil
}

// DocumentRaw returns the stored raw text of the document externalID.
func (r *Reader) DocumentRaw(externalID string) (raw string, err error) {
	defer func(start time.Time) { r.observe(opDocumentRaw, start, err) }(time.Now())
	docID, err := r.resolve(externalID)
	if err != nil {
		return "", err
	}
	if r.cfg.RawField == "" {
		return "", apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound,
			"no raw field configured for document %q", externalID)
	}
	v, ok, err := r.store.StoredField(docID, r.cfg.RawField)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound,
			"document %q has no stored %q field", externalID, r.cfg.RawField)
	}
	return v, nil
}
