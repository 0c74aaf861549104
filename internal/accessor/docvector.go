package accessor

import (
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// DocumentVector maps each term of one document's text field to its
// in-document frequency. Terms that do not occur are absent.
type DocumentVector map[string]int

// Total is the number of tokens the vector accounts for.
func (v DocumentVector) Total() int {
	n := 0
	for _, freq := range v {
		n += freq
	}
	return n
}

// DocumentVector resolves externalID and returns the term vector retained
// for its text field.
func (r *Reader) DocumentVector(externalID string) (vec DocumentVector, err error) {
	defer func(start time.Time) { r.observe(opDocumentVector, start, err) }(time.Now())
	docID, err := r.resolve(externalID)
	if err != nil {
		return nil, err
	}
	return r.vector(docID, externalID)
}

// DocumentVectorByInternal is DocumentVector for an internal docid.
func (r *Reader) DocumentVectorByInternal(docID int) (vec DocumentVector, err error) {
	defer func(start time.Time) { r.observe(opDocumentVector, start, err) }(time.Now())
	if err := r.checkInternal(docID); err != nil {
		return nil, err
	}
	return r.vector(docID, "")
}

func (r *Reader) vector(docID int, externalID string) (DocumentVector, error) {
	if err := r.vectorsRetained(); err != nil {
		return nil, err
	}
	raw, ok, err := r.store.TermVector(docID, r.cfg.TextField)
	if err != nil {
		return nil, err
	}
	if !ok {
		if externalID == "" {
			return nil, apperrors.Newf(apperrors.ErrVectorsUnavailable, http.StatusUnprocessableEntity,
				"no term vector retained for internal id %d", docID)
		}
		return nil, apperrors.Newf(apperrors.ErrVectorsUnavailable, http.StatusUnprocessableEntity,
			"no term vector retained for document %q", externalID)
	}
	vec := make(DocumentVector, len(raw))
	for term, freq := range raw {
		if freq > 0 {
			vec[term] = freq
		}
	}
	return vec, nil
}

func (r *Reader) vectorsRetained() error {
	if !r.cfg.TermVectors {
		return apperrors.Newf(apperrors.ErrVectorsUnavailable, http.StatusUnprocessableEntity,
			"term vectors are disabled for field %q", r.cfg.TextField)
	}
	if info, ok := r.store.FieldInfo(r.cfg.TextField); !ok || !info.TermVectors {
		return apperrors.Newf(apperrors.ErrVectorsUnavailable, http.StatusUnprocessableEntity,
			"index did not retain term vectors for field %q", r.cfg.TextField)
	}
	return nil
}
