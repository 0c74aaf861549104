package accessor

import (
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// ExternalToInternal returns the internal docid of the live document whose
// stored identifier equals externalID. When the identifier field is indexed
// the lookup is a dictionary seek; otherwise every live document's stored
// identifier is scanned.
func (r *Reader) ExternalToInternal(externalID string) (docID int, err error) {
	defer func(start time.Time) { r.observe(opExternalToInternal, start, err) }(time.Now())
	return r.resolve(externalID)
}

func (r *Reader) resolve(externalID string) (int, error) {
	if err := r.store.Check(); err != nil {
		return 0, err
	}
	var (
		matches []int
		err     error
	)
	if info, ok := r.store.FieldInfo(r.cfg.IDField); ok && info.Indexed {
		r.countLookup("seek")
		matches, err = r.seekExternal(externalID)
	} else {
		r.countLookup("scan")
		r.logger.Debug("identifier field not indexed, scanning stored fields",
			"field", r.cfg.IDField,
			"max_doc", r.store.MaxDoc(),
		)
		matches, err = r.scanExternal(externalID)
	}
	if err != nil {
		return 0, err
	}
	switch len(matches) {
	case 0:
		return 0, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "external id %q", externalID)
	case 1:
		return matches[0], nil
	default:
		return 0, apperrors.Newf(apperrors.ErrAmbiguous, http.StatusConflict,
			"external id %q is carried by internal ids %v", externalID, matches)
	}
}

func (r *Reader) seekExternal(externalID string) ([]int, error) {
	entry, found, err := r.store.Seek(r.cfg.IDField, externalID)
	if err != nil || !found {
		return nil, err
	}
	enum, err := entry.Postings()
	if err != nil {
		return nil, err
	}
	defer r.closeEnum(enum)
	var matches []int
	for enum.Next() {
		if doc := enum.DocID(); r.store.IsLive(doc) {
			matches = append(matches, doc)
		}
	}
	return matches, enum.Err()
}

func (r *Reader) scanExternal(externalID string) ([]int, error) {
	var matches []int
	for doc := 0; doc < r.store.MaxDoc(); doc++ {
		if !r.store.IsLive(doc) {
			continue
		}
		v, ok, err := r.store.StoredField(doc, r.cfg.IDField)
		if err != nil {
			return nil, err
		}
		if ok && v == externalID {
			matches = append(matches, doc)
		}
	}
	return matches, nil
}

// InternalToExternal returns the stored identifier of internal document
// docID. Ids outside [0, MaxDoc) and deleted documents are out of range.
func (r *Reader) InternalToExternal(docID int) (externalID string, err error) {
	defer func(start time.Time) { r.observe(opInternalToExternal, start, err) }(time.Now())
	if err := r.checkInternal(docID); err != nil {
		return "", err
	}
	v, ok, err := r.store.StoredField(docID, r.cfg.IDField)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound,
			"internal id %d has no stored %q field", docID, r.cfg.IDField)
	}
	return v, nil
}

func (r *Reader) checkInternal(docID int) error {
	if err := r.store.Check(); err != nil {
		return err
	}
	if maxDoc := r.store.MaxDoc(); docID < 0 || docID >= maxDoc {
		return apperrors.Newf(apperrors.ErrOutOfRange, http.StatusBadRequest,
			"internal id %d is outside [0, %d)", docID, maxDoc)
	}
	if !r.store.IsLive(docID) {
		return apperrors.Newf(apperrors.ErrOutOfRange, http.StatusBadRequest,
			"internal id %d refers to a deleted document", docID)
	}
	return nil
}
