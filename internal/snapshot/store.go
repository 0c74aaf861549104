// Package snapshot defines the contract between the accessor layer and an
// opened, immutable inverted-index snapshot, plus the reference-counted
// Manager that lets a service swap snapshots while requests are in flight.
package snapshot

// Store is an immutable, point-in-time view over a committed index. It is
// opened once, shared read-only by every caller, and released with Close.
// Implementations must allow concurrent independent traversals: every call
// to TermEntry.Postings returns a fresh enumerator.
type Store interface {
	// ID identifies the snapshot; it changes whenever the underlying
	// index is rebuilt.
	ID() string

	// Check returns ErrStoreUnavailable once the store has been closed.
	Check() error

	// Seek looks a term up in the dictionary of field. found is false when
	// the term never occurs in that field.
	Seek(field, term string) (entry TermEntry, found bool, err error)

	// StoredField returns the stored value of field for document docID.
	StoredField(docID int, field string) (value string, ok bool, err error)

	// TermVector returns the term -> frequency mapping retained for field
	// of document docID. ok is false if no vector was retained.
	TermVector(docID int, field string) (vector map[string]int, ok bool, err error)

	FieldInfo(field string) (FieldInfo, bool)
	FieldStats(field string) (FieldStats, bool)

	// MaxDoc is one greater than the largest internal id in the snapshot,
	// deleted documents included.
	MaxDoc() int
	LiveDocCount() int
	IsLive(docID int) bool

	Close() error
}

// TermEntry is a dictionary hit for one (field, term) pair.
type TermEntry interface {
	Field() string
	Term() string

	// Aggregates returns the precomputed document and collection frequency.
	// ok is false when the store did not record them. Aggregates count
	// deleted documents, as they are fixed at build time.
	Aggregates() (docFreq int, collFreq int64, ok bool)

	Postings() (PostingsEnum, error)
}

// PostingsEnum is a single-pass cursor over one postings list in ascending
// docid order. Values returned by DocID, Freq and Positions are only valid
// until the next call to Next.
type PostingsEnum interface {
	Next() bool
	DocID() int
	Freq() int
	HasPositions() bool
	Positions() PositionsEnum
	Err() error
	Close() error
}

// PositionsEnum walks the positions of the document a PostingsEnum is
// currently positioned on.
type PositionsEnum interface {
	Next() bool
	Position() int
}

// FieldInfo describes what the index retained for a field at build time.
type FieldInfo struct {
	Name        string `json:"name"`
	Indexed     bool   `json:"indexed"`
	Positions   bool   `json:"positions"`
	TermVectors bool   `json:"term_vectors"`
	Stored      bool   `json:"stored"`
}

// FieldStats are per-field collection statistics.
type FieldStats struct {
	Terms            int   `json:"terms"`
	SumTotalTermFreq int64 `json:"sum_total_term_freq"`
	SumDocFreq       int64 `json:"sum_doc_freq"`
	DocCount         int   `json:"doc_count"`
}

// HasDeletions reports whether s contains deleted documents.
func HasDeletions(s Store) bool {
	return s.LiveDocCount() < s.MaxDoc()
}
