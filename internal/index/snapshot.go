package index

import (
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// Snapshot is an immutable in-memory index produced by MemoryIndex.Freeze.
type Snapshot struct {
	id         string
	cfg        snapshot.Config
	fields     map[string]snapshot.FieldInfo
	stats      map[string]snapshot.FieldStats
	terms      map[string][]TermEntry
	stored     []map[string]string
	vectors    []map[string]int
	live       *roaring.Bitmap
	maxDoc     int
	aggregates bool
	closed     atomic.Bool
}

var _ snapshot.Store = (*Snapshot)(nil)

func (s *Snapshot) ID() string { return s.id }

func (s *Snapshot) Config() snapshot.Config { return s.cfg }

func (s *Snapshot) Check() error {
	if s.closed.Load() {
		return apperrors.Newf(apperrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "snapshot %s is closed", s.id)
	}
	return nil
}

func (s *Snapshot) Seek(field, term string) (snapshot.TermEntry, bool, error) {
	if err := s.Check(); err != nil {
		return nil, false, err
	}
	entries := s.terms[field]
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].Term >= term
	})
	if idx >= len(entries) || entries[idx].Term != term {
		return nil, false, nil
	}
	return &memEntry{snap: s, entry: &entries[idx]}, true, nil
}

func (s *Snapshot) StoredField(docID int, field string) (string, bool, error) {
	if err := s.Check(); err != nil {
		return "", false, err
	}
	if docID < 0 || docID >= s.maxDoc {
		return "", false, nil
	}
	v, ok := s.stored[docID][field]
	return v, ok, nil
}

func (s *Snapshot) TermVector(docID int, field string) (map[string]int, bool, error) {
	if err := s.Check(); err != nil {
		return nil, false, err
	}
	if field != s.cfg.TextField || docID < 0 || docID >= s.maxDoc || s.vectors[docID] == nil {
		return nil, false, nil
	}
	vec := make(map[string]int, len(s.vectors[docID]))
	for term, freq := range s.vectors[docID] {
		vec[term] = freq
	}
	return vec, true, nil
}

func (s *Snapshot) FieldInfo(field string) (snapshot.FieldInfo, bool) {
	info, ok := s.fields[field]
	return info, ok
}

func (s *Snapshot) FieldStats(field string) (snapshot.FieldStats, bool) {
	st, ok := s.stats[field]
	return st, ok
}

func (s *Snapshot) MaxDoc() int { return s.maxDoc }

func (s *Snapshot) LiveDocCount() int { return int(s.live.GetCardinality()) }

func (s *Snapshot) IsLive(docID int) bool {
	return docID >= 0 && docID < s.maxDoc && s.live.Contains(uint32(docID))
}

func (s *Snapshot) Close() error {
	s.closed.Store(true)
	return nil
}

// Fields returns the field infos sorted by name.
func (s *Snapshot) Fields() []snapshot.FieldInfo {
	out := make([]snapshot.FieldInfo, 0, len(s.fields))
	for _, info := range s.fields {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entries returns the dictionary of field in term order. The slice is
// shared and must not be modified.
func (s *Snapshot) Entries(field string) []TermEntry {
	return s.terms[field]
}

// StoredDocument returns the stored fields of docID.
func (s *Snapshot) StoredDocument(docID int) map[string]string {
	return s.stored[docID]
}

// Vector returns the retained term vector of docID, or nil.
func (s *Snapshot) Vector(docID int) map[string]int {
	return s.vectors[docID]
}

func (s *Snapshot) LiveDocs() *roaring.Bitmap {
	return s.live.Clone()
}

func (s *Snapshot) AggregatesRecorded() bool {
	return s.aggregates
}

type memEntry struct {
	snap  *Snapshot
	entry *TermEntry
}

func (e *memEntry) Field() string { return e.entry.Field }
func (e *memEntry) Term() string  { return e.entry.Term }

func (e *memEntry) Aggregates() (int, int64, bool) {
	if !e.snap.aggregates {
		return 0, 0, false
	}
	return e.entry.DocFreq, e.entry.CollFreq, true
}

func (e *memEntry) Postings() (snapshot.PostingsEnum, error) {
	if err := e.snap.Check(); err != nil {
		return nil, err
	}
	return &memPostings{
		postings:  e.entry.Postings,
		idx:       -1,
		positions: e.snap.fields[e.entry.Field].Positions,
	}, nil
}

type memPostings struct {
	postings  PostingList
	idx       int
	positions bool
	pos       memPositions
}

func (p *memPostings) Next() bool {
	if p.idx+1 >= len(p.postings) {
		p.idx = len(p.postings)
		return false
	}
	p.idx++
	p.pos = memPositions{positions: p.postings[p.idx].Positions, idx: -1}
	return true
}

func (p *memPostings) DocID() int { return p.postings[p.idx].DocID }

func (p *memPostings) Freq() int { return p.postings[p.idx].Frequency }

func (p *memPostings) HasPositions() bool { return p.positions }

func (p *memPostings) Positions() snapshot.PositionsEnum { return &p.pos }

func (p *memPostings) Err() error { return nil }

func (p *memPostings) Close() error {
	p.idx = len(p.postings)
	return nil
}

type memPositions struct {
	positions []int
	idx       int
}

func (p *memPositions) Next() bool {
	if p.idx+1 >= len(p.positions) {
		return false
	}
	p.idx++
	return true
}

func (p *memPositions) Position() int { return p.positions[p.idx] }
