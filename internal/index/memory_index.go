// Package index holds an in-memory inverted index. MemoryIndex accumulates
// pre-analyzed documents; Freeze turns it into an immutable Snapshot that
// satisfies snapshot.Store and is what segment.Writer persists.
package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
)

var snapshotSeq atomic.Uint64

type Option func(*MemoryIndex)

// WithoutPositions drops token positions from the text field's postings.
func WithoutPositions() Option {
	return func(m *MemoryIndex) { m.positions = false }
}

// WithoutTermVectors stops per-document term vectors from being retained.
func WithoutTermVectors() Option {
	return func(m *MemoryIndex) { m.vectors = false }
}

// WithoutIDIndex keeps the identifier field stored but not indexed, so
// external ids can only be resolved by scanning stored fields.
func WithoutIDIndex() Option {
	return func(m *MemoryIndex) { m.idIndexed = false }
}

// WithoutAggregates leaves df/cf out of the dictionary.
func WithoutAggregates() Option {
	return func(m *MemoryIndex) { m.aggregates = false }
}

type MemoryIndex struct {
	mu         sync.RWMutex
	cfg        snapshot.Config
	index      map[string]map[string]map[int]*Posting
	stored     []map[string]string
	termVecs   []map[string]int
	deleted    *roaring.Bitmap
	positions  bool
	vectors    bool
	idIndexed  bool
	aggregates bool
}

func NewMemoryIndex(cfg snapshot.Config, opts ...Option) *MemoryIndex {
	m := &MemoryIndex{
		cfg:        cfg,
		index:      make(map[string]map[string]map[int]*Posting),
		deleted:    roaring.New(),
		positions:  true,
		vectors:    cfg.TermVectors,
		idIndexed:  true,
		aggregates: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddDocument indexes one document and returns its internal id. Ids are
// assigned sequentially from zero.
func (m *MemoryIndex) AddDocument(externalID string, raw string, tokens []Token) int {
	termData := make(map[string]*Posting)
	for _, token := range tokens {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{Positions: make([]int, 0, 4)}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docID := len(m.stored)
	stored := map[string]string{m.cfg.IDField: externalID}
	if m.cfg.RawField != "" && raw != "" {
		stored[m.cfg.RawField] = raw
	}
	m.stored = append(m.stored, stored)

	if m.idIndexed {
		m.addPosting(m.cfg.IDField, externalID, &Posting{DocID: docID, Frequency: 1})
	}

	var vector map[string]int
	if m.vectors {
		vector = make(map[string]int, len(termData))
	}
	for term, posting := range termData {
		posting.DocID = docID
		sort.Ints(posting.Positions)
		if !m.positions {
			posting.Positions = nil
		}
		m.addPosting(m.cfg.TextField, term, posting)
		if vector != nil {
			vector[term] = posting.Frequency
		}
	}
	m.termVecs = append(m.termVecs, vector)
	return docID
}

func (m *MemoryIndex) addPosting(field, term string, p *Posting) {
	terms, ok := m.index[field]
	if !ok {
		terms = make(map[string]map[int]*Posting)
		m.index[field] = terms
	}
	docs, ok := terms[term]
	if !ok {
		docs = make(map[int]*Posting)
		terms[term] = docs
	}
	docs[p.DocID] = p
}

// Delete marks a document as deleted. Its postings stay in place, as they
// would in a committed segment, but it is no longer live.
func (m *MemoryIndex) Delete(docID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if docID < 0 || docID >= len(m.stored) {
		return fmt.Errorf("deleting document %d: out of range [0, %d)", docID, len(m.stored))
	}
	m.deleted.Add(uint32(docID))
	return nil
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stored)
}

// Freeze copies the current contents into an immutable Snapshot. Later
// writes to m do not affect it.
func (m *MemoryIndex) Freeze() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	maxDoc := len(m.stored)
	s := &Snapshot{
		id:         fmt.Sprintf("mem-%d-%d", time.Now().UnixNano(), snapshotSeq.Add(1)),
		cfg:        m.cfg,
		fields:     m.fieldInfos(),
		stats:      make(map[string]snapshot.FieldStats),
		terms:      make(map[string][]TermEntry, len(m.index)),
		stored:     make([]map[string]string, maxDoc),
		vectors:    make([]map[string]int, maxDoc),
		live:       roaring.New(),
		maxDoc:     maxDoc,
		aggregates: m.aggregates,
	}
	if maxDoc > 0 {
		s.live.AddRange(0, uint64(maxDoc))
		s.live.AndNot(m.deleted)
	}

	for field, terms := range m.index {
		entries := make([]TermEntry, 0, len(terms))
		var stats snapshot.FieldStats
		docsWithField := roaring.New()
		for term, docs := range terms {
			entry := TermEntry{
				Field:    field,
				Term:     term,
				Postings: make(PostingList, 0, len(docs)),
			}
			for _, p := range docs {
				cp := Posting{DocID: p.DocID, Frequency: p.Frequency}
				if p.Positions != nil {
					cp.Positions = append([]int(nil), p.Positions...)
				}
				entry.Postings = append(entry.Postings, cp)
				entry.CollFreq += int64(p.Frequency)
				docsWithField.Add(uint32(p.DocID))
			}
			sort.Slice(entry.Postings, func(i, j int) bool {
				return entry.Postings[i].DocID < entry.Postings[j].DocID
			})
			entry.DocFreq = len(entry.Postings)
			stats.Terms++
			stats.SumDocFreq += int64(entry.DocFreq)
			stats.SumTotalTermFreq += entry.CollFreq
			entries = append(entries, entry)
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Term < entries[j].Term
		})
		stats.DocCount = int(docsWithField.GetCardinality())
		s.terms[field] = entries
		s.stats[field] = stats
	}

	for i := 0; i < maxDoc; i++ {
		stored := make(map[string]string, len(m.stored[i]))
		for k, v := range m.stored[i] {
			stored[k] = v
		}
		s.stored[i] = stored
		if m.termVecs[i] != nil {
			vec := make(map[string]int, len(m.termVecs[i]))
			for k, v := range m.termVecs[i] {
				vec[k] = v
			}
			s.vectors[i] = vec
		}
	}
	return s
}

func (m *MemoryIndex) fieldInfos() map[string]snapshot.FieldInfo {
	infos := map[string]snapshot.FieldInfo{
		m.cfg.IDField: {
			Name:    m.cfg.IDField,
			Indexed: m.idIndexed,
			Stored:  true,
		},
		m.cfg.TextField: {
			Name:        m.cfg.TextField,
			Indexed:     true,
			Positions:   m.positions,
			TermVectors: m.vectors,
		},
	}
	if m.cfg.RawField != "" {
		infos[m.cfg.RawField] = snapshot.FieldInfo{Name: m.cfg.RawField, Stored: true}
	}
	return infos
}
