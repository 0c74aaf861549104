package accessor

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
)

// Posting is one document's entry in a term's postings list. Positions is
// empty, never nil, when the index did not retain positions.
type Posting struct {
	DocID     int   `json:"doc_id"`
	Frequency int   `json:"frequency"`
	Positions []int `json:"positions"`
}

// PostingsIterator walks a postings list lazily in ascending docid order,
// skipping deleted documents. It is single-pass: call Reader.Postings again
// to start over. The underlying enumerator is released when Next returns
// false or Close is called.
//
//	it, err := r.Postings("here")
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next() {
//		p := it.Posting()
//	}
//	if err := it.Err(); err != nil { ... }
type PostingsIterator struct {
	r         *Reader
	enum      snapshot.PostingsEnum
	cur       Posting
	err       error
	traversed int
	start     time.Time
}

// Postings opens a fresh iterator over the postings of term in the text
// field. A term missing from the dictionary yields an empty iterator.
func (r *Reader) Postings(term string) (*PostingsIterator, error) {
	it := &PostingsIterator{r: r, start: time.Now()}
	entry, found, err := r.store.Seek(r.cfg.TextField, term)
	if err != nil {
		r.observe(opPostings, it.start, err)
		return nil, err
	}
	if !found {
		r.observe(opPostings, it.start, nil)
		return it, nil
	}
	enum, err := entry.Postings()
	if err != nil {
		r.observe(opPostings, it.start, err)
		return nil, err
	}
	it.enum = enum
	return it, nil
}

// Next advances to the next live posting. The positions of the current
// document are copied out before the enumerator moves on, so a Posting
// stays valid after later calls to Next.
func (it *PostingsIterator) Next() bool {
	if it.enum == nil {
		return false
	}
	for it.enum.Next() {
		it.traversed++
		if err := it.r.store.Check(); err != nil {
			it.err = err
			it.release()
			return false
		}
		doc := it.enum.DocID()
		if !it.r.store.IsLive(doc) {
			continue
		}
		freq := it.enum.Freq()
		positions := make([]int, 0, freq)
		if it.enum.HasPositions() {
			pe := it.enum.Positions()
			for pe.Next() {
				positions = append(positions, pe.Position())
			}
		}
		it.cur = Posting{DocID: doc, Frequency: freq, Positions: positions}
		return true
	}
	it.err = it.enum.Err()
	it.release()
	return false
}

// Posting returns the posting Next stopped on.
func (it *PostingsIterator) Posting() Posting {
	return it.cur
}

func (it *PostingsIterator) Err() error {
	return it.err
}

// Close releases the enumerator. It is safe to call more than once and
// after the iterator is exhausted.
func (it *PostingsIterator) Close() error {
	it.release()
	return nil
}

func (it *PostingsIterator) release() {
	if it.enum == nil {
		return
	}
	it.r.closeEnum(it.enum)
	it.enum = nil
	it.r.countTraversed(it.traversed)
	it.r.observe(opPostings, it.start, it.err)
}

// PostingsList drains the postings of term into a slice. On error no
// partial result is returned.
func (r *Reader) PostingsList(term string) ([]Posting, error) {
	it, err := r.Postings(term)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	out := make([]Posting, 0)
	for it.Next() {
		out = append(out, it.Posting())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) closeEnum(enum snapshot.PostingsEnum) {
	if err := enum.Close(); err != nil {
		r.logger.Error("closing postings enumerator", "error", err)
	}
}
