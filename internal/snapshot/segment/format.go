package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 128
	FooterSize    int    = 16
	FileSuffix           = ".spdx"
)

const flagAggregates uint32 = 1 << 0

// SegmentHeader is the fixed-size header at the start of every segment. All
// region offsets are absolute file offsets.
type SegmentHeader struct {
	Magic        uint32
	Version      uint32
	TermCount    uint32
	MaxDoc       uint32
	LiveDocs     uint32
	Flags        uint32
	CreatedAt    int64
	DictOffset   int64
	DictSize     int64
	PostOffset   int64
	PostSize     int64
	StoredOffset int64
	StoredSize   int64
	VectorOffset int64
	VectorSize   int64
	LiveOffset   int64
	LiveSize     int64
}

func (h SegmentHeader) marshal() []byte {
	b := make([]byte, HeaderSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], h.Magic)
	le.PutUint32(b[4:8], h.Version)
	le.PutUint32(b[8:12], h.TermCount)
	le.PutUint32(b[12:16], h.MaxDoc)
	le.PutUint32(b[16:20], h.LiveDocs)
	le.PutUint32(b[20:24], h.Flags)
	le.PutUint64(b[24:32], uint64(h.CreatedAt))
	le.PutUint64(b[32:40], uint64(h.DictOffset))
	le.PutUint64(b[40:48], uint64(h.DictSize))
	le.PutUint64(b[48:56], uint64(h.PostOffset))
	le.PutUint64(b[56:64], uint64(h.PostSize))
	le.PutUint64(b[64:72], uint64(h.StoredOffset))
	le.PutUint64(b[72:80], uint64(h.StoredSize))
	le.PutUint64(b[80:88], uint64(h.VectorOffset))
	le.PutUint64(b[88:96], uint64(h.VectorSize))
	le.PutUint64(b[96:104], uint64(h.LiveOffset))
	le.PutUint64(b[104:112], uint64(h.LiveSize))
	return b
}

func unmarshalHeader(b []byte) SegmentHeader {
	le := binary.LittleEndian
	return SegmentHeader{
		Magic:        le.Uint32(b[0:4]),
		Version:      le.Uint32(b[4:8]),
		TermCount:    le.Uint32(b[8:12]),
		MaxDoc:       le.Uint32(b[12:16]),
		LiveDocs:     le.Uint32(b[16:20]),
		Flags:        le.Uint32(b[20:24]),
		CreatedAt:    int64(le.Uint64(b[24:32])),
		DictOffset:   int64(le.Uint64(b[32:40])),
		DictSize:     int64(le.Uint64(b[40:48])),
		PostOffset:   int64(le.Uint64(b[48:56])),
		PostSize:     int64(le.Uint64(b[56:64])),
		StoredOffset: int64(le.Uint64(b[64:72])),
		StoredSize:   int64(le.Uint64(b[72:80])),
		VectorOffset: int64(le.Uint64(b[80:88])),
		VectorSize:   int64(le.Uint64(b[88:96])),
		LiveOffset:   int64(le.Uint64(b[96:104])),
		LiveSize:     int64(le.Uint64(b[104:112])),
	}
}

// DictEntry maps a (field, term) pair to its postings offset, length and
// frequencies in the segment file. Entries are sorted by field, then term.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
	CollFreq   int64  `json:"c,omitempty"`
}

// FieldMeta is what the dictionary records about each field.
type FieldMeta struct {
	Info  snapshot.FieldInfo  `json:"info"`
	Stats snapshot.FieldStats `json:"stats"`
}

type dictionary struct {
	Fields  []FieldMeta `json:"fields"`
	Entries []DictEntry `json:"entries"`
}

// appendPostings encodes a postings list as docid deltas, each followed by
// the frequency and, when positions are kept, the position deltas.
func appendPostings(buf []byte, postings index.PostingList, positions bool) []byte {
	prevDoc := 0
	for _, p := range postings {
		buf = binary.AppendUvarint(buf, uint64(p.DocID-prevDoc))
		buf = binary.AppendUvarint(buf, uint64(p.Frequency))
		prevDoc = p.DocID
		if !positions {
			continue
		}
		prevPos := 0
		for _, pos := range p.Positions {
			buf = binary.AppendUvarint(buf, uint64(pos-prevPos))
			prevPos = pos
		}
	}
	return buf
}

// postingsDecoder is the inverse of appendPostings.
type postingsDecoder struct {
	data      []byte
	off       int
	positions bool
	doc       int
	freq      int
	posBuf    []int
}

func (d *postingsDecoder) uvarint() (int, error) {
	v, n := binary.Uvarint(d.data[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("decoding postings at byte %d: %w", d.off, apperrors.ErrCorruptSnapshot)
	}
	d.off += n
	return int(v), nil
}

// next advances to the following posting. It returns false at the end of
// the data. posBuf is overwritten on every call.
func (d *postingsDecoder) next() (bool, error) {
	if d.off >= len(d.data) {
		return false, nil
	}
	delta, err := d.uvarint()
	if err != nil {
		return false, err
	}
	freq, err := d.uvarint()
	if err != nil {
		return false, err
	}
	d.doc += delta
	d.freq = freq
	d.posBuf = d.posBuf[:0]
	if !d.positions {
		return true, nil
	}
	pos := 0
	for i := 0; i < freq; i++ {
		pd, err := d.uvarint()
		if err != nil {
			return false, err
		}
		pos += pd
		d.posBuf = append(d.posBuf, pos)
	}
	return true, nil
}
