package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// Reader is an opened segment file. The dictionary, the per-document offset
// tables and the live-docs bitmap are loaded at open; postings, stored
// fields and term vectors are read on demand with ReadAt, so any number of
// goroutines may traverse the same Reader.
type Reader struct {
	file        *os.File
	filePath    string
	id          string
	cfg         snapshot.Config
	header      SegmentHeader
	dict        []DictEntry
	fields      map[string]FieldMeta
	storedIndex []uint64
	vectorIndex []uint64
	live        *roaring.Bitmap
	closed      atomic.Bool
	logger      *slog.Logger
}

var _ snapshot.Store = (*Reader)(nil)

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperrors.ErrCorruptSnapshot)
}

// OpenReader opens the segment at path for reading through cfg.
func OpenReader(path string, cfg snapshot.Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.logger.Info("segment opened",
		"terms", r.header.TermCount,
		"max_doc", r.header.MaxDoc,
		"live_docs", r.LiveDocCount(),
	)
	return r, nil
}

// Opener returns a function opening segments through cfg. Relative paths
// are resolved against dataDir.
func Opener(dataDir string, cfg snapshot.Config) func(path string) (snapshot.Store, error) {
	return func(path string) (snapshot.Store, error) {
		if !filepath.IsAbs(path) && dataDir != "" {
			path = filepath.Join(dataDir, path)
		}
		r, err := OpenReader(path, cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func load(f *os.File, path string, cfg snapshot.Config) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if fi.Size() < int64(HeaderSize+FooterSize) {
		return nil, corrupt("invalid segment file: %d bytes is too short", fi.Size())
	}

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := unmarshalHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, corrupt("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, corrupt("unsupported segment version %d", header.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, fi.Size()-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if binary.LittleEndian.Uint32(footer[8:12]) != MagicBytes {
		return nil, corrupt("invalid segment file: bad footer")
	}
	if err := checkRegions(header, fi.Size()-int64(FooterSize)); err != nil {
		return nil, err
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	dictSum := crc32.ChecksumIEEE(dictBytes)
	if dictSum != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, corrupt("dictionary checksum mismatch")
	}
	var dict dictionary
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, corrupt("parsing dictionary: %v", err)
	}

	liveBytes := make([]byte, header.LiveSize)
	if _, err := f.ReadAt(liveBytes, header.LiveOffset); err != nil {
		return nil, fmt.Errorf("reading live docs: %w", err)
	}
	if crc32.ChecksumIEEE(liveBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, corrupt("live docs checksum mismatch")
	}
	live := roaring.New()
	if err := live.UnmarshalBinary(liveBytes); err != nil {
		return nil, corrupt("parsing live docs: %v", err)
	}

	for _, e := range dict.Entries {
		if e.PostOffset < 0 || e.PostLen < 0 || e.PostOffset+int64(e.PostLen) > header.PostSize {
			return nil, corrupt("term %q: postings %d+%d outside region of %d bytes", e.Term, e.PostOffset, e.PostLen, header.PostSize)
		}
	}

	maxDoc := int(header.MaxDoc)
	storedIndex, err := readOffsetTable(f, header.StoredOffset, header.StoredSize, maxDoc)
	if err != nil {
		return nil, fmt.Errorf("reading stored field index: %w", err)
	}
	vectorIndex, err := readOffsetTable(f, header.VectorOffset, header.VectorSize, maxDoc)
	if err != nil {
		return nil, fmt.Errorf("reading term vector index: %w", err)
	}

	fields := make(map[string]FieldMeta, len(dict.Fields))
	for _, fm := range dict.Fields {
		fields[fm.Info.Name] = fm
	}
	id := fmt.Sprintf("%s@%08x", filepath.Base(path), dictSum)
	return &Reader{
		file:        f,
		filePath:    path,
		id:          id,
		cfg:         cfg,
		header:      header,
		dict:        dict.Entries,
		fields:      fields,
		storedIndex: storedIndex,
		vectorIndex: vectorIndex,
		live:        live,
		logger:      slog.Default().With("component", "segment-reader", "snapshot", id),
	}, nil
}

// checkRegions rejects headers whose regions fall outside [HeaderSize, limit).
func checkRegions(h SegmentHeader, limit int64) error {
	regions := []struct {
		name      string
		off, size int64
	}{
		{"postings", h.PostOffset, h.PostSize},
		{"stored fields", h.StoredOffset, h.StoredSize},
		{"term vectors", h.VectorOffset, h.VectorSize},
		{"live docs", h.LiveOffset, h.LiveSize},
		{"dictionary", h.DictOffset, h.DictSize},
	}
	for _, rg := range regions {
		if rg.off < int64(HeaderSize) || rg.size < 0 || rg.off > limit || rg.size > limit-rg.off {
			return corrupt("header size out of range: %s region %d+%d exceeds %d bytes", rg.name, rg.off, rg.size, limit)
		}
	}
	return nil
}

// readOffsetTable reads the maxDoc+1 blob offsets at the start of a region
// of regionSize bytes and checks they stay inside it.
func readOffsetTable(f *os.File, at, regionSize int64, maxDoc int) ([]uint64, error) {
	tableSize := (int64(maxDoc) + 1) * 8
	if tableSize > regionSize {
		return nil, corrupt("max doc %d does not fit a region of %d bytes", maxDoc, regionSize)
	}
	raw := make([]byte, tableSize)
	if _, err := f.ReadAt(raw, at); err != nil {
		return nil, err
	}
	blobSize := uint64(regionSize - tableSize)
	table := make([]uint64, maxDoc+1)
	for i := range table {
		table[i] = binary.LittleEndian.Uint64(raw[i*8:])
		if table[i] > blobSize || (i > 0 && table[i] < table[i-1]) {
			return nil, corrupt("offset table entry %d is %d, blob region is %d bytes", i, table[i], blobSize)
		}
	}
	return table, nil
}

func (r *Reader) ID() string { return r.id }

func (r *Reader) Path() string { return r.filePath }

func (r *Reader) Check() error {
	if r.closed.Load() {
		return apperrors.Newf(apperrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "snapshot %s is closed", r.id)
	}
	return nil
}

func (r *Reader) Seek(field, term string) (snapshot.TermEntry, bool, error) {
	if err := r.Check(); err != nil {
		return nil, false, err
	}
	idx := sort.Search(len(r.dict), func(i int) bool {
		e := r.dict[i]
		return e.Field > field || (e.Field == field && e.Term >= term)
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return nil, false, nil
	}
	return &segEntry{r: r, entry: r.dict[idx]}, true, nil
}

func (r *Reader) StoredField(docID int, field string) (string, bool, error) {
	if err := r.Check(); err != nil {
		return "", false, err
	}
	var doc map[string]string
	ok, err := r.readDocBlob(r.header.StoredOffset, r.storedIndex, docID, &doc)
	if err != nil || !ok {
		return "", false, err
	}
	v, ok := doc[field]
	return v, ok, nil
}

func (r *Reader) TermVector(docID int, field string) (map[string]int, bool, error) {
	if err := r.Check(); err != nil {
		return nil, false, err
	}
	var vectors map[string]map[string]int
	ok, err := r.readDocBlob(r.header.VectorOffset, r.vectorIndex, docID, &vectors)
	if err != nil || !ok {
		return nil, false, err
	}
	vec, ok := vectors[field]
	return vec, ok, nil
}

// readDocBlob decodes the blob of docID from a region laid out by
// writeDocBlobs. ok is false for out-of-range ids and empty blobs.
func (r *Reader) readDocBlob(region int64, table []uint64, docID int, v any) (bool, error) {
	if docID < 0 || docID >= len(table)-1 {
		return false, nil
	}
	start, end := table[docID], table[docID+1]
	if end < start {
		return false, corrupt("document %d: bad blob offsets %d..%d", docID, start, end)
	}
	if end == start {
		return false, nil
	}
	data := make([]byte, end-start)
	blobBase := region + int64(len(table))*8
	if _, err := r.file.ReadAt(data, blobBase+int64(start)); err != nil {
		return false, fmt.Errorf("reading document %d: %w", docID, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, corrupt("parsing document %d: %v", docID, err)
	}
	return true, nil
}

func (r *Reader) FieldInfo(field string) (snapshot.FieldInfo, bool) {
	fm, ok := r.fields[field]
	return fm.Info, ok
}

func (r *Reader) FieldStats(field string) (snapshot.FieldStats, bool) {
	fm, ok := r.fields[field]
	return fm.Stats, ok
}

func (r *Reader) MaxDoc() int { return int(r.header.MaxDoc) }

func (r *Reader) LiveDocCount() int { return int(r.live.GetCardinality()) }

func (r *Reader) IsLive(docID int) bool {
	return docID >= 0 && docID < r.MaxDoc() && r.live.Contains(uint32(docID))
}

// Terms returns the number of dictionary entries across all fields.
func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.logger.Info("segment closed")
	return r.file.Close()
}

type segEntry struct {
	r     *Reader
	entry DictEntry
}

func (e *segEntry) Field() string { return e.entry.Field }
func (e *segEntry) Term() string  { return e.entry.Term }

func (e *segEntry) Aggregates() (int, int64, bool) {
	if e.r.header.Flags&flagAggregates == 0 {
		return 0, 0, false
	}
	return e.entry.DocFreq, e.entry.CollFreq, true
}

func (e *segEntry) Postings() (snapshot.PostingsEnum, error) {
	if err := e.r.Check(); err != nil {
		return nil, err
	}
	data := make([]byte, e.entry.PostLen)
	if _, err := e.r.file.ReadAt(data, e.r.header.PostOffset+e.entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %s:%q: %w", e.entry.Field, e.entry.Term, err)
	}
	return &segPostings{
		dec: postingsDecoder{
			data:      data,
			positions: e.r.fields[e.entry.Field].Info.Positions,
		},
	}, nil
}

type segPostings struct {
	dec  postingsDecoder
	pos  segPositions
	err  error
	done bool
}

func (p *segPostings) Next() bool {
	if p.done {
		return false
	}
	ok, err := p.dec.next()
	if err != nil || !ok {
		p.err = err
		p.done = true
		return false
	}
	p.pos = segPositions{positions: p.dec.posBuf, idx: -1}
	return true
}

func (p *segPostings) DocID() int { return p.dec.doc }

func (p *segPostings) Freq() int { return p.dec.freq }

func (p *segPostings) HasPositions() bool { return p.dec.positions }

func (p *segPostings) Positions() snapshot.PositionsEnum { return &p.pos }

func (p *segPostings) Err() error { return p.err }

func (p *segPostings) Close() error {
	p.done = true
	p.dec.data = nil
	return nil
}

type segPositions struct {
	positions []int
	idx       int
}

func (p *segPositions) Next() bool {
	if p.idx+1 >= len(p.positions) {
		return false
	}
	p.idx++
	return true
}

func (p *segPositions) Position() int { return p.positions[p.idx] }
