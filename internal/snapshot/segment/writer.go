package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index"
)

// Writer serialises frozen in-memory indexes into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// offsetWriter tracks the absolute file offset of buffered writes.
type offsetWriter struct {
	w   *bufio.Writer
	off int64
}

func (o *offsetWriter) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.off += int64(n)
	return n, err
}

// Write atomically creates a new segment file holding snap. It writes to a
// .tmp file first and renames on success. The returned name is relative to
// the data directory.
func (w *Writer) Write(snap *index.Snapshot) (string, error) {
	if snap.MaxDoc() == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%d%s", time.Now().UnixNano(), FileSuffix)
	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	if err := writeFile(snap, filepath.Join(w.dataDir, segmentName)); err != nil {
		return "", err
	}
	return segmentName, nil
}

// writeFile writes snap to finalPath through a .tmp file that is removed
// unless the final rename succeeds.
func writeFile(snap *index.Snapshot, finalPath string) error {
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	renamed := false
	defer func() {
		f.Close()
		if !renamed {
			os.Remove(tmpPath)
		}
	}()

	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		MaxDoc:    uint32(snap.MaxDoc()),
		LiveDocs:  uint32(snap.LiveDocCount()),
		CreatedAt: time.Now().Unix(),
	}
	if snap.AggregatesRecorded() {
		header.Flags |= flagAggregates
	}

	out := &offsetWriter{w: bufio.NewWriter(f)}
	if _, err := out.Write(make([]byte, HeaderSize)); err != nil {
		return fmt.Errorf("writing header placeholder: %w", err)
	}

	header.PostOffset = out.off
	dict := dictionary{}
	var buf []byte
	for _, info := range snap.Fields() {
		st, _ := snap.FieldStats(info.Name)
		dict.Fields = append(dict.Fields, FieldMeta{Info: info, Stats: st})
		for _, entry := range snap.Entries(info.Name) {
			buf = appendPostings(buf[:0], entry.Postings, info.Positions)
			relativeOffset := out.off - header.PostOffset
			if _, err := out.Write(buf); err != nil {
				return fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
			}
			de := DictEntry{
				Field:      entry.Field,
				Term:       entry.Term,
				PostOffset: relativeOffset,
				PostLen:    len(buf),
				DocFreq:    entry.DocFreq,
			}
			if snap.AggregatesRecorded() {
				de.CollFreq = entry.CollFreq
			}
			dict.Entries = append(dict.Entries, de)
		}
	}
	header.PostSize = out.off - header.PostOffset
	header.TermCount = uint32(len(dict.Entries))

	textField := snap.Config().TextField
	header.StoredOffset = out.off
	if err := writeDocBlobs(out, snap.MaxDoc(), func(doc int) (any, bool) {
		return snap.StoredDocument(doc), true
	}); err != nil {
		return fmt.Errorf("writing stored fields: %w", err)
	}
	header.StoredSize = out.off - header.StoredOffset

	header.VectorOffset = out.off
	if err := writeDocBlobs(out, snap.MaxDoc(), func(doc int) (any, bool) {
		vec := snap.Vector(doc)
		if vec == nil {
			return nil, false
		}
		return map[string]map[string]int{textField: vec}, true
	}); err != nil {
		return fmt.Errorf("writing term vectors: %w", err)
	}
	header.VectorSize = out.off - header.VectorOffset

	liveData, err := snap.LiveDocs().ToBytes()
	if err != nil {
		return fmt.Errorf("serialising live docs: %w", err)
	}
	header.LiveOffset = out.off
	if _, err := out.Write(liveData); err != nil {
		return fmt.Errorf("writing live docs: %w", err)
	}
	header.LiveSize = int64(len(liveData))

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	header.DictOffset = out.off
	if _, err := out.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictSize = int64(len(dictData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(liveData))
	binary.LittleEndian.PutUint32(footer[8:12], MagicBytes)
	if _, err := out.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := out.w.Flush(); err != nil {
		return fmt.Errorf("flushing segment file: %w", err)
	}
	if _, err := f.WriteAt(header.marshal(), 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	renamed = true
	return nil
}

// writeDocBlobs writes an offset table of maxDoc+1 entries followed by one
// JSON blob per document. A document without a blob gets a zero-length one.
func writeDocBlobs(out io.Writer, maxDoc int, blob func(doc int) (any, bool)) error {
	blobs := make([][]byte, maxDoc)
	table := make([]byte, (maxDoc+1)*8)
	var off uint64
	for doc := 0; doc < maxDoc; doc++ {
		binary.LittleEndian.PutUint64(table[doc*8:], off)
		v, ok := blob(doc)
		if !ok {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling document %d: %w", doc, err)
		}
		blobs[doc] = data
		off += uint64(len(data))
	}
	binary.LittleEndian.PutUint64(table[maxDoc*8:], off)
	if _, err := out.Write(table); err != nil {
		return err
	}
	for _, data := range blobs {
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}
