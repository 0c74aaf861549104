package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/reload"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot/segment"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/postgres"
)

const maxLineSize = 16 << 20

// inputDoc is one line of -build input. Tokens are already analyzed.
type inputDoc struct {
	ID      string `json:"id"`
	Raw     string `json:"raw"`
	Deleted bool   `json:"deleted"`
	Tokens  []struct {
		Term     string `json:"term"`
		Position int    `json:"position"`
	} `json:"tokens"`
}

func build(ctx context.Context, cfg *config.Config, readerCfg snapshot.Config, opts options, stdout io.Writer) error {
	if err := readerCfg.Validate(); err != nil {
		return err
	}
	f, err := os.Open(opts.build)
	if err != nil {
		return err
	}
	defer f.Close()

	var indexOpts []index.Option
	if opts.noPositions {
		indexOpts = append(indexOpts, index.WithoutPositions())
	}
	mem, err := loadDocuments(f, readerCfg, indexOpts...)
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.build, err)
	}

	dir := opts.out
	if dir == "" {
		dir = cfg.Snapshot.DataDir
	}
	name, err := segment.NewWriter(dir).Write(mem.Freeze())
	if err != nil {
		return err
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	seg, err := segment.OpenReader(path, readerCfg)
	if err != nil {
		return err
	}
	entry := catalog.Entry{
		ID:          seg.ID(),
		Path:        path,
		MaxDoc:      seg.MaxDoc(),
		LiveDocs:    seg.LiveDocCount(),
		CommittedAt: time.Now().UTC(),
	}
	seg.Close()

	if opts.register {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		cat := catalog.New(db)
		if err := cat.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := cat.Register(ctx, entry); err != nil {
			return err
		}
	}
	if opts.publish {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		event := reload.IndexCompleteEvent{
			SnapshotID:  entry.ID,
			Path:        entry.Path,
			CommittedAt: entry.CommittedAt,
		}
		if err := producer.Publish(ctx, entry.ID, event); err != nil {
			return err
		}
	}
	return writeJSON(stdout, entry)
}

// loadDocuments indexes one JSON document per line. Blank lines are skipped.
func loadDocuments(r io.Reader, cfg snapshot.Config, opts ...index.Option) (*index.MemoryIndex, error) {
	mem := index.NewMemoryIndex(cfg, opts...)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var doc inputDoc
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if doc.ID == "" {
			return nil, fmt.Errorf("line %d: document has no id", line)
		}
		tokens := make([]index.Token, len(doc.Tokens))
		for i, t := range doc.Tokens {
			tokens[i] = index.Token{Term: t.Term, Position: t.Position}
		}
		docID := mem.AddDocument(doc.ID, doc.Raw, tokens)
		if doc.Deleted {
			if err := mem.Delete(docID); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if mem.DocCount() == 0 {
		return nil, fmt.Errorf("no documents")
	}
	return mem, nil
}
