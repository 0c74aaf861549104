// Command indexdump inspects a segment file through the accessor layer, or
// builds one from pre-analyzed JSON lines.
//
//	indexdump -segment seg.spdx -stats
//	indexdump -segment seg.spdx -term here -postings
//	indexdump -segment seg.spdx -vector doc1
//	indexdump -build docs.jsonl -out data/segments -register -publish
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/accessor"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot/segment"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/logger"
)

type options struct {
	configPath string
	segment    string
	stats      bool
	term       string
	postings   bool
	limit      int
	vector     string
	raw        string
	docid      string
	internal   int

	build       string
	out         string
	noPositions bool
	register    bool
	publish     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "indexdump: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("indexdump", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (defaults and SP_* env when empty)")
	fs.StringVar(&opts.segment, "segment", "", "segment file to inspect")
	fs.BoolVar(&opts.stats, "stats", false, "print index statistics")
	fs.StringVar(&opts.term, "term", "", "print statistics of a term")
	fs.BoolVar(&opts.postings, "postings", false, "with -term, also print its postings")
	fs.IntVar(&opts.limit, "limit", 20, "maximum postings to print")
	fs.StringVar(&opts.vector, "vector", "", "print the term vector of an external id")
	fs.StringVar(&opts.raw, "raw", "", "print the raw text of an external id")
	fs.StringVar(&opts.docid, "docid", "", "resolve an external id to its internal id")
	fs.IntVar(&opts.internal, "internal", -1, "resolve an internal id to its external id")
	fs.StringVar(&opts.build, "build", "", "JSON lines file of pre-analyzed documents to index")
	fs.StringVar(&opts.out, "out", "", "output directory for -build (defaults to snapshot.dataDir)")
	fs.BoolVar(&opts.noPositions, "no-positions", false, "with -build, drop token positions")
	fs.BoolVar(&opts.register, "register", false, "with -build, register the segment in the snapshot catalog")
	fs.BoolVar(&opts.publish, "publish", false, "with -build, publish an index complete event")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.Logging.Level, "text"))
	readerCfg := snapshot.Config{
		IDField:     cfg.Snapshot.IDField,
		TextField:   cfg.Snapshot.TextField,
		RawField:    cfg.Snapshot.RawField,
		TermVectors: cfg.Snapshot.TermVectors,
	}

	if opts.build != "" {
		return build(ctx, cfg, readerCfg, opts, stdout)
	}
	if opts.segment == "" {
		fs.Usage()
		return errors.New("one of -segment or -build is required")
	}
	return inspect(readerCfg, opts, stdout)
}

func inspect(readerCfg snapshot.Config, opts options, stdout io.Writer) error {
	seg, err := segment.OpenReader(opts.segment, readerCfg)
	if err != nil {
		return err
	}
	defer seg.Close()
	r, err := accessor.New(seg, readerCfg, accessor.WithLogger(logger.WithComponent("indexdump")))
	if err != nil {
		return err
	}

	out := map[string]any{}
	if opts.stats {
		stats, err := r.IndexStats()
		if err != nil {
			return err
		}
		out["stats"] = stats
	}
	if opts.term != "" {
		stats, err := r.TermStats(opts.term)
		if err != nil {
			return err
		}
		out["term"] = map[string]any{"term": opts.term, "stats": stats}
		if opts.postings {
			postings, err := limitedPostings(r, opts.term, opts.limit)
			if err != nil {
				return err
			}
			out["postings"] = postings
		}
	}
	if opts.vector != "" {
		vec, err := r.DocumentVector(opts.vector)
		if err != nil {
			return err
		}
		out["vector"] = vec
	}
	if opts.raw != "" {
		raw, err := r.DocumentRaw(opts.raw)
		if err != nil {
			return err
		}
		out["raw"] = raw
	}
	if opts.docid != "" {
		id, err := r.ExternalToInternal(opts.docid)
		if err != nil {
			return err
		}
		out["doc_id"] = id
	}
	if opts.internal >= 0 {
		id, err := r.InternalToExternal(opts.internal)
		if err != nil {
			return err
		}
		out["external_id"] = id
	}
	if len(out) == 0 {
		stats, err := r.IndexStats()
		if err != nil {
			return err
		}
		out["stats"] = stats
	}
	return writeJSON(stdout, out)
}

func limitedPostings(r *accessor.Reader, term string, limit int) ([]accessor.Posting, error) {
	it, err := r.Postings(term)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	postings := make([]accessor.Posting, 0)
	for (limit <= 0 || len(postings) < limit) && it.Next() {
		postings = append(postings, it.Posting())
	}
	return postings, it.Err()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
