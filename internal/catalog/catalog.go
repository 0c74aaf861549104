// Package catalog is the registry of committed index snapshots in
// PostgreSQL. The indexing side registers every segment it commits; the
// reader asks for the latest one at startup and on reload events.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS index_snapshots (
		id          TEXT PRIMARY KEY,
		path        TEXT NOT NULL,
		max_doc     INTEGER NOT NULL,
		live_docs   INTEGER NOT NULL,
		committed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		retired     BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_snapshots_committed
		ON index_snapshots (committed_at DESC) WHERE NOT retired`,
}

// Entry describes one committed snapshot.
type Entry struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	MaxDoc      int       `json:"max_doc"`
	LiveDocs    int       `json:"live_docs"`
	CommittedAt time.Time `json:"committed_at"`
}

type Catalog struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Catalog {
	return &Catalog{
		db:     db,
		logger: slog.Default().With("component", "snapshot-catalog"),
	}
}

func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if err := c.db.Exec(ctx, schema...); err != nil {
		return fmt.Errorf("creating catalog schema: %w", err)
	}
	return nil
}

// Register records a committed snapshot. Registering the same id twice
// updates its path and counts.
func (c *Catalog) Register(ctx context.Context, e Entry) error {
	_, err := c.db.DB.ExecContext(ctx,
		`INSERT INTO index_snapshots (id, path, max_doc, live_docs)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET path = EXCLUDED.path, max_doc = EXCLUDED.max_doc,
		     live_docs = EXCLUDED.live_docs, retired = false`,
		e.ID, e.Path, e.MaxDoc, e.LiveDocs,
	)
	if err != nil {
		return fmt.Errorf("registering snapshot %s: %w", e.ID, err)
	}
	c.logger.Info("snapshot registered", "snapshot", e.ID, "path", e.Path)
	return nil
}

// Latest returns the most recently committed snapshot that is not retired.
func (c *Catalog) Latest(ctx context.Context) (Entry, error) {
	row := c.db.DB.QueryRowContext(ctx,
		`SELECT id, path, max_doc, live_docs, committed_at
		 FROM index_snapshots
		 WHERE NOT retired
		 ORDER BY committed_at DESC, id DESC
		 LIMIT 1`,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "no committed snapshot in catalog")
	}
	if err != nil {
		return Entry{}, fmt.Errorf("querying latest snapshot: %w", err)
	}
	return e, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (Entry, error) {
	row := c.db.DB.QueryRowContext(ctx,
		`SELECT id, path, max_doc, live_docs, committed_at FROM index_snapshots WHERE id = $1`,
		id,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "snapshot %q", id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("querying snapshot %s: %w", id, err)
	}
	return e, nil
}

// Retire hides a snapshot from Latest.
func (c *Catalog) Retire(ctx context.Context, id string) error {
	result, err := c.db.DB.ExecContext(ctx,
		`UPDATE index_snapshots SET retired = true WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("retiring snapshot %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "snapshot %q", id)
	}
	c.logger.Info("snapshot retired", "snapshot", id)
	return nil
}

func scanEntry(row *sql.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Path, &e.MaxDoc, &e.LiveDocs, &e.CommittedAt)
	return e, err
}
