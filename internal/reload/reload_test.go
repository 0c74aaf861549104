package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/resilience"
)

func segmentOpener(path string) (snapshot.Store, error) {
	return segment.OpenReader(path, snapshot.DefaultConfig())
}

func writeToy(t *testing.T, dir string) string {
	t.Helper()
	name, err := segment.NewWriter(dir).Write(indextest.Toy())
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, name)
}

type fakeCatalog map[string]catalog.Entry

func (c fakeCatalog) Get(_ context.Context, id string) (catalog.Entry, error) {
	e, ok := c[id]
	if !ok {
		return catalog.Entry{}, apperrors.Newf(apperrors.ErrNotFound, 404, "snapshot %q", id)
	}
	return e, nil
}

func TestReloadSwapsAndClosesPrevious(t *testing.T) {
	first := indextest.Toy()
	manager := snapshot.NewManager(first)
	defer manager.Close()
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())

	var swapped []string
	r := New(manager, segmentOpener, WithMetrics(m), WithSwapHook(func(_ context.Context, oldID, newID string) {
		swapped = append(swapped, oldID+"->"+newID)
	}))

	path := writeToy(t, t.TempDir())
	if err := r.Reload(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if err := first.Check(); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("previous snapshot Check() = %v, want closed", err)
	}
	if len(swapped) != 1 || swapped[0] != first.ID()+"->"+manager.CurrentID() {
		t.Errorf("swap hook calls = %v", swapped)
	}
	if got := testutil.ToFloat64(m.SnapshotReloadsTotal.WithLabelValues("swapped")); got != 1 {
		t.Errorf("swapped reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LiveDocuments); got != 3 {
		t.Errorf("live documents gauge = %v, want 3", got)
	}

	// Redelivery of the same event is a no-op.
	current := manager.CurrentID()
	if err := r.Reload(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if manager.CurrentID() != current || len(swapped) != 1 {
		t.Error("reloading the served snapshot should not swap")
	}
	if got := testutil.ToFloat64(m.SnapshotReloadsTotal.WithLabelValues("unchanged")); got != 1 {
		t.Errorf("unchanged reloads = %v, want 1", got)
	}
}

func TestReloadOpenFailureKeepsCurrent(t *testing.T) {
	first := indextest.Toy()
	manager := snapshot.NewManager(first)
	defer manager.Close()
	r := New(manager, segmentOpener)

	if err := r.Reload(context.Background(), filepath.Join(t.TempDir(), "missing.spdx")); err == nil {
		t.Fatal("Reload of a missing file should fail")
	}
	if manager.CurrentID() != first.ID() {
		t.Error("failed reload replaced the served snapshot")
	}
	if err := first.Check(); err != nil {
		t.Errorf("served snapshot closed after failed reload: %v", err)
	}
}

func TestReloadRetriesTransientOpenFailures(t *testing.T) {
	manager := snapshot.NewManager(indextest.Toy())
	defer manager.Close()
	path := writeToy(t, t.TempDir())

	attempts := 0
	flaky := func(p string) (snapshot.Store, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("segment not visible yet")
		}
		return segmentOpener(p)
	}
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	r := New(manager, flaky, WithRetry(retry))
	if err := r.Reload(context.Background(), path); err != nil {
		t.Fatalf("Reload() = %v", err)
	}
	if attempts != 3 {
		t.Errorf("open attempts = %d, want 3", attempts)
	}

	attempts = 0
	corrupt := func(string) (snapshot.Store, error) {
		attempts++
		return nil, fmt.Errorf("bad footer: %w", apperrors.ErrCorruptSnapshot)
	}
	r = New(manager, corrupt, WithRetry(retry))
	if err := r.Reload(context.Background(), path); !errors.Is(err, apperrors.ErrCorruptSnapshot) {
		t.Errorf("Reload() = %v, want corrupt snapshot", err)
	}
	if attempts != 1 {
		t.Errorf("corrupt snapshot opened %d times, want 1", attempts)
	}
}

func TestHandleMessage(t *testing.T) {
	dir := t.TempDir()
	path := writeToy(t, dir)

	cases := []struct {
		name      string
		value     string
		wantErr   bool
		wantSwaps int
	}{
		{"path", fmt.Sprintf(`{"snapshot_id":"s1","path":%q}`, path), false, 1},
		{"catalog lookup", `{"snapshot_id":"s1"}`, false, 1},
		{"unknown catalog id", `{"snapshot_id":"s2"}`, true, 0},
		{"malformed", `{"snapshot_id":`, false, 0},
		{"no path no id", `{}`, false, 0},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			manager := snapshot.NewManager(indextest.Toy())
			defer manager.Close()
			swaps := 0
			r := New(manager, segmentOpener,
				WithCatalog(fakeCatalog{"s1": {ID: "s1", Path: path}}),
				WithSwapHook(func(context.Context, string, string) { swaps++ }),
			)
			err := r.HandleMessage()(context.Background(), []byte("k"), []byte(tt.value))
			if (err != nil) != tt.wantErr {
				t.Errorf("handler err = %v, wantErr %v", err, tt.wantErr)
			}
			if swaps != tt.wantSwaps {
				t.Errorf("swaps = %d, want %d", swaps, tt.wantSwaps)
			}
		})
	}
}
