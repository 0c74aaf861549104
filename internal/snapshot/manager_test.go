package snapshot_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

func TestAcquireWithoutSnapshot(t *testing.T) {
	m := snapshot.NewManager(nil)
	if _, err := m.Acquire(); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("Acquire() err = %v, want ErrStoreUnavailable", err)
	}
	if id := m.CurrentID(); id != "" {
		t.Errorf("CurrentID() = %q, want empty", id)
	}
}

func TestSwapClosesOldSnapshotAfterLastRelease(t *testing.T) {
	first := indextest.Toy()
	second := indextest.Toy()
	m := snapshot.NewManager(first)

	lease, err := m.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	oldID, err := m.Swap(second)
	if err != nil {
		t.Fatal(err)
	}
	if oldID != first.ID() {
		t.Errorf("Swap() returned %q, want %q", oldID, first.ID())
	}
	if m.CurrentID() != second.ID() {
		t.Errorf("CurrentID() = %q, want %q", m.CurrentID(), second.ID())
	}

	// The in-flight lease still reads the old snapshot.
	if err := lease.Store().Check(); err != nil {
		t.Fatalf("leased snapshot closed early: %v", err)
	}
	lease.Release()
	lease.Release()
	if err := first.Check(); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("old snapshot Check() = %v, want closed", err)
	}
	if err := second.Check(); err != nil {
		t.Errorf("current snapshot Check() = %v", err)
	}
}

func TestSwapWithoutLeasesClosesImmediately(t *testing.T) {
	first := indextest.Toy()
	m := snapshot.NewManager(first)
	if _, err := m.Swap(indextest.Toy()); err != nil {
		t.Fatal(err)
	}
	if err := first.Check(); err == nil {
		t.Error("old snapshot should be closed")
	}
}

func TestCloseWaitsForLeases(t *testing.T) {
	snap := indextest.Toy()
	m := snapshot.NewManager(snap)
	lease, err := m.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("Acquire after Close err = %v", err)
	}
	if err := snap.Check(); err != nil {
		t.Errorf("snapshot closed while leased: %v", err)
	}
	lease.Release()
	if err := snap.Check(); err == nil {
		t.Error("snapshot should be closed after the last lease")
	}

	rejected := indextest.Toy()
	if _, err := m.Swap(rejected); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("Swap after Close err = %v", err)
	}
	if err := rejected.Check(); err == nil {
		t.Error("a snapshot rejected by Swap should be closed")
	}
}

func TestConcurrentLeasesAndSwaps(t *testing.T) {
	m := snapshot.NewManager(indextest.Toy())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				lease, err := m.Acquire()
				if err != nil {
					t.Error(err)
					return
				}
				if err := lease.Store().Check(); err != nil {
					t.Errorf("leased snapshot unavailable: %v", err)
				}
				lease.Release()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if _, err := m.Swap(indextest.Toy()); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	m.Close()
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     snapshot.Config
		wantErr bool
	}{
		{"default", snapshot.DefaultConfig(), false},
		{"empty id field", snapshot.Config{TextField: "contents"}, true},
		{"empty text field", snapshot.Config{IDField: "id"}, true},
		{"same field", snapshot.Config{IDField: "x", TextField: "x"}, true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
