package snapshot

import (
	"log/slog"
	"net/http"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/errors"
)

// Manager owns the currently served Store and hands out reference-counted
// leases on it. Swap installs a new snapshot; the previous one is closed as
// soon as its last lease is released.
type Manager struct {
	mu      sync.Mutex
	current *handle
	closed  bool
	logger  *slog.Logger
}

type handle struct {
	store   Store
	refs    int
	retired bool
}

// Lease pins a Store for the duration of a request.
type Lease struct {
	m    *Manager
	h    *handle
	once sync.Once
}

func NewManager(s Store) *Manager {
	m := &Manager{
		logger: slog.Default().With("component", "snapshot-manager"),
	}
	if s != nil {
		m.current = &handle{store: s}
		m.logger.Info("snapshot installed", "snapshot", s.ID(), "live_docs", s.LiveDocCount())
	}
	return m
}

// Acquire leases the current snapshot. Callers must Release the lease on
// every exit path.
func (m *Manager) Acquire() (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current == nil {
		return nil, apperrors.New(apperrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "no snapshot is open")
	}
	m.current.refs++
	return &Lease{m: m, h: m.current}, nil
}

func (l *Lease) Store() Store {
	return l.h.store
}

// Release drops the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.release(l.h)
	})
}

func (m *Manager) release(h *handle) {
	m.mu.Lock()
	h.refs--
	closeNow := h.retired && h.refs == 0
	m.mu.Unlock()
	if closeNow {
		m.closeStore(h.store)
	}
}

// Swap installs s as the served snapshot and returns the id of the one it
// replaced, or "" if none was open.
func (m *Manager) Swap(s Store) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if err := s.Close(); err != nil {
			m.logger.Error("closing rejected snapshot", "snapshot", s.ID(), "error", err)
		}
		return "", apperrors.New(apperrors.ErrStoreUnavailable, http.StatusServiceUnavailable, "snapshot manager is closed")
	}
	old := m.current
	m.current = &handle{store: s}
	var oldID string
	closeOld := false
	if old != nil {
		oldID = old.store.ID()
		old.retired = true
		closeOld = old.refs == 0
	}
	m.mu.Unlock()

	m.logger.Info("snapshot swapped",
		"snapshot", s.ID(),
		"previous", oldID,
		"live_docs", s.LiveDocCount(),
	)
	if closeOld {
		m.closeStore(old.store)
	}
	return oldID, nil
}

// CurrentID returns the id of the served snapshot, or "" if none.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.store.ID()
}

// Close stops handing out leases. The served snapshot is closed once all
// outstanding leases are released.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h := m.current
	m.current = nil
	closeNow := false
	if h != nil {
		h.retired = true
		closeNow = h.refs == 0
	}
	m.mu.Unlock()

	if closeNow {
		return h.store.Close()
	}
	return nil
}

func (m *Manager) closeStore(s Store) {
	if err := s.Close(); err != nil {
		m.logger.Error("closing retired snapshot", "snapshot", s.ID(), "error", err)
		return
	}
	m.logger.Info("retired snapshot closed", "snapshot", s.ID())
}
