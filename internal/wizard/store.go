package wizard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for wizard persistence.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultDebounceDelay = 500 * time.Millisecond
	snapshotVersion      = 1
)

var (
	// ErrNoSnapshot is returned by Load when nothing was saved.
	ErrNoSnapshot = errors.New("no saved wizard")
	// ErrExpired is returned by Load for a snapshot older than the TTL.
	ErrExpired = errors.New("saved wizard expired")
)

// Snapshot is the persisted state of a wizard. It holds the confirmed data
// and the current step only; analysis sessions are never persisted, so a
// resumed wizard always starts analysis afresh.
type Snapshot struct {
	Version int       `yaml:"version"`
	StepID  StepID    `yaml:"step_id"`
	Data    Data      `yaml:"data"`
	SavedAt time.Time `yaml:"saved_at"`
}

// Store reads and writes a YAML snapshot file.
type Store struct {
	Path string
	TTL  time.Duration
	Now  func() time.Time
}

// NewStore creates a store for path. A zero ttl uses DefaultTTL.
func NewStore(path string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{Path: path, TTL: ttl, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Save writes snap atomically, stamping SavedAt.
func (s *Store) Save(snap Snapshot) error {
	snap.Version = snapshotVersion
	snap.SavedAt = s.now().UTC()

	b, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".wizard-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. Expired snapshots are removed and reported as
// ErrExpired.
func (s *Store) Load() (Snapshot, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("snapshot version %d: %w", snap.Version, ErrNoSnapshot)
	}

	if age := s.now().Sub(snap.SavedAt); age > s.TTL {
		if err := s.Clear(); err != nil {
			slog.Warn("failed to remove expired wizard snapshot", "path", s.Path, "error", err)
		}
		return Snapshot{}, fmt.Errorf("saved %s ago: %w", age.Round(time.Minute), ErrExpired)
	}
	return snap, nil
}

// Clear removes the snapshot file if present.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// DebouncedWriter coalesces rapid saves: only the latest snapshot is
// written, delay after the last Schedule call.
type DebouncedWriter struct {
	store  *Store
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending *Snapshot
	closed  bool
}

// NewDebouncedWriter creates a writer for store. A zero delay uses
// DefaultDebounceDelay.
func NewDebouncedWriter(store *Store, delay time.Duration, logger *slog.Logger) *DebouncedWriter {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DebouncedWriter{store: store, delay: delay, logger: logger}
}

// Schedule queues snap, replacing any snapshot not yet written.
func (w *DebouncedWriter) Schedule(snap Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = &snap
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.fire)
		return
	}
	w.timer.Reset(w.delay)
}

func (w *DebouncedWriter) fire() {
	if err := w.Flush(); err != nil {
		w.logger.Warn("failed to save wizard progress", "path", w.store.Path, "error", err)
	}
}

// Flush writes the pending snapshot now.
func (w *DebouncedWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.pending == nil {
		return nil
	}
	snap := *w.pending
	w.pending = nil
	return w.store.Save(snap)
}

// Close flushes and stops accepting snapshots.
func (w *DebouncedWriter) Close() error {
	err := w.Flush()
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}
