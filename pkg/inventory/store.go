package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileVersion is the current version of the inventory file format.
const FileVersion = 1

// DefaultFileName is the inventory file name inside the state directory.
const DefaultFileName = "inventory.json"

var (
	// ErrNotSeeded is returned when a device write arrives before the
	// root record was seeded.
	ErrNotSeeded = errors.New("inventory root not seeded")

	// ErrScopeClosed is returned when a write targets a device whose
	// write scope was closed by FlushAndClose.
	ErrScopeClosed = errors.New("device write scope closed")

	// ErrUnknownDevice is returned by UpdateDevice for a device that was
	// never submitted.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("inventory store closed")
)

// Store is the persisted inventory consumed by the lifecycle manager.
// Implementations must be safe for concurrent use.
type Store interface {
	// SubmitInitial seeds a top-level record. The manager calls it once
	// with RootRecord() at construction and treats an error as fatal.
	SubmitInitial(rec Record) error

	// SubmitDevice creates or replaces a device record and (re)opens its
	// write scope.
	SubmitDevice(rec Record) error

	// UpdateDevice rewrites an existing device record. The write scope
	// must be open.
	UpdateDevice(rec Record) error

	// RemoveDevice drops a device record. Removing an absent device is
	// not an error.
	RemoveDevice(id string) error

	// Device returns a device record by identity.
	Device(id string) (Record, bool, error)

	// Devices returns all device records, ordered by identity.
	Devices() ([]Record, error)

	// FlushAndClose asynchronously persists pending writes for the device
	// and closes its write scope. The returned handle resolves exactly
	// once; cancelling it abandons the wait, never the scope close.
	FlushAndClose(id string) *Flush

	// Close persists pending writes and rejects further use.
	Close() error
}

// fileState is the on-disk JSON layout.
type fileState struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Root    *Record           `json:"root,omitempty"`
	Devices map[string]Record `json:"devices,omitempty"`
}

// FileStore is the default Store: device records buffered in memory,
// persisted to a JSON file on seed, flush, and close.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger

	root    *Record
	devices map[string]Record
	closed  map[string]bool // per-device write scopes closed by FlushAndClose
	dirty   bool
	down    bool
}

// NewFileStore creates a file store writing DefaultFileName under dir.
// An existing inventory file is loaded; a missing one is fine.
// A nil logger disables logging.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &FileStore{
		path:    filepath.Join(dir, DefaultFileName),
		logger:  logger,
		devices: make(map[string]Record),
		closed:  make(map[string]bool),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return err
	}

	s.root = fs.Root
	if fs.Devices != nil {
		s.devices = fs.Devices
	}
	return nil
}

// persistLocked writes the current state through a temp file rename.
// Callers hold s.mu.
func (s *FileStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	fs := fileState{
		Version: FileVersion,
		SavedAt: time.Now(),
		Root:    s.root,
		Devices: s.devices,
	}
	data, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}

	s.dirty = false
	return nil
}

// SubmitInitial seeds a top-level record and persists immediately.
func (s *FileStore) SubmitInitial(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return ErrStoreClosed
	}

	r := rec
	s.root = &r
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("failed to seed inventory root: %w", err)
	}
	return nil
}

// SubmitDevice creates or replaces a device record in the write buffer
// and (re)opens its write scope.
func (s *FileStore) SubmitDevice(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return ErrStoreClosed
	}
	if s.root == nil {
		return ErrNotSeeded
	}

	delete(s.closed, rec.ID)
	s.devices[rec.ID] = rec
	s.dirty = true
	return nil
}

// UpdateDevice rewrites an existing device record in the write buffer.
func (s *FileStore) UpdateDevice(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return ErrStoreClosed
	}
	if s.closed[rec.ID] {
		return fmt.Errorf("%w: %s", ErrScopeClosed, rec.ID)
	}
	if _, ok := s.devices[rec.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, rec.ID)
	}

	s.devices[rec.ID] = rec
	s.dirty = true
	return nil
}

// RemoveDevice drops a device record from the write buffer.
func (s *FileStore) RemoveDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return ErrStoreClosed
	}

	delete(s.devices, id)
	delete(s.closed, id)
	s.dirty = true
	return nil
}

// Device returns a device record by identity.
func (s *FileStore) Device(id string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return Record{}, false, ErrStoreClosed
	}

	rec, ok := s.devices[id]
	return rec, ok, nil
}

// Devices returns all device records, ordered by identity.
func (s *FileStore) Devices() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return nil, ErrStoreClosed
	}

	recs := make([]Record, 0, len(s.devices))
	for _, rec := range s.devices {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// FlushAndClose asynchronously persists pending writes and closes the
// device's write scope. The scope closes even when the persist fails or
// the handle is cancelled; only the caller's wait is cut short.
func (s *FileStore) FlushAndClose(id string) *Flush {
	fl := NewFlush()

	go func() {
		s.mu.Lock()
		if s.down {
			s.mu.Unlock()
			fl.Complete(ErrStoreClosed)
			return
		}
		s.closed[id] = true

		var err error
		if s.dirty {
			err = s.persistLocked()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("inventory flush failed", "device", id, "error", err)
		}
		fl.Complete(err)
	}()

	return fl
}

// Close persists pending writes and rejects further use.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return nil
	}
	s.down = true

	if !s.dirty {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("failed to persist inventory on close: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Store = (*FileStore)(nil)
