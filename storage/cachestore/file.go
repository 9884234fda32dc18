package cachestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
)

// FileOptions configures a FileStore.
type FileOptions struct {
	// Fs is the filesystem holding the snapshot. Defaults to the OS filesystem.
	Fs afero.Fs
	// SnapshotPath is the snapshot file; empty disables snapshots.
	SnapshotPath string
	Logger       *slog.Logger
	Clock        Clock
}

// FileStore keeps the envelope in process memory and writes a JSON
// snapshot on Sync for warm restarts. The snapshot is advisory: memory is
// authoritative while the process runs. One writer process is assumed.
type FileStore struct {
	state  *memoryState
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore and restores the snapshot when present.
// A missing or unreadable snapshot leaves the store empty.
func NewFileStore(opts FileOptions) *FileStore {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &FileStore{
		state:  newMemoryState(opts.Clock),
		fs:     opts.Fs,
		path:   opts.SnapshotPath,
		logger: opts.Logger.With("component", "cachestore", "backend", BackendFile),
	}
	s.restore()
	return s
}

func (s *FileStore) restore() {
	if s.path == "" {
		return
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read cache snapshot", "path", s.path, "error", err)
		}
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("Ignoring corrupted cache snapshot", "path", s.path, "error", err)
		return
	}
	if env.Images == nil {
		env.Images = []image.Record{}
	}

	s.state.observe(env)
	s.logger.Info("Restored cache snapshot", "path", s.path, "images", len(env.Images),
		"initialized", env.IsInitialized)
}

// writeSnapshot writes the envelope through a temp file and rename.
func (s *FileStore) writeSnapshot() error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(s.state.envelope())
	if err != nil {
		return errors.WrapInvalid(err, "FileStore", "writeSnapshot", "encode snapshot")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapTransient(err, "FileStore", "writeSnapshot", "create snapshot dir")
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.WrapTransient(err, "FileStore", "writeSnapshot", "write snapshot")
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.WrapTransient(err, "FileStore", "writeSnapshot", "replace snapshot")
	}
	return nil
}

// Init implements Store.
func (s *FileStore) Init(_ context.Context, images []image.Record) error {
	s.state.init(images)
	return nil
}

// GetAll implements Store.
func (s *FileStore) GetAll(_ context.Context) ([]image.Record, error) {
	return s.state.getAll(), nil
}

// IsInitialized implements Store.
func (s *FileStore) IsInitialized(_ context.Context) (bool, error) {
	return s.state.isInitialized(), nil
}

// LastUpdated implements Store.
func (s *FileStore) LastUpdated(_ context.Context) (time.Time, bool, error) {
	t, ok := s.state.lastUpdatedAt()
	return t, ok, nil
}

// AddOrUpdate implements Store.
func (s *FileStore) AddOrUpdate(_ context.Context, record image.Record) error {
	s.state.addOrUpdate(record)
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context, id string) (bool, error) {
	return s.state.remove(id), nil
}

// Update implements Store.
func (s *FileStore) Update(_ context.Context, id string, patch image.Patch) (bool, error) {
	return s.state.update(id, patch), nil
}

// Clear implements Store. The snapshot is removed so a restart does not
// bring cleared data back.
func (s *FileStore) Clear(_ context.Context) error {
	s.state.clear()
	if s.path != "" {
		if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove cache snapshot", "path", s.path, "error", err)
		}
	}
	return nil
}

// Sync implements Store. Snapshot failures are logged and never returned.
func (s *FileStore) Sync(_ context.Context, local, remote []image.Record) ([]image.Record, error) {
	merged := image.Merge(local, remote)
	s.state.init(merged)

	if err := s.writeSnapshot(); err != nil {
		s.logger.Warn("Cache snapshot not written", "path", s.path, "error", err)
	}
	return cloneRecords(merged), nil
}

// Capabilities implements Store.
func (s *FileStore) Capabilities() Capabilities {
	return Capabilities{}
}

// Name implements Store.
func (s *FileStore) Name() string { return BackendFile }

// Close implements Store.
func (s *FileStore) Close(_ context.Context) error { return nil }
