package cachestore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/image"
)

func TestFileStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	clock := newTestClock()

	first := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "data/cache.json", Clock: clock.Now})
	_, err := first.Sync(ctx, []image.Record{{ID: "a", CreatedAt: "2024-01-01"}}, nil)
	require.NoError(t, err)

	raw, err := afero.ReadFile(fs, "data/cache.json")
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Contains(t, env, "images")
	assert.Contains(t, env, "lastUpdated")
	assert.Equal(t, true, env["isInitialized"])

	restored := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "data/cache.json"})
	images, _ := restored.GetAll(ctx)
	require.Len(t, images, 1)
	assert.Equal(t, "a", images[0].ID)

	ok, _ := restored.IsInitialized(ctx)
	assert.True(t, ok)
	last, has, _ := restored.LastUpdated(ctx)
	assert.True(t, has)
	assert.True(t, last.Equal(clock.Now()))
}

func TestFileStore_OnlySyncWritesSnapshot(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "cache.json"})

	require.NoError(t, s.Init(ctx, []image.Record{{ID: "a"}}))
	require.NoError(t, s.AddOrUpdate(ctx, image.Record{ID: "b"}))

	exists, err := afero.Exists(fs, "cache.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileStore_ClearRemovesSnapshot(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "cache.json"})

	_, err := s.Sync(ctx, []image.Record{{ID: "a"}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))

	exists, _ := afero.Exists(fs, "cache.json")
	assert.False(t, exists)

	restarted := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "cache.json"})
	ok, _ := restarted.IsInitialized(ctx)
	assert.False(t, ok)
}

func TestFileStore_CorruptedSnapshotIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "cache.json", []byte("{not json"), 0o644))

	s := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "cache.json"})
	images, err := s.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestFileStore_SnapshotFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	s := NewFileStore(FileOptions{Fs: fs, SnapshotPath: "data/cache.json"})

	merged, err := s.Sync(ctx, []image.Record{{ID: "a"}}, []image.Record{{ID: "b"}})
	require.NoError(t, err)
	assert.Len(t, merged, 2)

	images, _ := s.GetAll(ctx)
	assert.Len(t, images, 2)
}
