package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/config"
	"github.com/xmx0632/photoshow/generation"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/imagecache"
)

// writeConfig points the file backend at a temp snapshot.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "photoshow.yaml")
	body := "cache:\n  snapshot_path: " + filepath.Join(dir, "cache.json") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "photoshow version "+Version)
}

func TestServeValidate(t *testing.T) {
	_, err := run(t, "serve", "--validate", "-c", writeConfig(t))
	assert.NoError(t, err)

	_, err = run(t, "serve", "--validate", "-c", writeConfig(t), "--log-format", "xml")
	assert.Error(t, err)
}

func TestLimitOnFileBackend(t *testing.T) {
	out, err := run(t, "limit", "--json", "-c", writeConfig(t))
	require.NoError(t, err)

	var st generation.LimitStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, int64(50), st.Limit)
	assert.Equal(t, int64(50), st.Remaining)
	assert.False(t, st.IsLimitExceeded)
}

func TestCacheStatusAndClear(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "cache", "status", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Images:       0")
	assert.Contains(t, out, "Last updated: never")

	out, err = run(t, "cache", "clear", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
}

func TestPrintCacheStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, printCacheStatus(&buf, imagecache.Status{
		Images:        []image.Record{{ID: "a.png"}},
		IsInitialized: true,
		LastUpdated:   &now,
	}, false))
	assert.Contains(t, buf.String(), "Images:       1")
	assert.Contains(t, buf.String(), "2024-05-01T12:00:00Z")
}

func TestPrintLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printLimit(&buf, generation.LimitStatus{CurrentCount: 50, Limit: 50, IsLimitExceeded: true}, false))
	assert.Contains(t, buf.String(), "50 / 50")
	assert.Contains(t, buf.String(), "Limit reached")
}

func TestSetupLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, config.LogConfig{Level: "info", Format: "json"}).Info("hello")
	assert.Contains(t, buf.String(), `"service":"photoshow"`)

	buf.Reset()
	setupLogger(&buf, config.LogConfig{Level: "info", Format: "text"}).Info("hello")
	assert.Contains(t, buf.String(), "service=photoshow")
}

func TestNewCoreClosesStoreOnce(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.SnapshotPath = filepath.Join(t.TempDir(), "cache.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := newCore(cfg, logger)
	require.NoError(t, err)
	require.Len(t, c.closers, 1, "the manager closer replaces the store closer")

	ctx := context.Background()
	require.NoError(t, c.cache.Init(ctx, []image.Record{{ID: "a.png"}}))
	c.close(ctx)
	assert.Nil(t, c.closers)
	c.close(ctx)
}

func TestNewCoreFailureRunsClosers(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.SnapshotPath = filepath.Join(t.TempDir(), "cache.json")
	cfg.Generation.Timezone = "Nowhere/Atlantis"

	c, err := newCore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
	assert.Nil(t, c)
}
