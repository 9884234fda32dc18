package cachestore

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/natsclient"
)

func TestNew_SelectsBackend(t *testing.T) {
	cfg := DefaultConfig()
	store, err := New(cfg, Deps{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	cfg.Backend = BackendExternalKV
	store, err = New(cfg, Deps{NATS: client})
	require.NoError(t, err)
	assert.IsType(t, &KVStore{}, store)
}

func TestNew_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "redis"
	_, err := New(cfg, Deps{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsInvalid(err))

	cfg = DefaultConfig()
	cfg.Backend = BackendExternalKV
	_, err = New(cfg, Deps{})
	assert.Error(t, err, "external-kv requires a NATS client")

	cfg.CounterBucket = cfg.Bucket
	assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidConfig)
}
