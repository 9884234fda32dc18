//go:build integration

package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startMinIO(t *testing.T) Config {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:RELEASE.2024-08-17T01-24-54Z",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Endpoint = fmt.Sprintf("%s:%s", host, port.Port())
	cfg.QuotaBytes = 100
	return cfg
}

func TestStoreLifecycle(t *testing.T) {
	cfg := startMinIO(t)
	ctx := context.Background()

	s, err := Open(ctx, cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx), "second ensure is a no-op")

	body := "fake png bytes"
	obj, err := s.Put(ctx, "cat.png", strings.NewReader(body), int64(len(body)), "image/png",
		map[string]string{"prompt": "a cat, 猫", "tags": "cat,cute"})
	require.NoError(t, err)
	assert.Equal(t, "images/cat.png", obj.Key)

	objects, err := s.List(ctx, s.Prefix())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "images/cat.png", objects[0].Key)
	assert.Equal(t, int64(len(body)), objects[0].Size)
	assert.Equal(t, "a cat, 猫", objects[0].Metadata["prompt"])
	assert.Equal(t, "cat,cute", objects[0].Metadata["tags"])

	link, err := s.URL(ctx, "cat.png")
	require.NoError(t, err)
	resp, err := http.Get(link)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, string(data))

	usage, err := s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), usage.UsedBytes)
	assert.Equal(t, 1, usage.Objects)

	require.NoError(t, s.Delete(ctx, "cat.png"))
	require.NoError(t, s.Delete(ctx, "cat.png"), "deleting a missing object succeeds")

	objects, err = s.List(ctx, s.Prefix())
	require.NoError(t, err)
	assert.Empty(t, objects)
}
