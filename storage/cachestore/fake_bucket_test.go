package cachestore

import (
	"context"
	"sync"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/natsclient"
)

// fakeBucket is an in-memory Bucket with failure injection.
type fakeBucket struct {
	mu      sync.Mutex
	data    map[string][]byte
	rev     map[string]uint64
	fail    bool
	gets    int
	puts    int
	updates int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{data: map[string][]byte{}, rev: map[string]uint64{}}
}

var errBucketDown = errors.New("nats: connection closed")

func (f *fakeBucket) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeBucket) Get(_ context.Context, key string) (*natsclient.KVEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.fail {
		return nil, errBucketDown
	}
	v, ok := f.data[key]
	if !ok {
		return nil, natsclient.ErrKVKeyNotFound
	}
	return &natsclient.KVEntry{Key: key, Value: append([]byte(nil), v...), Revision: f.rev[key]}, nil
}

func (f *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.fail {
		return 0, errBucketDown
	}
	f.data[key] = append([]byte(nil), value...)
	f.rev[key]++
	return f.rev[key], nil
}

func (f *fakeBucket) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errBucketDown
	}
	delete(f.data, key)
	return nil
}

func (f *fakeBucket) UpdateWithRetry(_ context.Context, key string, fn func([]byte) ([]byte, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.fail {
		return errBucketDown
	}
	next, err := fn(f.data[key])
	if err != nil {
		return err
	}
	f.data[key] = next
	f.rev[key]++
	return nil
}

func (f *fakeBucket) raw(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return string(v), ok
}
