package testutil

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/image"
	"github.com/xmx0632/photoshow/storage"
)

// MemoryObjectStore is an in-memory storage.ObjectStore.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string]storage.Object
	data    map[string][]byte

	// Prefix is prepended to keys given without it.
	Prefix     string
	QuotaBytes int64
	// Now stamps LastModified; defaults to time.Now.
	Now func() time.Time
	// Err, when set, fails every call.
	Err error
}

var _ storage.ObjectStore = (*MemoryObjectStore)(nil)

// NewMemoryObjectStore creates an empty store with the "images/" prefix.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects:    map[string]storage.Object{},
		data:       map[string][]byte{},
		Prefix:     "images/",
		QuotaBytes: 1 << 20,
		Now:        time.Now,
	}
}

func (s *MemoryObjectStore) key(k string) string {
	if strings.HasPrefix(k, s.Prefix) {
		return k
	}
	return s.Prefix + k
}

func (s *MemoryObjectStore) List(_ context.Context, prefix string) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []storage.Object{}
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string,
	metadata map[string]string) (storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return storage.Object{}, s.Err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return storage.Object{}, err
	}
	key = s.key(key)
	obj := storage.Object{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  contentType,
		LastModified: s.Now().UTC(),
		Metadata:     metadata,
	}
	s.objects[key] = obj
	s.data[key] = b
	return obj, nil
}

func (s *MemoryObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	key = s.key(key)
	delete(s.objects, key)
	delete(s.data, key)
	return nil
}

func (s *MemoryObjectStore) URL(_ context.Context, key string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("http://objects.test/%s", s.key(key)), nil
}

func (s *MemoryObjectStore) Usage(ctx context.Context) (storage.Usage, error) {
	objects, err := s.List(ctx, s.Prefix)
	if err != nil {
		return storage.Usage{}, err
	}
	var used int64
	for _, o := range objects {
		used += o.Size
	}
	return storage.ComputeUsage(used, s.QuotaBytes, len(objects), 0.8), nil
}

// Data returns the bytes stored at key.
func (s *MemoryObjectStore) Data(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[s.key(key)]
	return b, ok
}

// MemoryMetadataStore is an in-memory storage.MetadataStore.
type MemoryMetadataStore struct {
	mu      sync.Mutex
	records map[string]image.Record
	Err     error
}

var _ storage.MetadataStore = (*MemoryMetadataStore)(nil)

// NewMemoryMetadataStore creates an empty store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{records: map[string]image.Record{}}
}

func (s *MemoryMetadataStore) Upsert(_ context.Context, record image.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	record = image.Finalize(record)
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *MemoryMetadataStore) Get(_ context.Context, id string) (image.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return image.Record{}, s.Err
	}
	r, ok := s.records[id]
	if !ok {
		return image.Record{}, fmt.Errorf("%w: %s", errors.ErrKeyNotFound, id)
	}
	return r.Clone(), nil
}

func (s *MemoryMetadataStore) List(_ context.Context) ([]image.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]image.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	image.SortNewestFirst(out)
	return out, nil
}

func (s *MemoryMetadataStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryMetadataStore) SetTags(_ context.Context, id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrKeyNotFound, id)
	}
	r.Tags = image.NewTags(tags...)
	s.records[id] = r
	return nil
}
