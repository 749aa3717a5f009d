// Package blob abstracts the object storage holding bulk diff payloads.
package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentstation/zenginsync/pkg/errors"
)

// Driver names a blob backend.
type Driver string

// Supported drivers.
const (
	DriverMemory Driver = "memory"
	DriverS3     Driver = "s3"
)

// PutOptions describe an object being written.
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// Info describes a stored object.
type Info struct {
	Key             string
	Size            int64
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
	LastModified    time.Time
}

// Store reads and writes whole objects. Put overwrites.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (Info, []byte, error)
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	info Info
	body []byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject), now: time.Now}
}

// Driver implements Store.
func (m *Memory) Driver() Driver { return DriverMemory }

// Put implements Store.
func (m *Memory) Put(_ context.Context, key string, body []byte, opts PutOptions) error {
	if key == "" {
		return errors.NewValidationError("key", key, "blob key required")
	}
	md := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		md[strings.ToLower(k)] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{
		info: Info{
			Key:             key,
			Size:            int64(len(body)),
			ContentType:     opts.ContentType,
			ContentEncoding: opts.ContentEncoding,
			Metadata:        md,
			LastModified:    m.now().UTC(),
		},
		body: append([]byte(nil), body...),
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (Info, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Info{}, nil, errors.NewNotFoundError("blob", key)
	}
	return obj.info, append([]byte(nil), obj.body...), nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
