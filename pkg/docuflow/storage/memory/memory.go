package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/docuflow/pkg/docuflow"
)

const backendName = "memory"

type entry struct {
	data        []byte
	contentType string
	versionTag  string
}

// Backend is an in-memory implementation of the docuflow.ObjectStore interface
type Backend struct {
	mu         sync.RWMutex
	containers map[string]map[string]entry
}

// New creates a new in-memory storage backend with the given containers pre-created
func New(containers ...string) *Backend {
	b := &Backend{
		containers: make(map[string]map[string]entry),
	}
	for _, name := range containers {
		b.containers[name] = make(map[string]entry)
	}
	return b
}

// Get retrieves an object from memory
func (b *Backend) Get(ctx context.Context, container, key string) (*docuflow.StoredObject, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	objects, ok := b.containers[container]
	if !ok {
		return nil, b.error("get", container, key, docuflow.ErrObjectNotFound)
	}
	e, ok := objects[key]
	if !ok {
		return nil, b.error("get", container, key, docuflow.ErrObjectNotFound)
	}

	// Copy so callers never share the stored slice
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return &docuflow.StoredObject{
		Data:        data,
		ContentType: e.contentType,
		VersionTag:  e.versionTag,
	}, nil
}

// Put stores an object, honouring versionTag as an If-Match precondition
func (b *Backend) Put(ctx context.Context, container, key string, data []byte, contentType, versionTag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	objects, ok := b.containers[container]
	if !ok {
		return b.error("put", container, key, docuflow.ErrContainerNotFound)
	}
	if versionTag != "" {
		current, exists := objects[key]
		if !exists || current.versionTag != versionTag {
			return b.error("put", container, key, docuflow.ErrStorageConflict)
		}
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objects[key] = entry{
		data:        stored,
		contentType: contentType,
		versionTag:  uuid.NewString(),
	}
	return nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, container, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	objects, ok := b.containers[container]
	if !ok {
		return b.error("delete", container, key, docuflow.ErrObjectNotFound)
	}
	if _, exists := objects[key]; !exists {
		return b.error("delete", container, key, docuflow.ErrObjectNotFound)
	}
	delete(objects, key)
	return nil
}

// CreateContainer creates a container if it does not exist yet
func (b *Backend) CreateContainer(ctx context.Context, container string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.containers[container]; !ok {
		b.containers[container] = make(map[string]entry)
	}
	return nil
}

// Keys lists the keys stored in a container. Intended for tests and debugging.
func (b *Backend) Keys(container string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.containers[container]))
	for k := range b.containers[container] {
		keys = append(keys, k)
	}
	return keys
}

func (b *Backend) error(op, container, key string, err error) error {
	return &docuflow.StorageError{
		Backend:   backendName,
		Container: container,
		Key:       key,
		Op:        op,
		Err:       err,
	}
}
