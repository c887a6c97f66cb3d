package fs

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/tendant/docuflow/pkg/docuflow"
)

const backendName = "fs"

// Backend is a filesystem implementation of the docuflow.ObjectStore interface.
// Containers are directories under BaseDir; keys are paths inside them.
// Version tags are content hashes, so rewriting identical bytes keeps the tag.
// The content type given to Put is kept in a hidden sidecar file next to the
// object; files placed on disk by other means get one derived from the key's
// extension or the data.
type Backend struct {
	mu      sync.RWMutex
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir    string   // Base directory holding one directory per container
	Containers []string // Containers created on startup
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	b := &Backend{baseDir: config.BaseDir}
	for _, c := range config.Containers {
		if err := b.CreateContainer(context.Background(), c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Get reads an object from disk
func (b *Backend) Get(ctx context.Context, container, key string) (*docuflow.StoredObject, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	filePath, err := b.objectPath(container, key)
	if err != nil {
		return nil, b.error("get", container, key, err)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, b.error("get", container, key, docuflow.ErrObjectNotFound)
	} else if err != nil {
		return nil, b.error("get", container, key, fmt.Errorf("failed to read file: %w", err))
	}

	contentType := detectContentType(key, data)
	if stored, err := os.ReadFile(contentTypePath(filePath)); err == nil && len(stored) > 0 {
		contentType = string(stored)
	}

	return &docuflow.StoredObject{
		Data:        data,
		ContentType: contentType,
		VersionTag:  versionTag(data),
	}, nil
}

// Put writes an object atomically, honouring versionTag as an If-Match precondition
func (b *Backend) Put(ctx context.Context, container, key string, data []byte, contentType, tag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(b.containerPath(container)); errors.Is(err, os.ErrNotExist) {
		return b.error("put", container, key, docuflow.ErrContainerNotFound)
	}
	filePath, err := b.objectPath(container, key)
	if err != nil {
		return b.error("put", container, key, err)
	}

	if tag != "" {
		current, err := os.ReadFile(filePath)
		if err != nil || versionTag(current) != tag {
			return b.error("put", container, key, docuflow.ErrStorageConflict)
		}
	}

	// Create directory structure if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return b.error("put", container, key, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return b.error("put", container, key, fmt.Errorf("failed to create file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return b.error("put", container, key, fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return b.error("put", container, key, fmt.Errorf("failed to write file: %w", err))
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return b.error("put", container, key, fmt.Errorf("failed to rename file: %w", err))
	}

	if contentType == "" {
		if err := os.Remove(contentTypePath(filePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return b.error("put", container, key, fmt.Errorf("failed to remove content type: %w", err))
		}
		return nil
	}
	if err := os.WriteFile(contentTypePath(filePath), []byte(contentType), 0644); err != nil {
		return b.error("put", container, key, fmt.Errorf("failed to write content type: %w", err))
	}
	return nil
}

// Delete removes an object and prunes directories left empty
func (b *Backend) Delete(ctx context.Context, container, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	filePath, err := b.objectPath(container, key)
	if err != nil {
		return b.error("delete", container, key, err)
	}
	if err := os.Remove(filePath); errors.Is(err, os.ErrNotExist) {
		return b.error("delete", container, key, docuflow.ErrObjectNotFound)
	} else if err != nil {
		return b.error("delete", container, key, fmt.Errorf("failed to delete file: %w", err))
	}
	if err := os.Remove(contentTypePath(filePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return b.error("delete", container, key, fmt.Errorf("failed to delete content type: %w", err))
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath), b.containerPath(container))
	return nil
}

// CreateContainer creates the container directory if it does not exist yet
func (b *Backend) CreateContainer(ctx context.Context, container string) error {
	if container == "" || strings.ContainsAny(container, `/\`) || container == "." || container == ".." {
		return b.error("create_container", container, "", fmt.Errorf("invalid container name %q", container))
	}
	if err := os.MkdirAll(b.containerPath(container), 0755); err != nil {
		return b.error("create_container", container, "", fmt.Errorf("failed to create directory: %w", err))
	}
	return nil
}

func (b *Backend) containerPath(container string) string {
	return filepath.Join(b.baseDir, container)
}

// objectPath maps a key onto disk, rejecting keys that escape the container.
func (b *Backend) objectPath(container, key string) (string, error) {
	root := b.containerPath(container)
	filePath := filepath.Join(root, filepath.FromSlash(key))
	if key == "" || !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filePath, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to stop
func (b *Backend) cleanupEmptyDirectories(dir, stop string) {
	if dir == stop || !strings.HasPrefix(dir, stop) {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir), stop)
		}
	}
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

func versionTag(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// contentTypePath names the sidecar holding the content type of filePath.
func contentTypePath(filePath string) string {
	return filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath)+".content-type")
}

// detectContentType prefers the key's extension and falls back to sniffing.
func detectContentType(key string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
