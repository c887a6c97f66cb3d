package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/tendant/docuflow/pkg/docuflow"
)

// Store resolves folder configuration from an ObjectStore container and caches
// the merged result per folder.
type Store struct {
	storage       docuflow.ObjectStore
	container     string
	defaultFolder string
	logger        *slog.Logger

	mu    sync.RWMutex
	cache map[string]*docuflow.FolderConfig
}

// Option represents a functional option for configuring the store
type Option func(*Store)

// WithDefaultFolder sets the folder consulted after the ancestor walk
func WithDefaultFolder(folder string) Option {
	return func(s *Store) {
		s.defaultFolder = NormalizeFolder(folder)
	}
}

// WithLogger sets the logger used for conflict and recovery messages
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store reading configuration files from container
func New(storage docuflow.ObjectStore, container string, opts ...Option) *Store {
	s := &Store{
		storage:       storage,
		container:     container,
		defaultFolder: docuflow.DefaultConfigFolder,
		logger:        slog.Default(),
		cache:         make(map[string]*docuflow.FolderConfig),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Container returns the container configuration is read from.
func (s *Store) Container() string {
	return s.container
}

// Build returns the configuration defined at exactly folder, without fallback.
// A cached entry is returned as-is; otherwise the folder's files are read and
// the result replaces the cache entry.
func (s *Store) Build(ctx context.Context, folder string) (*docuflow.FolderConfig, error) {
	folder = NormalizeFolder(folder)
	if cfg, ok := s.Cached(folder); ok {
		return cfg, nil
	}

	src, err := s.loadSource(ctx, folder)
	if err != nil {
		return nil, err
	}
	cfg, err := src.materialize(folder)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[folder] = cfg
	s.mu.Unlock()

	configBuilds.WithLabelValues(src.kind()).Inc()
	return cfg, nil
}

// Resolve walks from folder up to the root, then the default folder, and
// returns the first configuration found. Only ErrConfigNotFound advances the
// walk; any other failure is returned immediately.
func (s *Store) Resolve(ctx context.Context, folder string) (*docuflow.FolderConfig, error) {
	folder = NormalizeFolder(folder)
	for _, candidate := range s.candidates(folder) {
		cfg, err := s.Build(ctx, candidate)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, docuflow.ErrConfigNotFound) {
			return nil, err
		}
	}
	return nil, &docuflow.ConfigError{Folder: folder, Err: docuflow.ErrConfigNotFound}
}

// Invalidate drops the cache entry of exactly folder.
func (s *Store) Invalidate(folder string) {
	folder = NormalizeFolder(folder)
	s.mu.Lock()
	delete(s.cache, folder)
	s.mu.Unlock()
}

// Cached returns the cache entry for folder, if any.
func (s *Store) Cached(folder string) (*docuflow.FolderConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cache[NormalizeFolder(folder)]
	return cfg, ok
}

// WriteConsolidated materializes cfg as <folder>/config.json. A version
// conflict is retried once without a precondition; a missing container is
// created and the write retried. On success cfg becomes the cache entry.
func (s *Store) WriteConsolidated(ctx context.Context, cfg *docuflow.FolderConfig) error {
	if cfg == nil || cfg.Params == nil {
		return &docuflow.ConfigError{Folder: "", File: docuflow.ConsolidatedConfigFile, Err: docuflow.ErrInvalidConfig}
	}
	folder := NormalizeFolder(cfg.SourceFolder)
	data, err := json.Marshal(consolidatedDoc{
		Params:   cfg.Params,
		Schema:   cfg.Schema,
		Metadata: cfg.Metadata,
		Source:   folder,
	})
	if err != nil {
		return &docuflow.ConfigError{Folder: folder, File: docuflow.ConsolidatedConfigFile, Err: fmt.Errorf("%w: %v", docuflow.ErrInvalidConfig, err)}
	}

	key := ObjectKey(folder, docuflow.ConsolidatedConfigFile)
	versionTag := cfg.VersionTag(docuflow.ConsolidatedConfigFile)
	if versionTag == "" {
		versionTag = cfg.VersionTag(docuflow.ParamsFile)
	}

	err = s.storage.Put(ctx, s.container, key, data, "application/json", versionTag)
	switch {
	case err == nil:
	case errors.Is(err, docuflow.ErrStorageConflict):
		s.logger.Warn("Concurrency conflict writing consolidated config; retrying without version tag",
			"container", s.container, "key", key, "err", err)
		consolidatedConflicts.Inc()
		err = s.storage.Put(ctx, s.container, key, data, "application/json", "")
	case errors.Is(err, docuflow.ErrContainerNotFound):
		s.logger.Info("Container missing; creating before upload", "container", s.container)
		if cerr := s.storage.CreateContainer(ctx, s.container); cerr != nil {
			return fmt.Errorf("failed to create container %s: %w", s.container, cerr)
		}
		err = s.storage.Put(ctx, s.container, key, data, "application/json", "")
	}
	if err != nil {
		return fmt.Errorf("failed to write consolidated config %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[folder] = cfg
	s.mu.Unlock()
	return nil
}

// DeleteConsolidated removes <folder>/config.json. A missing file is not an error.
func (s *Store) DeleteConsolidated(ctx context.Context, folder string) error {
	key := ObjectKey(NormalizeFolder(folder), docuflow.ConsolidatedConfigFile)
	err := s.storage.Delete(ctx, s.container, key)
	if err != nil && !errors.Is(err, docuflow.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete consolidated config %s: %w", key, err)
	}
	return nil
}

// candidates lists folder, its ancestors up to the root, then the default
// folder. The default folder is appended even if the ascent already visited it.
func (s *Store) candidates(folder string) []string {
	var out []string
	seen := make(map[string]bool)
	current := folder
	for {
		if !seen[current] {
			seen[current] = true
			out = append(out, current)
		}
		parent := ParentFolder(current)
		if parent == current {
			break
		}
		current = parent
	}
	return append(out, s.defaultFolder)
}

func (s *Store) loadSource(ctx context.Context, folder string) (source, error) {
	consolidated, err := s.readFile(ctx, folder, docuflow.ConsolidatedConfigFile)
	if err != nil {
		return nil, err
	}
	if consolidated != nil {
		var doc consolidatedDoc
		if err := json.Unmarshal(consolidated.raw, &doc); err != nil {
			return nil, invalid(folder, docuflow.ConsolidatedConfigFile, err)
		}
		return consolidatedSource{doc: doc, versionTag: consolidated.versionTag}, nil
	}

	params, err := s.readFile(ctx, folder, docuflow.ParamsFile)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, &docuflow.ConfigError{Folder: folder, File: docuflow.ParamsFile, Err: docuflow.ErrConfigNotFound}
	}
	schema, err := s.readFile(ctx, folder, docuflow.SchemaFile)
	if err != nil {
		return nil, err
	}
	metadata, err := s.readFile(ctx, folder, docuflow.MetadataFile)
	if err != nil {
		return nil, err
	}
	return threeFileSource{params: params, schema: schema, metadata: metadata}, nil
}

// readFile returns nil without error when the file does not exist.
func (s *Store) readFile(ctx context.Context, folder, name string) (*jsonFile, error) {
	obj, err := s.storage.Get(ctx, s.container, ObjectKey(folder, name))
	if errors.Is(err, docuflow.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ObjectKey(folder, name), err)
	}
	if !json.Valid(obj.Data) {
		return nil, invalid(folder, name, errors.New("malformed JSON"))
	}
	return &jsonFile{name: name, raw: obj.Data, versionTag: obj.VersionTag}, nil
}

// NormalizeFolder maps a folder path to its cache key: no surrounding
// slashes, cleaned, with the root represented as "".
func NormalizeFolder(folder string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return ""
	}
	folder = path.Clean(folder)
	if folder == "." {
		return ""
	}
	return folder
}

// ParentFolder returns the parent of a normalized folder; the root is its own parent.
func ParentFolder(folder string) string {
	if folder == "" {
		return ""
	}
	return NormalizeFolder(path.Dir(folder))
}

// ObjectKey joins a folder and a file name into an object key.
func ObjectKey(folder, name string) string {
	folder = NormalizeFolder(folder)
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
