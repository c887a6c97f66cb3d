// Package config assembles a docuflow server from defaults, functional
// options and environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/configstore"
	"github.com/tendant/docuflow/pkg/docuflow/docudevs"
	"github.com/tendant/docuflow/pkg/docuflow/events"
	"github.com/tendant/docuflow/pkg/docuflow/processor"
	memoryrepo "github.com/tendant/docuflow/pkg/docuflow/repo/memory"
	repopg "github.com/tendant/docuflow/pkg/docuflow/repo/postgres"
	azurestorage "github.com/tendant/docuflow/pkg/docuflow/storage/azure"
	fsstorage "github.com/tendant/docuflow/pkg/docuflow/storage/fs"
	memorystorage "github.com/tendant/docuflow/pkg/docuflow/storage/memory"
	s3storage "github.com/tendant/docuflow/pkg/docuflow/storage/s3"
)

// Storage backend types
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
	StorageAzure  = "azure"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                "8080",
		Environment:         "development",
		InputContainer:      "in",
		OutputContainer:     "out",
		DefaultConfigFolder: docuflow.DefaultConfigFolder,
		StorageType:         StorageMemory,
		FSBaseDir:           "./data/storage",
		S3: S3Config{
			Region:       "us-east-1",
			SSEAlgorithm: "AES256",
		},
		DocuDevsBaseURL: docudevs.DefaultBaseURL,
		DatabaseType:    "memory",
		Workers:         4,
	}
}

// ServerConfig represents the configuration of a docuflow server
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Containers
	InputContainer      string
	OutputContainer     string
	DefaultConfigFolder string

	// Storage configuration
	StorageType             string // memory, fs, s3, azure
	StorageAccountURL       string
	StorageConnectionString string
	FSBaseDir               string
	S3                      S3Config

	// Processing service
	DocuDevsBaseURL string
	DocuDevsAPIKey  string

	// Run ledger
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string

	// Event intake
	EventQueueName  string
	QueueServiceURL string
	Workers         int
}

// S3Config holds the S3 backend settings
type S3Config struct {
	Region          string
	BucketPrefix    string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	EnableSSE       bool
	SSEAlgorithm    string
	SSEKMSKeyID     string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.InputContainer == "" || c.OutputContainer == "" {
		return errors.New("input and output containers are required")
	}

	switch c.StorageType {
	case StorageMemory:
	case StorageFS:
		if c.FSBaseDir == "" {
			return errors.New("fs_base_dir is required when using fs storage")
		}
	case StorageS3:
		if c.S3.Region == "" {
			return errors.New("s3 region is required when using s3 storage")
		}
	case StorageAzure:
		if c.StorageAccountURL == "" && c.StorageConnectionString == "" {
			return errors.New("STORAGE_ACCOUNT_URL or STORAGE_CONNECTION_STRING is required when using azure storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	return nil
}

// IsDevelopment reports whether the server runs in the development environment
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// Components are the wired dependencies of a server.
type Components struct {
	Storage    docuflow.ObjectStore
	Configs    *configstore.Store
	Runs       docuflow.RunRepository
	Processor  *processor.Processor
	Dispatcher *events.Dispatcher

	closers []func()
}

// Close releases the resources held by the components.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build wires storage, configuration store, run ledger, processing client,
// processor and dispatcher.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := c.BuildStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}

	runs, closeRuns, err := c.BuildRunRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build run repository: %w", err)
	}
	components := &Components{Storage: store, Runs: runs}
	if closeRuns != nil {
		components.closers = append(components.closers, closeRuns)
	}

	client, err := docudevs.New(c.DocuDevsBaseURL, c.DocuDevsAPIKey, docudevs.WithLogger(logger))
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to build processing client: %w", err)
	}

	components.Configs = configstore.New(store, c.InputContainer,
		configstore.WithDefaultFolder(c.DefaultConfigFolder),
		configstore.WithLogger(logger),
	)
	components.Processor = processor.New(client, store, components.Configs, c.InputContainer, c.OutputContainer,
		processor.WithLogger(logger),
		processor.WithRunRepository(runs),
	)
	components.Dispatcher = events.NewDispatcher(components.Configs, components.Processor,
		events.WithDispatcherLogger(logger),
	)
	return components, nil
}

// BuildStorage creates the ObjectStore selected by StorageType
func (c *ServerConfig) BuildStorage() (docuflow.ObjectStore, error) {
	switch c.StorageType {
	case StorageMemory:
		return memorystorage.New(c.InputContainer, c.OutputContainer), nil

	case StorageFS:
		return fsstorage.New(fsstorage.Config{
			BaseDir:    c.FSBaseDir,
			Containers: []string{c.InputContainer, c.OutputContainer},
		})

	case StorageS3:
		return s3storage.New(s3storage.Config{
			Region:          c.S3.Region,
			BucketPrefix:    c.S3.BucketPrefix,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			Endpoint:        c.S3.Endpoint,
			UsePathStyle:    c.S3.UsePathStyle,
			EnableSSE:       c.S3.EnableSSE,
			SSEAlgorithm:    c.S3.SSEAlgorithm,
			SSEKMSKeyID:     c.S3.SSEKMSKeyID,
		})

	case StorageAzure:
		return azurestorage.New(azurestorage.Config{
			AccountURL:       c.StorageAccountURL,
			ConnectionString: c.StorageConnectionString,
		})

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}
}

// BuildRunRepository creates the run ledger. For postgres the returned
// function closes the pool.
func (c *ServerConfig) BuildRunRepository(ctx context.Context) (docuflow.RunRepository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memoryrepo.New(), nil, nil
	case "postgres":
		pool, err := c.openPool(ctx)
		if err != nil {
			return nil, nil, err
		}
		repo := repopg.NewWithPool(pool)
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := repo.Migrate(migrateCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func (c *ServerConfig) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// QueueConfig returns the storage queue settings, or false when no queue is configured.
func (c *ServerConfig) QueueConfig() (events.QueueConfig, bool) {
	if c.EventQueueName == "" {
		return events.QueueConfig{}, false
	}
	serviceURL := c.QueueServiceURL
	if serviceURL == "" && c.StorageAccountURL != "" {
		serviceURL = strings.Replace(c.StorageAccountURL, ".blob.", ".queue.", 1)
	}
	return events.QueueConfig{
		ServiceURL:       serviceURL,
		ConnectionString: c.StorageConnectionString,
		QueueName:        c.EventQueueName,
		BatchSize:        int32(c.Workers),
	}, true
}
