package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig mirrors the environment variables understood by WithEnv. Unset
// variables leave the corresponding setting untouched.
type envConfig struct {
	Port        string `env:"PORT"`
	Environment string `env:"ENVIRONMENT"`

	InputContainer      string `env:"IN_CONTAINER_NAME"`
	OutputContainer     string `env:"OUT_CONTAINER_NAME"`
	DefaultConfigFolder string `env:"DEFAULT_CONFIG_FOLDER"`

	StorageType             string `env:"STORAGE_TYPE"`
	StorageAccountURL       string `env:"STORAGE_ACCOUNT_URL"`
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	FSBaseDir               string `env:"FS_BASE_DIR"`

	S3Region          string `env:"S3_REGION"`
	S3BucketPrefix    string `env:"S3_BUCKET_PREFIX"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE"`
	S3EnableSSE       bool   `env:"S3_ENABLE_SSE"`
	S3SSEAlgorithm    string `env:"S3_SSE_ALGORITHM"`
	S3SSEKMSKeyID     string `env:"S3_SSE_KMS_KEY_ID"`

	DocuDevsBaseURL string `env:"DOCUDEVS_BASE_URL"`
	DocuDevsAPIKey  string `env:"DOCUDEVS_API_KEY"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA"`

	EventQueueName  string `env:"EVENT_QUEUE_NAME"`
	QueueServiceURL string `env:"QUEUE_SERVICE_URL"`
	Workers         int    `env:"WORKERS"`
}

// WithEnv applies environment variable overrides.
//
// Containers:
//
//	IN_CONTAINER_NAME, OUT_CONTAINER_NAME - input and output containers (default: "in", "out")
//	DEFAULT_CONFIG_FOLDER - folder consulted after the ancestor walk (default: "__default__")
//
// Storage:
//
//	STORAGE_TYPE - memory, fs, s3 or azure. When unset, azure is selected if
//	               STORAGE_ACCOUNT_URL or STORAGE_CONNECTION_STRING is present.
//	FS_BASE_DIR, S3_* - backend specific settings
//
// Processing service:
//
//	DOCUDEVS_BASE_URL, DOCUDEVS_API_KEY
//
// Run ledger:
//
//	DATABASE_URL - "memory" or a postgres:// URL
//
// Event intake:
//
//	EVENT_QUEUE_NAME - storage queue to poll in addition to the webhook
//	WORKERS - concurrent event workers
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}

		setString(&c.Port, env.Port)
		setString(&c.Environment, env.Environment)
		setString(&c.InputContainer, env.InputContainer)
		setString(&c.OutputContainer, env.OutputContainer)
		setString(&c.DefaultConfigFolder, env.DefaultConfigFolder)

		if err := applyStorageEnv(env, c); err != nil {
			return err
		}

		setString(&c.DocuDevsBaseURL, env.DocuDevsBaseURL)
		setString(&c.DocuDevsAPIKey, env.DocuDevsAPIKey)

		if err := applyDatabaseEnv(env, c); err != nil {
			return err
		}

		setString(&c.EventQueueName, env.EventQueueName)
		setString(&c.QueueServiceURL, env.QueueServiceURL)
		if env.Workers > 0 {
			c.Workers = env.Workers
		}
		return nil
	}
}

func applyStorageEnv(env envConfig, c *ServerConfig) error {
	setString(&c.StorageAccountURL, env.StorageAccountURL)
	setString(&c.StorageConnectionString, env.StorageConnectionString)
	setString(&c.FSBaseDir, env.FSBaseDir)

	setString(&c.S3.Region, env.S3Region)
	setString(&c.S3.BucketPrefix, env.S3BucketPrefix)
	setString(&c.S3.AccessKeyID, env.S3AccessKeyID)
	setString(&c.S3.SecretAccessKey, env.S3SecretAccessKey)
	setString(&c.S3.Endpoint, env.S3Endpoint)
	setString(&c.S3.SSEAlgorithm, env.S3SSEAlgorithm)
	setString(&c.S3.SSEKMSKeyID, env.S3SSEKMSKeyID)
	c.S3.UsePathStyle = c.S3.UsePathStyle || env.S3UsePathStyle
	c.S3.EnableSSE = c.S3.EnableSSE || env.S3EnableSSE

	switch storageType := strings.ToLower(env.StorageType); storageType {
	case "":
		if env.StorageAccountURL != "" || env.StorageConnectionString != "" {
			c.StorageType = StorageAzure
		}
	case StorageMemory, StorageFS, StorageS3, StorageAzure:
		c.StorageType = storageType
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE: %s (use 'memory', 'fs', 's3' or 'azure')", env.StorageType)
	}
	return nil
}

func applyDatabaseEnv(env envConfig, c *ServerConfig) error {
	dbURL := env.DatabaseURL
	if dbURL == "" {
		return nil
	}
	if dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		setString(&c.DBSchema, env.DBSchema)
		return nil
	}
	return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
