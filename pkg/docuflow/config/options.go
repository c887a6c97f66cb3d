package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithContainers sets the input and output containers
func WithContainers(input, output string) Option {
	return func(c *ServerConfig) error {
		if input == "" || output == "" {
			return fmt.Errorf("container names cannot be empty")
		}
		c.InputContainer = input
		c.OutputContainer = output
		return nil
	}
}

// WithDefaultConfigFolder sets the folder consulted after the ancestor walk
func WithDefaultConfigFolder(folder string) Option {
	return func(c *ServerConfig) error {
		c.DefaultConfigFolder = folder
		return nil
	}
}

// WithDatabase configures the run ledger backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithMemoryStorage selects the in-memory storage backend
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.StorageType = StorageMemory
		return nil
	}
}

// WithFilesystemStorage selects the filesystem storage backend rooted at baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageType = StorageFS
		c.FSBaseDir = baseDir
		return nil
	}
}

// WithS3Storage selects the S3 storage backend. Containers map to buckets
// named bucketPrefix+container.
func WithS3Storage(region, bucketPrefix string) Option {
	return func(c *ServerConfig) error {
		c.StorageType = StorageS3
		if region != "" {
			c.S3.Region = region
		}
		c.S3.BucketPrefix = bucketPrefix
		return nil
	}
}

// WithS3Credentials sets static S3 credentials
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		c.S3.AccessKeyID = accessKeyID
		c.S3.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Endpoint sets a custom endpoint for S3-compatible services
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		c.S3.Endpoint = endpoint
		c.S3.UsePathStyle = usePathStyle
		return nil
	}
}

// WithAzureStorage selects the Azure Blob storage backend
func WithAzureStorage(accountURL, connectionString string) Option {
	return func(c *ServerConfig) error {
		if accountURL == "" && connectionString == "" {
			return fmt.Errorf("azure storage requires an account url or a connection string")
		}
		c.StorageType = StorageAzure
		c.StorageAccountURL = accountURL
		c.StorageConnectionString = connectionString
		return nil
	}
}

// WithDocuDevs sets the processing service endpoint and API key
func WithDocuDevs(baseURL, apiKey string) Option {
	return func(c *ServerConfig) error {
		if baseURL != "" {
			c.DocuDevsBaseURL = baseURL
		}
		c.DocuDevsAPIKey = apiKey
		return nil
	}
}

// WithEventQueue polls the named storage queue for events
func WithEventQueue(name string) Option {
	return func(c *ServerConfig) error {
		c.EventQueueName = name
		return nil
	}
}

// WithWorkers sets the number of concurrent event workers
func WithWorkers(n int) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("workers must be positive, got: %d", n)
		}
		c.Workers = n
		return nil
	}
}
