package docuflow

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrObjectNotFound indicates a key has no object in the store
	ErrObjectNotFound = errors.New("object not found")

	// ErrContainerNotFound indicates the target container does not exist
	ErrContainerNotFound = errors.New("container not found")

	// ErrStorageConflict indicates a conditional write lost against a newer version
	ErrStorageConflict = errors.New("version tag mismatch")

	// ErrConfigNotFound indicates no usable configuration exists for a folder
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrInvalidConfig indicates a configuration file is malformed or incomplete
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDocumentNotFound indicates the document to process is missing
	ErrDocumentNotFound = errors.New("document not found")

	// ErrMissingIdentifier indicates the upload response carried no job identifier
	ErrMissingIdentifier = errors.New("upload response missing job identifier")

	// ErrProcessingRejected indicates the processing service refused the command
	ErrProcessingRejected = errors.New("processing rejected")

	// ErrExternalService indicates the processing service failed or timed out
	ErrExternalService = errors.New("processing service failure")

	// ErrRunNotFound indicates a run ledger entry was not found
	ErrRunNotFound = errors.New("run not found")
)

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend   string
	Container string
	Key       string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for %s/%s on backend %s: %v", e.Op, e.Container, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents an error related to a folder's configuration files
type ConfigError struct {
	Folder string
	File   string
	Err    error
}

func (e *ConfigError) Error() string {
	folder := e.Folder
	if folder == "" {
		folder = "/"
	}
	if e.File == "" {
		return fmt.Sprintf("folder %q: %v", folder, e.Err)
	}
	return fmt.Sprintf("folder %q file %s: %v", folder, e.File, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// FailureKind classifies a failed ProcessBlob invocation.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureNotFound           FailureKind = "not_found"
	FailureInvalidConfig      FailureKind = "invalid_config"
	FailureMissingIdentifier  FailureKind = "missing_identifier"
	FailureProcessingRejected FailureKind = "processing_rejected"
	FailureExternalService    FailureKind = "external_service"
	FailureStorage            FailureKind = "storage"
	FailureInternal           FailureKind = "internal"
)

// FailureKindOf maps an error onto the failure taxonomy.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrConfigNotFound):
		return FailureNotFound
	case errors.Is(err, ErrInvalidConfig):
		return FailureInvalidConfig
	case errors.Is(err, ErrMissingIdentifier):
		return FailureMissingIdentifier
	case errors.Is(err, ErrProcessingRejected):
		return FailureProcessingRejected
	case errors.Is(err, ErrExternalService):
		return FailureExternalService
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return FailureStorage
	}
	return FailureInternal
}
