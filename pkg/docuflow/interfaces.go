package docuflow

import (
	"context"
	"time"
)

// ObjectStore defines the interface for blob storage backends addressed by
// container and key.
type ObjectStore interface {
	// Get reads an object. Missing objects return ErrObjectNotFound.
	Get(ctx context.Context, container, key string) (*StoredObject, error)

	// Put writes an object. A non-empty versionTag is an If-Match
	// precondition: a mismatch returns ErrStorageConflict. Writing into a
	// container that does not exist returns ErrContainerNotFound.
	Put(ctx context.Context, container, key string, data []byte, contentType, versionTag string) error

	// Delete removes an object. Missing objects return ErrObjectNotFound.
	Delete(ctx context.Context, container, key string) error

	// CreateContainer creates a container; existing containers are not an error.
	CreateContainer(ctx context.Context, container string) error
}

// ProcessingClient defines the interface for the external document-processing service
type ProcessingClient interface {
	// SubmitDocument uploads a document and returns the raw response from
	// which a job identifier is extracted.
	SubmitDocument(ctx context.Context, doc DocumentUpload) (*Response, error)

	// SubmitCommand submits the processing command for a job.
	SubmitCommand(ctx context.Context, jobID string, cmd Command) (*Response, error)

	// AwaitCompletion blocks until the job finishes and returns its result:
	// []byte, string, map[string]any or another JSON-encodable value.
	AwaitCompletion(ctx context.Context, jobID string, opts WaitOptions) (any, error)
}

// Run is one ledger entry describing a ProcessBlob invocation.
type Run struct {
	ID          string
	BlobKey     string
	JobID       string
	Outcome     ProcessingOutcome
	FailureKind FailureKind
	Message     string
	OutputKey   string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RunRepository persists the processing history.
type RunRepository interface {
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, blobKey string, limit int) ([]*Run, error)
}
