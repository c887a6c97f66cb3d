package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/docuflow/pkg/docuflow"
)

const backendName = "s3"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	BucketPrefix    string // Prefix prepended to container names to form bucket names
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm
}

// api is the subset of *s3.Client the backend calls.
type api interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Backend is an S3-compatible implementation of the docuflow.ObjectStore interface.
// Each container maps to a bucket; version tags are S3 ETags.
type Backend struct {
	client   api
	uploader *manager.Uploader
	config   Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	// Set up AWS config
	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		// Use provided credentials
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)

	// Custom endpoint for S3-compatible services (MinIO, etc.)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	return newWithClient(s3.NewFromConfig(awsCfg, s3Options...), config), nil
}

func newWithClient(client api, config Config) *Backend {
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		config:   config,
	}
}

func (b *Backend) bucket(container string) string {
	return b.config.BucketPrefix + container
}

// Get downloads an object
func (b *Backend) Get(ctx context.Context, container, key string) (*docuflow.StoredObject, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket(container)),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.error("get", container, key, absent(err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, b.error("get", container, key, fmt.Errorf("failed to read object body: %w", err))
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return &docuflow.StoredObject{
		Data:        data,
		ContentType: contentType,
		VersionTag:  aws.ToString(result.ETag),
	}, nil
}

// Put uploads an object. A non-empty versionTag is sent as If-Match.
func (b *Backend) Put(ctx context.Context, container, key string, data []byte, contentType, versionTag string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket(container)),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	b.applySSE(input)

	var err error
	if versionTag != "" {
		// Preconditions are only honoured by a single-part PutObject
		input.IfMatch = aws.String(versionTag)
		_, err = b.client.PutObject(ctx, input)
	} else {
		_, err = b.uploader.Upload(ctx, input)
	}
	if err != nil {
		missing := docuflow.ErrObjectNotFound
		if versionTag != "" {
			missing = docuflow.ErrStorageConflict
		}
		return b.error("put", container, key, translate(err, missing))
	}
	return nil
}

// Delete removes an object, reporting ErrObjectNotFound when it does not exist
func (b *Backend) Delete(ctx context.Context, container, key string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket(container)),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.error("delete", container, key, absent(err))
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket(container)),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.error("delete", container, key, fmt.Errorf("failed to delete from S3: %w", err))
	}
	return nil
}

// CreateContainer creates the container's bucket if it doesn't exist
func (b *Backend) CreateContainer(ctx context.Context, container string) error {
	bucket := b.bucket(container)
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	// Check if error indicates bucket doesn't exist (handle multiple error types for MinIO compatibility)
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return b.error("create_container", container, "", fmt.Errorf("failed to check bucket: %w", err))
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	// Add location constraint for regions other than us-east-1
	if b.config.Region != "" && b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, createInput); err != nil {
		var exists *types.BucketAlreadyExists
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &exists) || errors.As(err, &owned) {
			return nil
		}
		return b.error("create_container", container, "", fmt.Errorf("failed to create bucket: %w", err))
	}
	return nil
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
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

// absent translates a read error, treating a missing bucket as a missing object.
func absent(err error) error {
	translated := translate(err, docuflow.ErrObjectNotFound)
	if errors.Is(translated, docuflow.ErrContainerNotFound) {
		return fmt.Errorf("%w: %v", docuflow.ErrObjectNotFound, err)
	}
	return translated
}

// translate maps S3 API errors onto docuflow sentinels. missing is used for
// a missing key, which means a lost precondition on conditional writes.
func translate(err error, missing error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "NoSuchBucket":
		return fmt.Errorf("%w: %v", docuflow.ErrContainerNotFound, err)
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %v", missing, err)
	case "PreconditionFailed", "ConditionalRequestConflict":
		return fmt.Errorf("%w: %v", docuflow.ErrStorageConflict, err)
	}
	return err
}
