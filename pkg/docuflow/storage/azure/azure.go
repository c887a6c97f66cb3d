package azure

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/tendant/docuflow/pkg/docuflow"
)

const backendName = "azure"

// Config options for the Azure Blob Storage backend. A connection string takes
// precedence over an account URL with the default credential chain.
type Config struct {
	AccountURL       string
	ConnectionString string
}

// blobAPI is the subset of *azblob.Client the backend calls.
type blobAPI interface {
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
}

// Backend is an Azure Blob Storage implementation of the docuflow.ObjectStore
// interface. Version tags are blob ETags.
type Backend struct {
	client blobAPI
}

// New creates a new Azure Blob Storage backend
func New(config Config) (*Backend, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	return &Backend{client: client}, nil
}

// NewClient builds the azblob client described by config. A connection string
// takes precedence over the account URL and the default credential chain.
func NewClient(config Config) (*azblob.Client, error) {
	if config.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(config.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create blob client from connection string: %w", err)
		}
		return client, nil
	}
	if config.AccountURL == "" {
		return nil, errors.New("STORAGE_ACCOUNT_URL is not configured")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	client, err := azblob.NewClient(config.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return client, nil
}

// Get downloads a blob
func (b *Backend) Get(ctx context.Context, container, key string) (*docuflow.StoredObject, error) {
	resp, err := b.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, b.error("get", container, key, fmt.Errorf("%w: %v", docuflow.ErrObjectNotFound, err))
		}
		return nil, b.error("get", container, key, fmt.Errorf("download blob: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, b.error("get", container, key, fmt.Errorf("copy blob content: %w", err))
	}

	obj := &docuflow.StoredObject{Data: data}
	if resp.ContentType != nil {
		obj.ContentType = *resp.ContentType
	}
	if resp.ETag != nil {
		obj.VersionTag = string(*resp.ETag)
	}
	return obj, nil
}

// Put uploads a blob, overwriting any existing one. A non-empty versionTag is
// sent as If-Match.
func (b *Backend) Put(ctx context.Context, container, key string, data []byte, contentType, versionTag string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	}
	if versionTag != "" {
		etag := azcore.ETag(versionTag)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
		}
	}

	_, err := b.client.UploadBuffer(ctx, container, key, data, opts)
	switch {
	case err == nil:
		return nil
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		return b.error("put", container, key, fmt.Errorf("%w: %v", docuflow.ErrContainerNotFound, err))
	case bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobNotFound):
		return b.error("put", container, key, fmt.Errorf("%w: %v", docuflow.ErrStorageConflict, err))
	default:
		return b.error("put", container, key, fmt.Errorf("upload blob: %w", err))
	}
}

// Delete removes a blob and its snapshots
func (b *Backend) Delete(ctx context.Context, container, key string) error {
	_, err := b.client.DeleteBlob(ctx, container, key, &azblob.DeleteBlobOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return b.error("delete", container, key, fmt.Errorf("%w: %v", docuflow.ErrObjectNotFound, err))
		}
		return b.error("delete", container, key, fmt.Errorf("delete blob: %w", err))
	}
	return nil
}

// CreateContainer creates a container, tolerating one that already exists
func (b *Backend) CreateContainer(ctx context.Context, container string) error {
	_, err := b.client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return b.error("create_container", container, "", fmt.Errorf("create container: %w", err))
	}
	return nil
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
