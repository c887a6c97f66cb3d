package azure

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/docuflow/pkg/docuflow"
)

func responseError(code bloberror.Code, status int) error {
	return &azcore.ResponseError{
		ErrorCode:  string(code),
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Request:    httptest.NewRequest(http.MethodGet, "https://account.blob.core.windows.net/in/x", nil),
		},
	}
}

type fakeBlobAPI struct {
	downloadErr error
	uploadErrs  []error
	deleteErr   error
	createErr   error

	uploads []*azblob.UploadBufferOptions
	deletes []*azblob.DeleteBlobOptions
}

func (f *fakeBlobAPI) DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error) {
	if f.downloadErr != nil {
		return azblob.DownloadStreamResponse{}, f.downloadErr
	}
	var resp azblob.DownloadStreamResponse
	resp.Body = io.NopCloser(bytes.NewReader([]byte("%PDF-1.7")))
	resp.ContentType = to.Ptr("application/pdf")
	etag := azcore.ETag("0x8DC")
	resp.ETag = &etag
	return resp, nil
}

func (f *fakeBlobAPI) UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.uploads = append(f.uploads, o)
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		return azblob.UploadBufferResponse{}, err
	}
	return azblob.UploadBufferResponse{}, nil
}

func (f *fakeBlobAPI) DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error) {
	f.deletes = append(f.deletes, o)
	return azblob.DeleteBlobResponse{}, f.deleteErr
}

func (f *fakeBlobAPI) CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error) {
	return azblob.CreateContainerResponse{}, f.createErr
}

func TestAzureBackend_Get(t *testing.T) {
	ctx := context.Background()

	backend := &Backend{client: &fakeBlobAPI{}}
	obj, err := backend.Get(ctx, "in", "folder/document.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), obj.Data)
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, "0x8DC", obj.VersionTag)

	missing := &Backend{client: &fakeBlobAPI{downloadErr: responseError(bloberror.BlobNotFound, http.StatusNotFound)}}
	_, err = missing.Get(ctx, "in", "absent")
	assert.ErrorIs(t, err, docuflow.ErrObjectNotFound)
}

func TestAzureBackend_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("Conditional", func(t *testing.T) {
		fake := &fakeBlobAPI{}
		backend := &Backend{client: fake}
		require.NoError(t, backend.Put(ctx, "in", "folder/config.json", []byte("{}"), "application/json", "0x8DC"))

		require.Len(t, fake.uploads, 1)
		opts := fake.uploads[0]
		assert.Equal(t, "application/json", *opts.HTTPHeaders.BlobContentType)
		require.NotNil(t, opts.AccessConditions)
		assert.Equal(t, azcore.ETag("0x8DC"), *opts.AccessConditions.ModifiedAccessConditions.IfMatch)
	})

	t.Run("Unconditional", func(t *testing.T) {
		fake := &fakeBlobAPI{}
		backend := &Backend{client: fake}
		require.NoError(t, backend.Put(ctx, "out", "a.bin", []byte{1}, "", ""))
		assert.Nil(t, fake.uploads[0].AccessConditions)
		assert.Equal(t, "application/octet-stream", *fake.uploads[0].HTTPHeaders.BlobContentType)
	})

	t.Run("ErrorMapping", func(t *testing.T) {
		backend := &Backend{client: &fakeBlobAPI{uploadErrs: []error{
			responseError(bloberror.ConditionNotMet, http.StatusPreconditionFailed),
			responseError(bloberror.ContainerNotFound, http.StatusNotFound),
		}}}
		assert.ErrorIs(t, backend.Put(ctx, "in", "k", nil, "", "stale"), docuflow.ErrStorageConflict)
		assert.ErrorIs(t, backend.Put(ctx, "in", "k", nil, "", ""), docuflow.ErrContainerNotFound)
	})
}

func TestAzureBackend_Delete(t *testing.T) {
	ctx := context.Background()

	fake := &fakeBlobAPI{}
	require.NoError(t, (&Backend{client: fake}).Delete(ctx, "in", "folder/config.json"))
	assert.Equal(t, blob.DeleteSnapshotsOptionTypeInclude, *fake.deletes[0].DeleteSnapshots)

	missing := &Backend{client: &fakeBlobAPI{deleteErr: responseError(bloberror.BlobNotFound, http.StatusNotFound)}}
	assert.ErrorIs(t, missing.Delete(ctx, "in", "folder/config.json"), docuflow.ErrObjectNotFound)
}

func TestAzureBackend_CreateContainer(t *testing.T) {
	ctx := context.Background()

	exists := &Backend{client: &fakeBlobAPI{createErr: responseError(bloberror.ContainerAlreadyExists, http.StatusConflict)}}
	assert.NoError(t, exists.CreateContainer(ctx, "out"))

	denied := &Backend{client: &fakeBlobAPI{createErr: responseError(bloberror.AuthorizationFailure, http.StatusForbidden)}}
	assert.Error(t, denied.CreateContainer(ctx, "out"))
}

func TestNewClient_RequiresLocation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorContains(t, err, "STORAGE_ACCOUNT_URL")
}
