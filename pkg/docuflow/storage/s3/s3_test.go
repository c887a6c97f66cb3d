package s3

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/docuflow/pkg/docuflow"
)

// fakeAPI answers the calls the backend makes; unimplemented methods panic.
type fakeAPI struct {
	api
	getErr    error
	putErr    error
	headErr   error
	bucketErr error
	createErr error

	puts    []*s3.PutObjectInput
	deletes int
	created []string
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader([]byte(`{"prompt":"hello"}`))),
		ContentType: aws.String("application/json"),
		ETag:        aws.String(`"abc123"`),
	}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"def456"`)}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes++
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAPI) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, aws.ToString(in.Bucket))
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func TestS3Backend_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		backend := newWithClient(&fakeAPI{}, Config{BucketPrefix: "docuflow-"})
		obj, err := backend.Get(ctx, "in", "folder/params.json")
		require.NoError(t, err)
		assert.Equal(t, `{"prompt":"hello"}`, string(obj.Data))
		assert.Equal(t, "application/json", obj.ContentType)
		assert.Equal(t, `"abc123"`, obj.VersionTag)
	})

	t.Run("NoSuchKey", func(t *testing.T) {
		backend := newWithClient(&fakeAPI{getErr: &types.NoSuchKey{}}, Config{})
		_, err := backend.Get(ctx, "in", "missing")
		assert.ErrorIs(t, err, docuflow.ErrObjectNotFound)
	})

	t.Run("NoSuchBucket", func(t *testing.T) {
		backend := newWithClient(&fakeAPI{getErr: apiError("NoSuchBucket")}, Config{})
		_, err := backend.Get(ctx, "in", "missing")
		assert.ErrorIs(t, err, docuflow.ErrObjectNotFound)
	})
}

func TestS3Backend_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("Unconditional", func(t *testing.T) {
		fake := &fakeAPI{}
		backend := newWithClient(fake, Config{BucketPrefix: "docuflow-", EnableSSE: true, SSEAlgorithm: "AES256"})
		require.NoError(t, backend.Put(ctx, "out", "a.json", []byte("{}"), "application/json", ""))

		require.Len(t, fake.puts, 1)
		assert.Equal(t, "docuflow-out", aws.ToString(fake.puts[0].Bucket))
		assert.Nil(t, fake.puts[0].IfMatch)
		assert.Equal(t, types.ServerSideEncryptionAes256, fake.puts[0].ServerSideEncryption)
	})

	t.Run("Conditional", func(t *testing.T) {
		fake := &fakeAPI{}
		backend := newWithClient(fake, Config{})
		require.NoError(t, backend.Put(ctx, "in", "config.json", []byte("{}"), "application/json", `"abc123"`))
		assert.Equal(t, `"abc123"`, aws.ToString(fake.puts[0].IfMatch))
	})

	t.Run("PreconditionFailed", func(t *testing.T) {
		backend := newWithClient(&fakeAPI{putErr: apiError("PreconditionFailed")}, Config{})
		err := backend.Put(ctx, "in", "config.json", []byte("{}"), "", "stale")
		assert.ErrorIs(t, err, docuflow.ErrStorageConflict)
	})

	t.Run("ConditionalOnMissingKey", func(t *testing.T) {
		backend := newWithClient(&fakeAPI{putErr: apiError("NoSuchKey")}, Config{})
		err := backend.Put(ctx, "in", "config.json", []byte("{}"), "", "stale")
		assert.ErrorIs(t, err, docuflow.ErrStorageConflict)
	})

	t.Run("NoSuchBucket", func(t *testing.T) {
		backend := newWithClient(&fakeAPI{putErr: apiError("NoSuchBucket")}, Config{})
		err := backend.Put(ctx, "out", "a.json", []byte("{}"), "", "")
		assert.ErrorIs(t, err, docuflow.ErrContainerNotFound)
	})
}

func TestS3Backend_Delete(t *testing.T) {
	ctx := context.Background()

	fake := &fakeAPI{}
	backend := newWithClient(fake, Config{})
	require.NoError(t, backend.Delete(ctx, "in", "config.json"))
	assert.Equal(t, 1, fake.deletes)

	missing := newWithClient(&fakeAPI{headErr: apiError("NotFound")}, Config{})
	assert.ErrorIs(t, missing.Delete(ctx, "in", "config.json"), docuflow.ErrObjectNotFound)
}

func TestS3Backend_CreateContainer(t *testing.T) {
	ctx := context.Background()

	t.Run("Exists", func(t *testing.T) {
		fake := &fakeAPI{}
		require.NoError(t, newWithClient(fake, Config{}).CreateContainer(ctx, "out"))
		assert.Empty(t, fake.created)
	})

	t.Run("Creates", func(t *testing.T) {
		fake := &fakeAPI{bucketErr: &types.NotFound{}}
		require.NoError(t, newWithClient(fake, Config{BucketPrefix: "p-"}).CreateContainer(ctx, "out"))
		assert.Equal(t, []string{"p-out"}, fake.created)
	})

	t.Run("AlreadyOwned", func(t *testing.T) {
		fake := &fakeAPI{bucketErr: &types.NotFound{}, createErr: &types.BucketAlreadyOwnedByYou{}}
		assert.NoError(t, newWithClient(fake, Config{}).CreateContainer(ctx, "out"))
	})

	t.Run("CheckFails", func(t *testing.T) {
		fake := &fakeAPI{bucketErr: apiError("AccessDenied")}
		assert.Error(t, newWithClient(fake, Config{}).CreateContainer(ctx, "out"))
	})
}
