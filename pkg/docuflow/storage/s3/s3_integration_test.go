package s3_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/storage/s3"
)

// TestS3BackendWithMinIO requires a running MinIO server:
// docker run -p 9000:9000 -p 9001:9001 minio/minio server /data --console-address ":9001"
func TestS3BackendWithMinIO(t *testing.T) {
	if os.Getenv("MINIO_INTEGRATION_TEST") == "" {
		t.Skip("Skipping MinIO integration test. Set MINIO_INTEGRATION_TEST=1 to run.")
	}

	backend, err := s3.New(s3.Config{
		Region:          "us-east-1",
		BucketPrefix:    "docuflow-it-" + time.Now().Format("20060102150405") + "-",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	key := "invoices/params.json"

	err = backend.Put(ctx, "in", key, []byte(`{"prompt":"hello"}`), "application/json", "")
	require.Error(t, err)
	require.NoError(t, backend.CreateContainer(ctx, "in"))
	require.NoError(t, backend.CreateContainer(ctx, "in"))

	require.NoError(t, backend.Put(ctx, "in", key, []byte(`{"prompt":"hello"}`), "application/json", ""))

	obj, err := backend.Get(ctx, "in", key)
	require.NoError(t, err)
	assert.Equal(t, `{"prompt":"hello"}`, string(obj.Data))
	assert.Equal(t, "application/json", obj.ContentType)
	require.NotEmpty(t, obj.VersionTag)

	err = backend.Put(ctx, "in", key, []byte(`{}`), "application/json", `"stale"`)
	assert.ErrorIs(t, err, docuflow.ErrStorageConflict)
	require.NoError(t, backend.Put(ctx, "in", key, []byte(`{"prompt":"v2"}`), "application/json", obj.VersionTag))

	require.NoError(t, backend.Delete(ctx, "in", key))
	_, err = backend.Get(ctx, "in", key)
	assert.ErrorIs(t, err, docuflow.ErrObjectNotFound)
	assert.ErrorIs(t, backend.Delete(ctx, "in", key), docuflow.ErrObjectNotFound)
}
