package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/storage/fs"
)

func TestFSBackend(t *testing.T) {
	tempDir := t.TempDir()
	backend, err := fs.New(fs.Config{BaseDir: tempDir, Containers: []string{"in"}})
	require.NoError(t, err)

	ctx := context.Background()
	testKey := "folder/params.json"
	testData := []byte(`{"prompt":"hello"}`)

	t.Run("Put", func(t *testing.T) {
		require.NoError(t, backend.Put(ctx, "in", testKey, testData, "application/json", ""))
		_, err := os.Stat(filepath.Join(tempDir, "in", "folder", "params.json"))
		assert.NoError(t, err)
	})

	t.Run("Get", func(t *testing.T) {
		obj, err := backend.Get(ctx, "in", testKey)
		require.NoError(t, err)
		assert.Equal(t, testData, obj.Data)
		assert.Equal(t, "application/json", obj.ContentType)
		assert.NotEmpty(t, obj.VersionTag)
	})

	t.Run("ContentTypeRoundTrip", func(t *testing.T) {
		const xlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		require.NoError(t, backend.Put(ctx, "in", "folder/report.xlsx", []byte("PK\x03\x04"), xlsx, ""))
		obj, err := backend.Get(ctx, "in", "folder/report.xlsx")
		require.NoError(t, err)
		assert.Equal(t, xlsx, obj.ContentType)

		require.NoError(t, backend.Put(ctx, "in", "folder/scan", []byte("%PDF-1.7"), "application/pdf", ""))
		obj, err = backend.Get(ctx, "in", "folder/scan")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", obj.ContentType)

		require.NoError(t, backend.Delete(ctx, "in", "folder/report.xlsx"))
		require.NoError(t, backend.Delete(ctx, "in", "folder/scan"))
		_, err = os.Stat(filepath.Join(tempDir, "in", "folder", ".scan.content-type"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Get_Missing", func(t *testing.T) {
		_, err := backend.Get(ctx, "in", "folder/absent.json")
		assert.ErrorIs(t, err, docuflow.ErrObjectNotFound)
	})

	t.Run("Put_Conditional", func(t *testing.T) {
		obj, err := backend.Get(ctx, "in", testKey)
		require.NoError(t, err)

		err = backend.Put(ctx, "in", testKey, []byte(`{}`), "application/json", "deadbeef")
		assert.ErrorIs(t, err, docuflow.ErrStorageConflict)

		require.NoError(t, backend.Put(ctx, "in", testKey, []byte(`{"v":2}`), "application/json", obj.VersionTag))
		updated, err := backend.Get(ctx, "in", testKey)
		require.NoError(t, err)
		assert.NotEqual(t, obj.VersionTag, updated.VersionTag)
	})

	t.Run("Put_MissingContainer", func(t *testing.T) {
		err := backend.Put(ctx, "out", "a.json", []byte("{}"), "application/json", "")
		assert.ErrorIs(t, err, docuflow.ErrContainerNotFound)

		require.NoError(t, backend.CreateContainer(ctx, "out"))
		assert.NoError(t, backend.Put(ctx, "out", "a.json", []byte("{}"), "application/json", ""))
	})

	t.Run("RejectsEscapingKeys", func(t *testing.T) {
		err := backend.Put(ctx, "in", "../out/a.json", []byte("{}"), "", "")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, docuflow.ErrContainerNotFound)

		assert.Error(t, backend.CreateContainer(ctx, "../escape"))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Put(ctx, "in", "deep/nested/doc.pdf", []byte("%PDF-1.7"), "application/pdf", ""))
		require.NoError(t, backend.Delete(ctx, "in", "deep/nested/doc.pdf"))

		_, err := os.Stat(filepath.Join(tempDir, "in", "deep"))
		assert.True(t, os.IsNotExist(err))

		err = backend.Delete(ctx, "in", "deep/nested/doc.pdf")
		assert.ErrorIs(t, err, docuflow.ErrObjectNotFound)
	})
}

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := fs.New(fs.Config{})
	assert.Error(t, err)
}
