package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/docuflow/pkg/docuflow"
	"github.com/tendant/docuflow/pkg/docuflow/repo/postgres"
)

// newTestRepository connects to TEST_DATABASE_URL and skips the test when it is unset.
func newTestRepository(t *testing.T) *postgres.Repository {
	t.Helper()
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")

	repo := postgres.NewWithPool(pool)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func TestRepository_RecordAndList(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	blobKey := "it/" + uuid.NewString() + "/doc.pdf"
	started := time.Now().UTC().Truncate(time.Millisecond)

	first := &docuflow.Run{
		ID:        uuid.NewString(),
		BlobKey:   blobKey,
		Outcome:   docuflow.OutcomeFailure,
		StartedAt: started,
	}
	require.NoError(t, repo.RecordRun(ctx, first))

	first.FailureKind = docuflow.FailureExternalService
	first.Message = "timed out"
	first.OutputKey = blobKey + ".error.json"
	first.FinishedAt = started.Add(time.Second)
	require.NoError(t, repo.RecordRun(ctx, first))

	second := &docuflow.Run{
		ID:         uuid.NewString(),
		BlobKey:    blobKey,
		JobID:      "job-1",
		Outcome:    docuflow.OutcomeSuccess,
		OutputKey:  blobKey + ".json",
		StartedAt:  started.Add(time.Minute),
		FinishedAt: started.Add(2 * time.Minute),
	}
	require.NoError(t, repo.RecordRun(ctx, second))

	got, err := repo.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, docuflow.FailureExternalService, got.FailureKind)
	assert.Equal(t, "timed out", got.Message)
	assert.True(t, first.FinishedAt.Equal(got.FinishedAt))

	runs, err := repo.ListRuns(ctx, blobKey, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)

	runs, err = repo.ListRuns(ctx, blobKey, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = repo.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, docuflow.ErrRunNotFound)
}
