package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/docuflow/pkg/docuflow"
)

// Repository implements docuflow.RunRepository using in-memory storage
type Repository struct {
	mu   sync.RWMutex
	runs map[string]*docuflow.Run
}

// New creates a new in-memory run repository
func New() *Repository {
	return &Repository{
		runs: make(map[string]*docuflow.Run),
	}
}

// RecordRun inserts or replaces a run by ID
func (r *Repository) RecordRun(ctx context.Context, run *docuflow.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to avoid external modifications
	runCopy := *run
	r.runs[run.ID] = &runCopy
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id string) (*docuflow.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, exists := r.runs[id]
	if !exists {
		return nil, docuflow.ErrRunNotFound
	}
	runCopy := *run
	return &runCopy, nil
}

// ListRuns returns runs newest first, optionally filtered by blob key.
// A non-positive limit returns every match.
func (r *Repository) ListRuns(ctx context.Context, blobKey string, limit int) ([]*docuflow.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []*docuflow.Run
	for _, run := range r.runs {
		if blobKey != "" && run.BlobKey != blobKey {
			continue
		}
		runCopy := *run
		runs = append(runs, &runCopy)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
