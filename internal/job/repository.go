package job

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter selects a window of jobs, newest first. An empty Status
// matches every job; Limit <= 0 means no limit.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, f ListFilter) ([]Job, error)
	Count(ctx context.Context, status Status) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteAll(ctx context.Context) error

	// Begin moves a job to in_progress regardless of its current status and
	// clears any previous outcome.
	Begin(ctx context.Context, id uuid.UUID, at time.Time) (*Job, error)
	// Complete stores records (replacing earlier ones) and marks the job
	// completed. It reports false, storing nothing, if the job is no longer
	// in_progress.
	Complete(ctx context.Context, id uuid.UUID, records []Record, at time.Time) (bool, error)
	// Fail marks an in_progress job failed. It reports false if the job is no
	// longer in_progress.
	Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) (bool, error)
	// Cancel marks a pending or in_progress job cancelled.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	ClaimPending(ctx context.Context, at time.Time) (*Job, error)
	RecoverStale(ctx context.Context) (int64, error)

	ListRecords(ctx context.Context, id uuid.UUID, limit, offset int) ([]Record, error)
	CountRecords(ctx context.Context, id uuid.UUID) (int64, error)

	CountByStatus(ctx context.Context) (map[Status]int64, error)
	SumRecordCount(ctx context.Context) (int64, error)
	// ListCompletedWithTimes returns completed jobs that have both timestamps.
	ListCompletedWithTimes(ctx context.Context) ([]Job, error)
}
