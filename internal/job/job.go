package job

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Job is one extraction attempt. StartTime is set once the job leaves
// pending; EndTime is set exactly when the job reaches a terminal status.
type Job struct {
	ID           uuid.UUID
	Status       Status
	APIToken     string
	RecordCount  int64
	ErrorMessage string
	StartTime    *time.Time
	EndTime      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanBeCancelled reports whether the job may still move to cancelled.
func (j *Job) CanBeCancelled() bool {
	return CanTransition(j.Status, StatusCancelled)
}

// DurationSeconds returns end-start when both are set, now-start while the
// job is still running, and 0 before it starts.
func (j *Job) DurationSeconds(now time.Time) float64 {
	switch {
	case j.StartTime != nil && j.EndTime != nil:
		return j.EndTime.Sub(*j.StartTime).Seconds()
	case j.StartTime != nil:
		return now.Sub(*j.StartTime).Seconds()
	default:
		return 0
	}
}

// Record is one item returned by the extractor and stored under a job.
type Record struct {
	ID             int64
	JobID          uuid.UUID
	IDFromService  string
	Email          string
	FirstName      string
	LastName       string
	AdditionalData map[string]any
	CreatedAt      time.Time
}

// Statistics aggregates all jobs in the store.
type Statistics struct {
	TotalJobs              int64   `json:"total_jobs"`
	CompletedJobs          int64   `json:"completed_jobs"`
	FailedJobs             int64   `json:"failed_jobs"`
	PendingJobs            int64   `json:"pending_jobs"`
	InProgressJobs         int64   `json:"in_progress_jobs"`
	CancelledJobs          int64   `json:"cancelled_jobs"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	TotalRecordsExtracted  int64   `json:"total_records_extracted"`
}
