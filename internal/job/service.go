package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/extraction-api/internal/apperror"
	"github.com/ahmethakanbesel/extraction-api/internal/extractor"
	"github.com/ahmethakanbesel/extraction-api/internal/metrics"
	"github.com/ahmethakanbesel/extraction-api/internal/pagination"
)

const unexpectedErrorPrefix = "Unexpected error: "

type Service struct {
	repo      Repository
	extractor extractor.Extractor
	metrics   *metrics.Metrics
	now       func() time.Time
	notify    func() // optional: wake worker pool
}

func NewService(repo Repository, ex extractor.Extractor, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		extractor: ex,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// SetNotify sets a callback invoked when a new pending job is created.
func (s *Service) SetNotify(fn func()) { s.notify = fn }

// Now is the service clock, used to render running durations.
func (s *Service) Now() time.Time { return s.now() }

// Start creates a pending job. Processing happens elsewhere: on the worker
// pool when one is attached, or through ProcessExtraction.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	j := &Job{
		ID:        uuid.New(),
		Status:    StatusPending,
		APIToken:  req.APIToken,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.metrics.JobStarted()
	slog.Info("extraction job created", "job", j.ID)

	if s.notify != nil {
		s.notify()
	}
	return j, nil
}

// CreateJob stores a job as given, without running it.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	status := StatusPending
	if req.Status != "" {
		status = Status(req.Status)
	}

	now := s.now()
	j := &Job{
		ID:           uuid.New(),
		Status:       status,
		APIToken:     req.APIToken,
		RecordCount:  req.RecordCount,
		ErrorMessage: req.ErrorMessage,
		StartTime:    utcPtr(req.StartTime),
		EndTime:      utcPtr(req.EndTime),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

func (s *Service) RecoverStaleJobs(ctx context.Context) error {
	n, err := s.repo.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("re-queued interrupted jobs", "count", n)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, req GetJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

// ListAll returns every job, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx, ListFilter{})
}

func (s *Service) List(ctx context.Context, req ListJobsRequest) (*ListJobsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	status := Status(req.Status)
	total, err := s.repo.Count(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	page := pagination.New(total, req.Request)
	jobs, err := s.repo.List(ctx, ListFilter{Status: status, Limit: page.Limit(), Offset: page.Offset()})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	now := s.now()
	views := make([]View, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobs[i].View(now))
	}

	return &ListJobsResponse{
		Page:        page.Number,
		PageSize:    page.Size,
		TotalPages:  page.TotalPages,
		TotalJobs:   total,
		HasNext:     page.HasNext,
		HasPrevious: page.HasPrevious,
		Results:     views,
	}, nil
}

// Results returns one page of a completed job's records.
func (s *Service) Results(ctx context.Context, req ResultsRequest) (*ResultsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	j, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusCompleted {
		return nil, apperror.Newf(apperror.Conflict, "Job is not completed. Current status: %s", j.Status)
	}

	total, err := s.repo.CountRecords(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	page := pagination.New(total, req.Request)
	records, err := s.repo.ListRecords(ctx, j.ID, page.Limit(), page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	views := make([]RecordView, 0, len(records))
	for i := range records {
		views = append(views, records[i].View())
	}

	return &ResultsResponse{
		JobID:        j.ID,
		Status:       j.Status,
		TotalRecords: j.RecordCount,
		Page:         page.Number,
		PageSize:     page.Size,
		TotalPages:   page.TotalPages,
		HasNext:      page.HasNext,
		HasPrevious:  page.HasPrevious,
		Results:      views,
	}, nil
}

// ProcessExtraction runs the extraction for id synchronously and returns the
// job in its resulting state. The job is moved to in_progress whatever its
// current status, so calling it on a finished job runs it again.
func (s *Service) ProcessExtraction(ctx context.Context, id uuid.UUID) (*Job, error) {
	if _, err := s.Get(ctx, GetJobRequest{ID: id}); err != nil {
		return nil, err
	}

	j, err := s.repo.Begin(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("begin job: %w", err)
	}

	if err := s.run(ctx, j); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Process implements Processor. It is called by the worker pool with a job
// that has already been claimed (in_progress).
func (s *Service) Process(ctx context.Context, j *Job) error {
	return s.run(ctx, j)
}

func (s *Service) run(ctx context.Context, j *Job) error {
	done := s.metrics.RunStarted()

	items, err := s.extractor.Extract(ctx, j.APIToken)
	if err != nil {
		if ctx.Err() != nil {
			// Left in_progress; RecoverStaleJobs re-queues it on the next start.
			done("interrupted", 0)
			return fmt.Errorf("extract job %s: %w", j.ID, ctx.Err())
		}
		msg := unexpectedErrorPrefix + err.Error()
		if errors.Is(err, extractor.ErrInvalidToken) {
			msg = err.Error()
		}
		return s.fail(ctx, j, msg, done)
	}

	records := make([]Record, 0, len(items))
	for _, it := range items {
		records = append(records, Record{
			JobID:          j.ID,
			IDFromService:  it.IDFromService,
			Email:          it.Email,
			FirstName:      it.FirstName,
			LastName:       it.LastName,
			AdditionalData: it.AdditionalData,
		})
	}

	ok, err := s.repo.Complete(ctx, j.ID, records, s.now())
	if err != nil {
		return s.fail(ctx, j, unexpectedErrorPrefix+err.Error(), done)
	}
	if !ok {
		done("discarded", 0)
		slog.Info("job left in_progress during extraction, records discarded", "job", j.ID)
		return nil
	}

	done(string(StatusCompleted), len(records))
	slog.Info("extraction completed", "job", j.ID, "records", len(records), "source", s.extractor.Name())
	return nil
}

func (s *Service) fail(ctx context.Context, j *Job, msg string, done func(string, int)) error {
	ok, err := s.repo.Fail(ctx, j.ID, msg, s.now())
	if err != nil {
		done("error", 0)
		return fmt.Errorf("mark job %s failed: %w", j.ID, err)
	}
	if !ok {
		done("discarded", 0)
		slog.Info("job left in_progress during extraction, failure discarded", "job", j.ID, "error", msg)
		return nil
	}

	done(string(StatusFailed), 0)
	slog.Warn("extraction failed", "job", j.ID, "error", msg)
	return nil
}

// Cancel moves a pending or in_progress job to cancelled. It reports false
// when the job does not exist or can no longer be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.NotFound) {
			return false, nil
		}
		return false, err
	}
	if !j.CanBeCancelled() {
		return false, nil
	}

	ok, err := s.repo.Cancel(ctx, id, s.now())
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	if ok {
		s.metrics.JobCancelled()
		slog.Info("extraction job cancelled", "job", id)
	}
	return ok, nil
}

// Remove deletes a job and all of its records. It reports false when the job
// does not exist.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	if ok {
		slog.Info("extraction job removed", "job", id)
	}
	return ok, nil
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	totalRecords, err := s.repo.SumRecordCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum record count: %w", err)
	}
	completed, err := s.repo.ListCompletedWithTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completed jobs: %w", err)
	}

	stats := Aggregate(counts, totalRecords, completed, s.now())
	return &stats, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
