// Package seed fills the store with a fixed set of demo jobs covering every
// status, with records for the completed ones.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/extraction-api/internal/job"
)

var departments = []string{"Engineering", "Sales", "Marketing", "HR"}

type jobSpec struct {
	status       job.Status
	token        string
	records      int
	errorMessage string
	startAgo     time.Duration // zero: never started
	endAgo       time.Duration // zero: not finished
}

var jobSpecs = []jobSpec{
	{status: job.StatusCompleted, token: "test_token_completed_001", records: 15, startAgo: 2 * time.Hour, endAgo: 90 * time.Minute},
	{status: job.StatusCompleted, token: "test_token_completed_002", records: 8, startAgo: 5 * time.Hour, endAgo: 285 * time.Minute},
	{status: job.StatusPending, token: "test_token_pending_001"},
	{status: job.StatusInProgress, token: "test_token_in_progress_001", startAgo: 30 * time.Minute},
	{status: job.StatusFailed, token: "invalid_token_fail", errorMessage: "Invalid API token provided", startAgo: time.Hour, endAgo: 55 * time.Minute},
	{status: job.StatusCancelled, token: "test_token_cancelled_001", startAgo: 3 * time.Hour, endAgo: 165 * time.Minute},
}

type Seeder struct {
	repo job.Repository
	rnd  *rand.Rand
	now  func() time.Time
}

func New(repo job.Repository, opts ...Option) *Seeder {
	s := &Seeder{
		repo: repo,
		rnd:  rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), //nolint:gosec // demo data
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Seeder)

func WithRand(r *rand.Rand) Option {
	return func(s *Seeder) { s.rnd = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Seeder) { s.now = now }
}

// Run creates the demo jobs, first deleting every job and record when
// clearExisting is set. It returns the created jobs in creation order.
func (s *Seeder) Run(ctx context.Context, clearExisting bool) ([]job.Job, error) {
	if clearExisting {
		if err := s.repo.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("clear jobs: %w", err)
		}
		slog.Info("seed: cleared existing data")
	}

	now := s.now()
	created := make([]job.Job, 0, len(jobSpecs))
	for i, spec := range jobSpecs {
		// Distinct creation times keep list order stable.
		createdAt := now.Add(time.Duration(i-len(jobSpecs)) * time.Millisecond)
		j, err := s.create(ctx, spec, now, createdAt)
		if err != nil {
			return nil, err
		}
		slog.Info("seed: created job", "job", j.ID, "status", j.Status, "records", j.RecordCount)
		created = append(created, *j)
	}

	slog.Info("seed: done", "jobs", len(created))
	return created, nil
}

func (s *Seeder) create(ctx context.Context, spec jobSpec, now, createdAt time.Time) (*job.Job, error) {
	j := &job.Job{
		ID:           uuid.New(),
		Status:       spec.status,
		APIToken:     spec.token,
		ErrorMessage: spec.errorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	if spec.startAgo > 0 {
		t := now.Add(-spec.startAgo)
		j.StartTime = &t
	}
	if spec.endAgo > 0 {
		t := now.Add(-spec.endAgo)
		j.EndTime = &t
	}

	if spec.status != job.StatusCompleted {
		if err := s.repo.Create(ctx, j); err != nil {
			return nil, fmt.Errorf("create %s job: %w", spec.status, err)
		}
		return j, nil
	}

	// Completed jobs go through the normal completion path so that
	// record_count always matches the stored records.
	end := *j.EndTime
	j.Status = job.StatusInProgress
	j.EndTime = nil
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create completed job: %w", err)
	}
	if _, err := s.repo.Complete(ctx, j.ID, s.records(j.ID, spec.records), end); err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}
	return s.repo.Get(ctx, j.ID)
}

func (s *Seeder) records(id uuid.UUID, n int) []job.Record {
	records := make([]job.Record, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, job.Record{
			JobID:         id,
			IDFromService: fmt.Sprintf("seed_user_%s_%d", id, i),
			Email:         fmt.Sprintf("seeduser%d@example.com", i),
			FirstName:     fmt.Sprintf("SeedFirst%d", i),
			LastName:      fmt.Sprintf("SeedLast%d", i),
			AdditionalData: map[string]any{
				"phone":        fmt.Sprintf("+1-555-%d", 1000+s.rnd.IntN(9000)),
				"company":      fmt.Sprintf("Seed Company %d", i),
				"department":   departments[s.rnd.IntN(len(departments))],
				"created_date": "2023-01-01",
			},
		})
	}
	return records
}
