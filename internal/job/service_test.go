package job

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/extraction-api/internal/apperror"
	"github.com/ahmethakanbesel/extraction-api/internal/extractor"
	"github.com/ahmethakanbesel/extraction-api/internal/extractor/mock"
	"github.com/ahmethakanbesel/extraction-api/internal/pagination"
)

type mockRepo struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*Job
	records    map[uuid.UUID][]Record
	staleCount int64
	recoverErr error
	completeFn func(id uuid.UUID) // runs inside Complete before the status check
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		jobs:    make(map[uuid.UUID]*Job),
		records: make(map[uuid.UUID][]Record),
	}
}

func (m *mockRepo) Create(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "Job not found")
	}
	cp := *j
	return &cp, nil
}

func (m *mockRepo) sorted(status Status) []Job {
	result := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if status != "" && j.Status != status {
			continue
		}
		result = append(result, *j)
	}
	sort.Slice(result, func(a, b int) bool { return result[a].CreatedAt.After(result[b].CreatedAt) })
	return result
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := m.sorted(f.Status)
	if f.Limit <= 0 {
		return result, nil
	}
	start := min(f.Offset, len(result))
	end := min(start+f.Limit, len(result))
	return result[start:end], nil
}

func (m *mockRepo) Count(_ context.Context, status Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sorted(status))), nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	delete(m.jobs, id)
	return true, nil
}

func (m *mockRepo) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[uuid.UUID]*Job)
	m.records = make(map[uuid.UUID][]Record)
	return nil
}

func (m *mockRepo) Begin(_ context.Context, id uuid.UUID, at time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "Job not found")
	}
	delete(m.records, id)
	j.Status = StatusInProgress
	j.StartTime = &at
	j.EndTime = nil
	j.ErrorMessage = ""
	j.RecordCount = 0
	cp := *j
	return &cp, nil
}

func (m *mockRepo) Complete(_ context.Context, id uuid.UUID, records []Record, at time.Time) (bool, error) {
	if m.completeFn != nil {
		m.completeFn(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusInProgress {
		return false, nil
	}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if seen[r.IDFromService] {
			return false, errors.New("UNIQUE constraint failed")
		}
		seen[r.IDFromService] = true
	}
	m.records[id] = append([]Record(nil), records...)
	j.Status = StatusCompleted
	j.RecordCount = int64(len(records))
	j.EndTime = &at
	return true, nil
}

func (m *mockRepo) Fail(_ context.Context, id uuid.UUID, message string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusInProgress {
		return false, nil
	}
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.RecordCount = 0
	j.EndTime = &at
	return true, nil
}

func (m *mockRepo) Cancel(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !j.CanBeCancelled() {
		return false, nil
	}
	j.Status = StatusCancelled
	j.EndTime = &at
	return true, nil
}

func (m *mockRepo) ClaimPending(_ context.Context, at time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Status == StatusPending {
			j.Status = StatusInProgress
			j.StartTime = &at
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) RecoverStale(_ context.Context) (int64, error) {
	return m.staleCount, m.recoverErr
}

func (m *mockRepo) ListRecords(_ context.Context, id uuid.UUID, limit, offset int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := append([]Record(nil), m.records[id]...)
	sort.Slice(recs, func(a, b int) bool { return recs[a].IDFromService < recs[b].IDFromService })
	start := min(offset, len(recs))
	end := min(start+limit, len(recs))
	return recs[start:end], nil
}

func (m *mockRepo) CountRecords(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records[id])), nil
}

func (m *mockRepo) CountByStatus(_ context.Context) (map[Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (m *mockRepo) SumRecordCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		n += j.RecordCount
	}
	return n, nil
}

func (m *mockRepo) ListCompletedWithTimes(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Job
	for _, j := range m.jobs {
		if j.Status == StatusCompleted && j.StartTime != nil && j.EndTime != nil {
			result = append(result, *j)
		}
	}
	return result, nil
}

// stubExtractor returns canned results.
type stubExtractor struct {
	items []extractor.Item
	err   error
}

func (s *stubExtractor) Name() string                   { return "stub" }
func (s *stubExtractor) ValidateToken(token string) bool { return s.err == nil }
func (s *stubExtractor) Extract(_ context.Context, _ string) ([]extractor.Item, error) {
	return s.items, s.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T, ex extractor.Extractor) (*Service, *mockRepo) {
	t.Helper()
	repo := newMockRepo()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewService(repo, ex, WithClock(clock.Now)), repo
}

func seedJob(t *testing.T, repo *mockRepo, j Job) *Job {
	t.Helper()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	require.NoError(t, repo.Create(context.Background(), &j))
	return &j
}

func ptr(t time.Time) *time.Time { return &t }

func TestService_Start(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0)))
	notified := 0
	svc.SetNotify(func() { notified++ })

	j, err := svc.Start(context.Background(), StartRequest{APIToken: "valid_test_token_12345"})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, j.Status)
	assert.NotEqual(t, uuid.Nil, j.ID)
	assert.Zero(t, j.RecordCount)
	assert.Nil(t, j.StartTime)
	assert.Nil(t, j.EndTime)
	assert.Equal(t, 1, notified)

	stored, err := repo.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestService_Start_MissingToken(t *testing.T) {
	svc, _ := newTestService(t, mock.New(mock.WithDelayUnit(0)))

	_, err := svc.Start(context.Background(), StartRequest{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.BadRequest))
}

func TestService_ProcessExtraction_ValidToken(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0), mock.WithSeed(1)))
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{APIToken: "valid_test_token_12345"})
	require.NoError(t, err)

	j, err := svc.ProcessExtraction(ctx, started.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, j.Status)
	assert.GreaterOrEqual(t, j.RecordCount, int64(4))
	assert.LessOrEqual(t, j.RecordCount, int64(24))
	require.NotNil(t, j.StartTime)
	require.NotNil(t, j.EndTime)
	assert.False(t, j.EndTime.Before(*j.StartTime))
	assert.Empty(t, j.ErrorMessage)

	n, _ := repo.CountRecords(ctx, j.ID)
	assert.Equal(t, j.RecordCount, n)
}

func TestService_ProcessExtraction_InvalidTokens(t *testing.T) {
	for _, token := range []string{"invalid_token", "short", "invalid_token_that_is_long"} {
		t.Run(token, func(t *testing.T) {
			svc, _ := newTestService(t, mock.New(mock.WithDelayUnit(0)))
			ctx := context.Background()

			started, err := svc.Start(ctx, StartRequest{APIToken: token})
			require.NoError(t, err)

			j, err := svc.ProcessExtraction(ctx, started.ID)
			require.NoError(t, err)

			assert.Equal(t, StatusFailed, j.Status)
			assert.Zero(t, j.RecordCount)
			assert.Equal(t, "Invalid API token", j.ErrorMessage)
			assert.NotNil(t, j.StartTime)
			assert.NotNil(t, j.EndTime)
		})
	}
}

func TestService_ProcessExtraction_UnexpectedError(t *testing.T) {
	svc, repo := newTestService(t, &stubExtractor{err: errors.New("connection reset")})
	j := seedJob(t, repo, Job{Status: StatusPending, APIToken: "valid_test_token_12345"})

	got, err := svc.ProcessExtraction(context.Background(), j.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "Unexpected error: connection reset", got.ErrorMessage)
	assert.NotNil(t, got.EndTime)
}

func TestService_ProcessExtraction_StoreFailureMarksFailed(t *testing.T) {
	dup := []extractor.Item{{IDFromService: "user_1"}, {IDFromService: "user_1"}}
	svc, repo := newTestService(t, &stubExtractor{items: dup})
	j := seedJob(t, repo, Job{Status: StatusPending, APIToken: "valid_test_token_12345"})

	got, err := svc.ProcessExtraction(context.Background(), j.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "Unexpected error:")
	assert.Zero(t, got.RecordCount)
}

func TestService_ProcessExtraction_NotFound(t *testing.T) {
	svc, _ := newTestService(t, mock.New(mock.WithDelayUnit(0)))

	_, err := svc.ProcessExtraction(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestService_ProcessExtraction_RerunsTerminalJob(t *testing.T) {
	items := []extractor.Item{{IDFromService: "user_1"}, {IDFromService: "user_2"}}
	svc, repo := newTestService(t, &stubExtractor{items: items})
	j := seedJob(t, repo, Job{
		Status:      StatusCompleted,
		APIToken:    "valid_test_token_12345",
		RecordCount: 9,
		StartTime:   ptr(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
		EndTime:     ptr(time.Date(2023, 1, 1, 0, 1, 0, 0, time.UTC)),
	})

	got, err := svc.ProcessExtraction(context.Background(), j.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(2), got.RecordCount)
	assert.True(t, got.StartTime.After(*j.StartTime))
}

func TestService_Process_CancelledMidRunKeepsCancelled(t *testing.T) {
	items := []extractor.Item{{IDFromService: "user_1"}}
	svc, repo := newTestService(t, &stubExtractor{items: items})
	j := seedJob(t, repo, Job{Status: StatusPending, APIToken: "valid_test_token_12345"})

	repo.completeFn = func(id uuid.UUID) {
		ok, err := svc.Cancel(context.Background(), id)
		require.NoError(t, err)
		require.True(t, ok)
	}

	claimed, err := repo.ClaimPending(context.Background(), time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.Process(context.Background(), claimed))

	got, _ := repo.Get(context.Background(), j.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Zero(t, got.RecordCount)
	n, _ := repo.CountRecords(context.Background(), j.ID)
	assert.Zero(t, n)
}

func TestService_Process_InterruptedLeavesInProgress(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(time.Hour)))
	j := seedJob(t, repo, Job{Status: StatusPending, APIToken: "valid_test_token_12345"})

	claimed, err := repo.ClaimPending(context.Background(), time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, svc.Process(ctx, claimed))

	got, _ := repo.Get(context.Background(), j.ID)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestService_Cancel(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0)))
	ctx := context.Background()

	pending := seedJob(t, repo, Job{Status: StatusPending})
	inProgress := seedJob(t, repo, Job{Status: StatusInProgress, StartTime: ptr(time.Now())})

	for _, j := range []*Job{pending, inProgress} {
		ok, err := svc.Cancel(ctx, j.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, _ := repo.Get(ctx, j.ID)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.NotNil(t, got.EndTime)
	}
}

func TestService_Cancel_TerminalUnchanged(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0)))
	ctx := context.Background()

	end := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		j := seedJob(t, repo, Job{
			Status:      st,
			RecordCount: 5,
			StartTime:   ptr(end.Add(-time.Minute)),
			EndTime:     ptr(end),
		})

		ok, err := svc.Cancel(ctx, j.ID)
		require.NoError(t, err)
		assert.False(t, ok, st)

		got, _ := repo.Get(ctx, j.ID)
		assert.Equal(t, st, got.Status)
		assert.Equal(t, int64(5), got.RecordCount)
		assert.True(t, got.EndTime.Equal(end))
	}
}

func TestService_Cancel_NotFound(t *testing.T) {
	svc, _ := newTestService(t, mock.New(mock.WithDelayUnit(0)))

	ok, err := svc.Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Remove(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0), mock.WithSeed(3)))
	ctx := context.Background()

	started, _ := svc.Start(ctx, StartRequest{APIToken: "valid_test_token_12345"})
	_, err := svc.ProcessExtraction(ctx, started.ID)
	require.NoError(t, err)

	ok, err := svc.Remove(ctx, started.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	n, _ := repo.CountRecords(ctx, started.ID)
	assert.Zero(t, n)
	_, err = svc.Get(ctx, GetJobRequest{ID: started.ID})
	assert.True(t, apperror.Is(err, apperror.NotFound))

	ok, err = svc.Remove(ctx, started.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Statistics_Empty(t *testing.T) {
	svc, _ := newTestService(t, mock.New(mock.WithDelayUnit(0)))

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Statistics{}, *stats)
}

func TestService_Statistics(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0)))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedJob(t, repo, Job{Status: StatusCompleted, RecordCount: 5, StartTime: ptr(t0), EndTime: ptr(t0.Add(10 * time.Second))})
	seedJob(t, repo, Job{Status: StatusCompleted, RecordCount: 3, StartTime: ptr(t0), EndTime: ptr(t0.Add(20 * time.Second))})
	seedJob(t, repo, Job{Status: StatusCompleted, RecordCount: 2}) // no timestamps: not averaged
	seedJob(t, repo, Job{Status: StatusFailed, StartTime: ptr(t0), EndTime: ptr(t0.Add(time.Hour))})
	seedJob(t, repo, Job{Status: StatusPending})
	seedJob(t, repo, Job{Status: StatusInProgress, StartTime: ptr(t0)})
	seedJob(t, repo, Job{Status: StatusCancelled, StartTime: ptr(t0), EndTime: ptr(t0.Add(time.Minute))})

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), stats.TotalJobs)
	assert.Equal(t, int64(3), stats.CompletedJobs)
	assert.Equal(t, int64(1), stats.FailedJobs)
	assert.Equal(t, int64(1), stats.PendingJobs)
	assert.Equal(t, int64(1), stats.InProgressJobs)
	assert.Equal(t, int64(1), stats.CancelledJobs)
	assert.Equal(t, int64(10), stats.TotalRecordsExtracted)
	assert.InDelta(t, 15.0, stats.AverageDurationSeconds, 1e-9)
}

func TestService_List_Pagination(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0)))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 25 {
		status := StatusPending
		if i%5 == 0 {
			status = StatusFailed
		}
		seedJob(t, repo, Job{Status: status, CreatedAt: t0.Add(time.Duration(i) * time.Minute)})
	}

	resp, err := svc.List(context.Background(), ListJobsRequest{Request: pagination.Request{Page: 3, PageSize: 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(25), resp.TotalJobs)
	assert.Equal(t, 3, resp.TotalPages)
	assert.Len(t, resp.Results, 5)
	assert.False(t, resp.HasNext)
	assert.True(t, resp.HasPrevious)

	failed, err := svc.List(context.Background(), ListJobsRequest{Status: "failed", Request: pagination.Request{Page: 1, PageSize: 20}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), failed.TotalJobs)

	_, err = svc.List(context.Background(), ListJobsRequest{Status: "bogus", Request: pagination.Request{Page: 1, PageSize: 20}})
	assert.True(t, apperror.Is(err, apperror.BadRequest))
}

func TestService_Results(t *testing.T) {
	items := make([]extractor.Item, 0, 25)
	for i := range 25 {
		items = append(items, extractor.Item{IDFromService: string(rune('a'+i)) + "_user"})
	}
	svc, _ := newTestService(t, &stubExtractor{items: items})
	ctx := context.Background()

	started, _ := svc.Start(ctx, StartRequest{APIToken: "valid_test_token_12345"})

	_, err := svc.Results(ctx, ResultsRequest{ID: started.ID, Request: pagination.Request{Page: 1, PageSize: 10}})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.Conflict))
	assert.Equal(t, "Job is not completed. Current status: pending", err.Error())

	_, err = svc.ProcessExtraction(ctx, started.ID)
	require.NoError(t, err)

	first, err := svc.Results(ctx, ResultsRequest{ID: started.ID, Request: pagination.Request{Page: 1, PageSize: 10}})
	require.NoError(t, err)
	assert.Len(t, first.Results, 10)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrevious)
	assert.Equal(t, int64(25), first.TotalRecords)
	assert.Equal(t, "a_user", first.Results[0].IDFromService)

	last, err := svc.Results(ctx, ResultsRequest{ID: started.ID, Request: pagination.Request{Page: 3, PageSize: 10}})
	require.NoError(t, err)
	assert.Len(t, last.Results, 5)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrevious)
	assert.NotNil(t, last.Results[0].AdditionalData)
}

func TestService_CreateJob(t *testing.T) {
	svc, _ := newTestService(t, mock.New(mock.WithDelayUnit(0)))

	j, err := svc.CreateJob(context.Background(), CreateJobRequest{Status: "completed", APIToken: "legacy_token_001", RecordCount: 4})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, int64(4), j.RecordCount)

	for _, req := range []CreateJobRequest{
		{Status: "done", APIToken: "legacy_token_001"},
		{APIToken: "legacy_token_001", RecordCount: -1},
		{Status: "completed", RecordCount: 5},
		{APIToken: strings.Repeat("ü", maxTokenLength+1)},
	} {
		_, err = svc.CreateJob(context.Background(), req)
		assert.True(t, apperror.Is(err, apperror.BadRequest), "%+v", req)
	}

	_, err = svc.CreateJob(context.Background(), CreateJobRequest{APIToken: strings.Repeat("ü", maxTokenLength)})
	assert.NoError(t, err)
}

func TestService_RecoverStaleJobs(t *testing.T) {
	svc, repo := newTestService(t, mock.New(mock.WithDelayUnit(0)))
	repo.staleCount = 3

	require.NoError(t, svc.RecoverStaleJobs(context.Background()))

	repo.recoverErr = errors.New("locked")
	require.Error(t, svc.RecoverStaleJobs(context.Background()))
}
