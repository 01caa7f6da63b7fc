package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/extraction-api/internal/apperror"
	domain "github.com/ahmethakanbesel/extraction-api/internal/job"
)

// Fixed-width UTC layout so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = `job_id, status, api_token, error_message, record_count,
	start_time, end_time, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, j *domain.Job) error {
	const query = `INSERT INTO extraction_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		j.ID.String(), string(j.Status), j.APIToken, j.ErrorMessage, j.RecordCount,
		formatNullTime(j.StartTime), formatNullTime(j.EndTime),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE job_id = ?`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "Job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *Repository) List(ctx context.Context, f domain.ListFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE 1=1`

	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	return r.queryJobs(ctx, query, args...)
}

func (r *Repository) Count(ctx context.Context, status domain.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM extraction_jobs`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// Delete removes the job's records and then the job in one transaction.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete job: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_records WHERE job_id = ?`, id.String()); err != nil {
		return false, fmt.Errorf("delete job: records: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM extraction_jobs WHERE job_id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete job: commit: %w", err)
	}
	return true, nil
}

func (r *Repository) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete all: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_records`); err != nil {
		return fmt.Errorf("delete all: records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_jobs`); err != nil {
		return fmt.Errorf("delete all: jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete all: commit: %w", err)
	}
	return nil
}

// Begin clears any earlier run's records and outcome and moves the job to
// in_progress starting at at.
func (r *Repository) Begin(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin job: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_records WHERE job_id = ?`, id.String()); err != nil {
		return nil, fmt.Errorf("begin job: clear records: %w", err)
	}

	ts := formatTime(at)
	res, err := tx.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = 'in_progress', start_time = ?, end_time = NULL,
			error_message = '', record_count = 0, updated_at = ?
		WHERE job_id = ?`,
		ts, ts, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("begin job: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.New(apperror.NotFound, "Job not found")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("begin job: commit: %w", err)
	}

	return r.Get(ctx, id)
}

// Complete marks an in_progress job completed and stores its records in the
// same transaction. Nothing is written if the job has left in_progress.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, records []domain.Record, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("complete job: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(at)
	res, err := tx.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = 'completed', record_count = ?, end_time = ?, updated_at = ?
		WHERE job_id = ? AND status = 'in_progress'`,
		len(records), ts, ts, id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("complete job: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO extracted_records
				(job_id, id_from_service, email, first_name, last_name, additional_data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return false, fmt.Errorf("complete job: prepare: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, rec := range records {
			data, err := marshalData(rec.AdditionalData)
			if err != nil {
				return false, fmt.Errorf("complete job: encode %s: %w", rec.IDFromService, err)
			}
			if _, err := stmt.ExecContext(ctx,
				id.String(), rec.IDFromService, rec.Email, rec.FirstName, rec.LastName, data, ts,
			); err != nil {
				return false, fmt.Errorf("complete job: insert %s: %w", rec.IDFromService, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("complete job: commit: %w", err)
	}
	return true, nil
}

func (r *Repository) Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) (bool, error) {
	ts := formatTime(at)
	res, err := r.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = 'failed', error_message = ?, record_count = 0,
			end_time = ?, updated_at = ?
		WHERE job_id = ? AND status = 'in_progress'`,
		message, ts, ts, id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail job: rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	ts := formatTime(at)
	res, err := r.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = 'cancelled', end_time = ?, updated_at = ?
		WHERE job_id = ? AND status IN ('pending', 'in_progress')`,
		ts, ts, id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel job: rows affected: %w", err)
	}
	return n > 0, nil
}

// ClaimPending atomically moves the oldest pending job to in_progress and
// returns it, or nil when there is none.
func (r *Repository) ClaimPending(ctx context.Context, at time.Time) (*domain.Job, error) {
	ts := formatTime(at)

	var idStr string
	err := r.db.QueryRowContext(ctx,
		`UPDATE extraction_jobs SET status = 'in_progress', start_time = ?, end_time = NULL, updated_at = ?
		WHERE job_id = (
			SELECT job_id FROM extraction_jobs WHERE status = 'pending'
			ORDER BY created_at ASC, rowid ASC LIMIT 1
		) AND status = 'pending'
		RETURNING job_id`,
		ts, ts,
	).Scan(&idStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("claim pending: parse id: %w", err)
	}
	return r.Get(ctx, id)
}

// RecoverStale re-queues jobs left in_progress by an earlier process.
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = 'pending', start_time = NULL, end_time = NULL,
			error_message = '', updated_at = ?
		WHERE status = 'in_progress'`,
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) ListRecords(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Record, error) {
	query := `SELECT id, job_id, id_from_service, email, first_name, last_name, additional_data, created_at
		FROM extracted_records WHERE job_id = ?
		ORDER BY id_from_service ASC, id ASC`
	args := []any{id.String()}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(offset, 0))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []domain.Record
	for rows.Next() {
		var rec domain.Record
		var jobID, data, created string
		if err := rows.Scan(
			&rec.ID, &jobID, &rec.IDFromService, &rec.Email,
			&rec.FirstName, &rec.LastName, &data, &created,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		rec.JobID, _ = uuid.Parse(jobID)
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		if err := json.Unmarshal([]byte(data), &rec.AdditionalData); err != nil {
			return nil, fmt.Errorf("decode additional data for %s: %w", rec.IDFromService, err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *Repository) CountRecords(ctx context.Context, id uuid.UUID) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extracted_records WHERE job_id = ?`, id.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (r *Repository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM extraction_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.Status]int64, len(domain.Statuses))
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *Repository) SumRecordCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(record_count), 0) FROM extraction_jobs`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum record count: %w", err)
	}
	return n, nil
}

func (r *Repository) ListCompletedWithTimes(ctx context.Context) ([]domain.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM extraction_jobs
		WHERE status = 'completed' AND start_time IS NOT NULL AND end_time IS NOT NULL`)
}

func (r *Repository) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	j := &domain.Job{}
	var id, status, createdStr, updatedStr string
	var startStr, endStr sql.NullString

	if err := row.Scan(
		&id, &status, &j.APIToken, &j.ErrorMessage, &j.RecordCount,
		&startStr, &endStr, &createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	var err error
	if j.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	j.Status = domain.Status(status)
	j.StartTime = parseNullTime(startStr)
	j.EndTime = parseNullTime(endStr)
	j.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	j.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
	return j, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalData(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
