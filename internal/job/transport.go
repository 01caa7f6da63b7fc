package job

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/extraction-api/internal/apperror"
	"github.com/ahmethakanbesel/extraction-api/internal/pagination"
)

const maxTokenLength = 255

type StartRequest struct {
	APIToken string `json:"api_token"`
}

func (r StartRequest) Validate() *apperror.AppError {
	return validateToken(r.APIToken)
}

// validateToken enforces a non-empty token of at most maxTokenLength
// characters.
func validateToken(token string) *apperror.AppError {
	if token == "" {
		return apperror.New(apperror.BadRequest, "api_token is required")
	}
	if utf8.RuneCountInString(token) > maxTokenLength {
		return apperror.New(apperror.BadRequest, "api_token must be at most 255 characters")
	}
	return nil
}

type GetJobRequest struct {
	ID uuid.UUID
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if r.ID == uuid.Nil {
		return apperror.New(apperror.NotFound, "Job not found")
	}
	return nil
}

type ListJobsRequest struct {
	Status string
	pagination.Request
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	if r.Status != "" {
		if _, err := ParseStatus(r.Status); err != nil {
			return apperror.New(apperror.BadRequest, "Invalid status filter: "+r.Status)
		}
	}
	return r.Request.Validate()
}

type ResultsRequest struct {
	ID uuid.UUID
	pagination.Request
}

func (r ResultsRequest) Validate() *apperror.AppError {
	if appErr := (GetJobRequest{ID: r.ID}).Validate(); appErr != nil {
		return appErr
	}
	return r.Request.Validate()
}

// CreateJobRequest is the body accepted by the legacy job collection
// endpoint, which stores a job verbatim without running it.
type CreateJobRequest struct {
	Status       string     `json:"status"`
	APIToken     string     `json:"api_token"`
	RecordCount  int64      `json:"record_count"`
	ErrorMessage string     `json:"error_message"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
}

func (r CreateJobRequest) Validate() *apperror.AppError {
	if appErr := validateToken(r.APIToken); appErr != nil {
		return appErr
	}
	if r.Status != "" {
		if _, err := ParseStatus(r.Status); err != nil {
			return apperror.New(apperror.BadRequest, "status must be one of pending, in_progress, completed, failed, cancelled")
		}
	}
	if r.RecordCount < 0 {
		return apperror.New(apperror.BadRequest, "record_count must not be negative")
	}
	if r.StartTime != nil && r.EndTime != nil && r.EndTime.Before(*r.StartTime) {
		return apperror.New(apperror.BadRequest, "end_time must not be before start_time")
	}
	return nil
}

// View is the public representation of a job. The API token is never
// exposed.
type View struct {
	JobID           uuid.UUID  `json:"job_id"`
	Status          Status     `json:"status"`
	RecordCount     int64      `json:"record_count"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ErrorMessage    string     `json:"error_message"`
	DurationSeconds float64    `json:"duration_seconds"`
}

func (j *Job) View(now time.Time) View {
	return View{
		JobID:           j.ID,
		Status:          j.Status,
		RecordCount:     j.RecordCount,
		StartTime:       j.StartTime,
		EndTime:         j.EndTime,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		ErrorMessage:    j.ErrorMessage,
		DurationSeconds: j.DurationSeconds(now),
	}
}

type RecordView struct {
	IDFromService  string         `json:"id_from_service"`
	Email          string         `json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	AdditionalData map[string]any `json:"additional_data"`
}

func (r *Record) View() RecordView {
	data := r.AdditionalData
	if data == nil {
		data = map[string]any{}
	}
	return RecordView{
		IDFromService:  r.IDFromService,
		Email:          r.Email,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		AdditionalData: data,
	}
}

type StartResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
}

type ResultsResponse struct {
	JobID        uuid.UUID    `json:"job_id"`
	Status       Status       `json:"status"`
	TotalRecords int64        `json:"total_records"`
	Page         int          `json:"page"`
	PageSize     int          `json:"page_size"`
	TotalPages   int          `json:"total_pages"`
	HasNext      bool         `json:"has_next"`
	HasPrevious  bool         `json:"has_previous"`
	Results      []RecordView `json:"results"`
}

type ListJobsResponse struct {
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
	TotalPages  int    `json:"total_pages"`
	TotalJobs   int64  `json:"total_jobs"`
	HasNext     bool   `json:"has_next"`
	HasPrevious bool   `json:"has_previous"`
	Results     []View `json:"results"`
}
