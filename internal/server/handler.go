package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/extraction-api/internal/job"
	"github.com/ahmethakanbesel/extraction-api/internal/pagination"
)

const (
	version        = "1.0.0"
	maxBodyBytes   = 1 << 20
	msgJobNotFound = "Job not found"
)

type handler struct {
	jobSvc *job.Service
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: h.jobSvc.Now().Format(time.RFC3339Nano),
		Version:   version,
	})
}

func (h *handler) startExtraction(w http.ResponseWriter, r *http.Request) {
	var req job.StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	j, err := h.jobSvc.Start(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job.StartResponse{
		JobID:   j.ID,
		Status:  j.Status,
		Message: "Extraction job started successfully",
	})
}

func (h *handler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: id})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, j.View(h.jobSvc.Now()))
}

func (h *handler) getResults(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	// A missing or unfinished job is reported before malformed pagination.
	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: id})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if j.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict, "Job is not completed. Current status: "+string(j.Status))
		return
	}

	page, appErr := pagination.FromQuery(r.URL.Query())
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	resp, err := h.jobSvc.Results(r.Context(), job.ResultsRequest{ID: id, Request: page})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: id})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !j.CanBeCancelled() {
		writeError(w, http.StatusConflict, "Job cannot be cancelled. Current status: "+string(j.Status))
		return
	}

	cancelled, err := h.jobSvc.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !cancelled {
		// Lost a race with the job finishing.
		writeError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "Job cancelled successfully",
		JobID:   id.String(),
	})
}

func (h *handler) removeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	removed, err := h.jobSvc.Remove(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, msgJobNotFound)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Job data removed successfully"})
}

func (h *handler) processJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	// The run is not tied to the client connection.
	ctx := context.WithoutCancel(r.Context())
	j, err := h.jobSvc.ProcessExtraction(ctx, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, j.View(h.jobSvc.Now()))
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, appErr := pagination.FromQuery(q)
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	resp, err := h.jobSvc.List(r.Context(), job.ListJobsRequest{
		Status:  q.Get("status"),
		Request: page,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobSvc.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) legacyListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobSvc.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	now := h.jobSvc.Now()
	views := make([]job.View, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobs[i].View(now))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) legacyCreateJob(w http.ResponseWriter, r *http.Request) {
	var req job.CreateJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	j, err := h.jobSvc.CreateJob(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, j.View(h.jobSvc.Now()))
}

// decodeBody decodes a JSON body into dst. An empty body leaves dst at its
// zero value so that field validation reports what is missing.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// jobID parses the {id} path value. Anything that is not a UUID cannot name
// a job, so it is reported as not found.
func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusNotFound, msgJobNotFound)
		return uuid.Nil, false
	}
	return id, true
}
