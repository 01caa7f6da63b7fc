package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ahmethakanbesel/extraction-api/internal/apperror"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps service errors to responses. AppErrors carry their
// own status; anything else is a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apperror.As(err); ok {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err) //nolint:gosec // structured logging
	writeError(w, http.StatusInternalServerError, err.Error())
}
