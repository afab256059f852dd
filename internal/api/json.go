package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/annostore/internal/apperr"
	"github.com/starford/annostore/internal/parser"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// Annotation text may hold <, > and & verbatim.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Code  string `json:"code,omitempty" example:"not_found"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a service error onto a status code and a coded body.
func writeError(w http.ResponseWriter, op, doc string, err error) {
	var dep *apperr.DependingAnnotationError
	var perr *parser.ParseLineError
	if errors.As(err, &dep) {
		writeJSON(w, http.StatusConflict, DependentsResponse{
			Error: err.Error(), Code: "depending", Target: dep.Target, Dependents: dep.Dependents,
		})
		return
	}

	status, body := http.StatusInternalServerError, errResponse{Error: "internal error"}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status, body = http.StatusNotFound, errResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, apperr.ErrDuplicateID):
		status, body = http.StatusConflict, errResponse{Error: err.Error(), Code: "duplicate_id"}
	case errors.Is(err, apperr.ErrConflict):
		status, body = http.StatusPreconditionFailed, errResponse{Error: "checksum mismatch", Code: "conflict"}
	case errors.Is(err, apperr.ErrReadOnly):
		status, body = http.StatusForbidden, errResponse{Error: err.Error(), Code: "read_only"}
	case errors.Is(err, apperr.ErrInvalidID), errors.Is(err, apperr.ErrInvalidPath), errors.As(err, &perr):
		status, body = http.StatusBadRequest, errResponse{Error: err.Error(), Code: "invalid"}
	case errors.Is(err, apperr.ErrLockTimeout), errors.Is(err, apperr.ErrStaleLock):
		w.Header().Set("Retry-After", "1")
		status, body = http.StatusServiceUnavailable, errResponse{Error: err.Error(), Code: "locked"}
	default:
		slog.Error(op+" failed", slog.String("document", doc), slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}
