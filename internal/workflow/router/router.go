package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moogar0880/problems"

	"github.com/OpenPathLab/lims/internal/auth"
	"github.com/OpenPathLab/lims/internal/workflow/service"
	"github.com/OpenPathLab/lims/utils"
)

// Problem types returned in application/problem+json bodies.
const (
	problemValidation = "validation_error"
	problemNotFound   = "not_found"
	problemConflict   = "conflict"
	problemInternal   = "internal_error"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "path", r.URL.Path, "error", err)
	}
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(problemType).
		WithDetail(detail)

	w.Header().Set("Content-Type", problems.ProblemMediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode problem", "error", err)
	}
}

// writeServiceError maps service errors onto HTTP problems.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrEntityNotFound):
		writeProblem(w, r, http.StatusNotFound, problemNotFound, err.Error())
	case errors.Is(err, service.ErrMixedActionMethods),
		errors.Is(err, service.ErrBackwardMovement),
		errors.Is(err, service.ErrNotPending),
		errors.Is(err, service.ErrInactiveEntity):
		writeProblem(w, r, http.StatusConflict, problemConflict, err.Error())
	case service.IsValidationError(err):
		writeProblem(w, r, http.StatusBadRequest, problemValidation, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, problemInternal, "internal server error")
	}
}

// pathUUID parses the named path value as a UUID, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, fmt.Sprintf("missing %s in path", name))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, fmt.Sprintf("invalid %s: %v", name, err))
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes and validates a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.StructCtx(r.Context(), dst); err != nil {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, err.Error())
		return false
	}
	return true
}

// pagination reads the offset and limit query parameters.
func pagination(w http.ResponseWriter, r *http.Request) (offset *int, limit *int, ok bool) {
	offset, limit, err := utils.ParsePageQuery(r.URL.Query())
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, err.Error())
		return nil, nil, false
	}
	return offset, limit, true
}

func actor(r *http.Request) string {
	return auth.GetAuthContext(r.Context()).ActorID()
}
