package uploads

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/moogar0880/problems"
)

// maxUploadMemory bounds the in-memory part of multipart parsing.
const maxUploadMemory = 32 << 20

type HTTPHandler struct {
	Service *UploadService
}

func NewHTTPHandler(service *UploadService) *HTTPHandler {
	return &HTTPHandler{Service: service}
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

// Upload handles POST /api/uploads with a multipart "file" field.
func (h *HTTPHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "file is required")
		return
	}
	defer file.Close()

	metadata, err := h.Service.Upload(r.Context(), header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		slog.ErrorContext(r.Context(), "upload failed", "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", "upload failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode upload response", "error", err)
	}
}

// Download handles GET /api/uploads/{key}.
func (h *HTTPHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.ServeFile(w, r, r.PathValue("key"))
}

// ServeFile streams the document stored under key.
func (h *HTTPHandler) ServeFile(w http.ResponseWriter, r *http.Request, key string) {
	if key == "" {
		writeProblem(w, r, http.StatusBadRequest, "validation_error", "key is required")
		return
	}

	doc, err := h.Service.Open(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidKey):
			writeProblem(w, r, http.StatusBadRequest, "validation_error", "invalid key")
		case errors.Is(err, ErrFileNotFound):
			writeProblem(w, r, http.StatusNotFound, "not_found", "file not found")
		default:
			slog.ErrorContext(r.Context(), "download failed", "key", key, "error", err)
			writeProblem(w, r, http.StatusInternalServerError, "internal_error", "download failed")
		}
		return
	}
	defer doc.Body.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	if doc.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	}
	if doc.ContentType == pdfMimeType {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", key))
	}
	if _, err := io.Copy(w, doc.Body); err != nil {
		slog.WarnContext(r.Context(), "failed to stream file", "key", key, "error", err)
	}
}
