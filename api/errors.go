package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/poiesic/docrag"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/rag"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, docrag.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, docrag.ErrUnsupportedFile), errors.Is(err, docrag.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrEmptyContent),
		errors.Is(err, core.ErrInvalidChatTurn),
		errors.Is(err, core.ErrEmptyInput),
		errors.Is(err, rag.ErrEmptyQuestion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrIndexUnavailable), errors.Is(err, core.ErrEmbeddingFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeDetail(w, status, err.Error())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("failed to write response", "err", err)
	}
}
