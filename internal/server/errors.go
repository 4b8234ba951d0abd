package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	"github.com/MeKo-Tech/textpipe/internal/model"
	"github.com/MeKo-Tech/textpipe/internal/preprocess"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// statusFor maps pipeline errors to HTTP status codes. Caller mistakes are
// 400; everything else, including weight-loading failures, is 500.
func statusFor(err error) int {
	var (
		unknownArch *arch.UnknownArchitectureError
		unsupported *model.UnsupportedModelTypeError
		imageErr    *preprocess.ImageError
		uploadErr   *UploadError
		invalid     *validationError
	)
	switch {
	case errors.As(err, &unknownArch), errors.As(err, &unsupported),
		errors.As(err, &imageErr), errors.As(err, &uploadErr), errors.As(err, &invalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := RequestID(r.Context())
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", id, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "request_id", id, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
