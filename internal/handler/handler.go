// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voicecredits/voicecredits/internal/handler/dto"
	"github.com/voicecredits/voicecredits/internal/middleware"
)

// Version is reported by the index endpoint.
var Version = "dev"

// errInvalidJSON is returned by decodeJSON for bodies that do not parse.
var errInvalidJSON = errors.New("invalid request body")

// Handler serves the routes that are not tied to a feature.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Index describes the service.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "voicecredits",
		"version": Version,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response. Server errors carry the request id
// so callers can quote it.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := dto.ErrorResponse{Error: message, Code: code}
	if status >= http.StatusInternalServerError {
		resp.RequestID = middleware.GetRequestID(r.Context())
	}
	writeJSON(w, status, resp)
}

// internalError logs err and writes a generic 500.
func internalError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, code string, err error) {
	logger.Error("internal_error",
		slog.String("code", code),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("path", r.URL.Path),
	)
	writeError(w, r, http.StatusInternalServerError, code, "An internal error occurred")
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched. Type errors are returned as *json.UnmarshalTypeError so
// callers can name the offending field.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return tooLarge
	}
	return errInvalidJSON
}

// writeDecodeError maps a decodeJSON failure to a 4xx response.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var typeErr *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		writeError(w, r, http.StatusBadRequest, "INVALID_FIELD", typeErr.Field+" has the wrong type")
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
	}
}
