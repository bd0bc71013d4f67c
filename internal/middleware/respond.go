package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody mirrors handler/dto.ErrorResponse so middleware rejections
// look the same as handler errors.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     message,
		Code:      code,
		RequestID: GetRequestID(r.Context()),
	})
}
