// Package dto provides Data Transfer Objects for API requests and responses.
package dto

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// PaymentRequiredResponse is returned when the session gate denies a start.
type PaymentRequiredResponse struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	RequiresPayment bool   `json:"requiresPayment"`
}

// Pagination provides cursor-based pagination info.
type Pagination struct {
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}
