package alerts

import (
	"time"

	"github.com/accesswatch/notify/notify"
)

// Alert is a server alert record as returned by the alert-listing endpoint.
// The server assigns strictly increasing numeric IDs in creation order and
// never reuses them; the fallback poller's watermark relies on this.
type Alert struct {
	ID             int64           `json:"id"`
	Severity       notify.Severity `json:"severity"`
	Message        string          `json:"message"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
}

// ListResponse is the response body of the alert-listing endpoint.
type ListResponse struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
}

// APIError is the error body returned by the server for non-2xx responses.
type APIError struct {
	ErrorMessage string `json:"error"`
	Code         string `json:"code,omitempty"`
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.ErrorMessage == "" {
		return "unknown API error"
	}
	return e.ErrorMessage
}
