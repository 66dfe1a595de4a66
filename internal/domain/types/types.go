// Package types contains the collector's wire types shared by the API and its clients.
package types

// Ack statuses returned by POST /kpi.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// Ack acknowledges a record upload.
type Ack struct {
	Status    string `json:"status"`
	RecordID  string `json:"record_id"`
	Duplicate bool   `json:"duplicate"`
}

// ErrorResponse is the body of every non-2xx collector response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
