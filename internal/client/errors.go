package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ryabkov82/crm-writer/internal/sink"
)

// HTTPError is a non-success response that survived the retry loop.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// GetHTTPError extracts HTTPError from err if possible.
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	ok := errors.As(err, &httpErr)
	return httpErr, ok
}

// apiError is the error object the CRM returns, standalone or inside "errors".
type apiError struct {
	Status   string          `json:"status"`
	Category string          `json:"category"`
	Message  string          `json:"message"`
	Context  json.RawMessage `json:"context"`
}

// multiStatus is the 207 body of a partially failed batch.
type multiStatus struct {
	Status    string     `json:"status"`
	NumErrors int        `json:"numErrors"`
	Errors    []apiError `json:"errors"`
}

const maxMessageBytes = 2048

func (e apiError) record(status int, fallback json.RawMessage) sink.ErrorRecord {
	rec := sink.ErrorRecord{
		Status:   e.Status,
		Category: e.Category,
		Message:  e.Message,
		Context:  e.Context,
	}
	if rec.Status == "" {
		rec.Status = strconv.Itoa(status)
	}
	if rec.Category == "" {
		rec.Category = sink.CategoryUnresolvable
	}
	if len(rec.Context) == 0 || string(rec.Context) == "null" {
		rec.Context = fallback
	}
	return rec
}

// errorRecord classifies a final non-success body.
func errorRecord(status int, body []byte, fallback json.RawMessage) sink.ErrorRecord {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Message != "" || parsed.Category != "") {
		return parsed.record(status, fallback)
	}
	return sink.ErrorRecord{
		Status:   strconv.Itoa(status),
		Category: sink.CategoryUnresolvable,
		Message:  truncate(string(body)),
		Context:  fallback,
	}
}

// partialRecords extracts the per-input failures of a 207 body.
func partialRecords(body []byte, fallback json.RawMessage) ([]sink.ErrorRecord, error) {
	var parsed multiStatus
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse multi-status body: %w", err)
	}
	records := make([]sink.ErrorRecord, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		records = append(records, e.record(207, fallback))
	}
	return records, nil
}

func truncate(s string) string {
	if len(s) <= maxMessageBytes {
		return s
	}
	return s[:maxMessageBytes] + "..."
}
