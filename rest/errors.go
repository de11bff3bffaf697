package rest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDiscarded is returned for a request that completed after
// CancelOutstanding was called. Its result must be ignored.
var ErrDiscarded = errors.New("rest: request discarded by CancelOutstanding")

// RequestError is returned for transport failures (StatusCode 0) and for
// every non-2xx response regardless of status.
type RequestError struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Status     string `json:"status,omitempty"`
	Body       []byte `json:"-"`
	// Payload is the decoded JSON error body, if the server sent one.
	Payload map[string]any `json:"payload,omitempty"`
	Err     error          `json:"-"`
}

func newResponseError(method, url string, code int, status string, body []byte) *RequestError {
	e := &RequestError{
		Method:     method,
		URL:        url,
		StatusCode: code,
		Status:     status,
		Body:       body,
	}
	var payload map[string]any
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		e.Payload = payload
	}
	return e
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.URL, e.Status, e.Message())
}

// Unwrap returns the transport error, if any.
func (e *RequestError) Unwrap() error { return e.Err }

// Message returns the server-provided message, falling back to the status
// line or the transport error.
func (e *RequestError) Message() string {
	if msg, ok := e.Payload["message"].(string); ok && msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if len(e.Body) > 0 && e.Payload == nil {
		return string(e.Body)
	}
	return e.Status
}

// Type returns the server error type ("validation", "access", "rest"), if any.
func (e *RequestError) Type() string {
	t, _ := e.Payload["type"].(string)
	return t
}

// Field returns the offending field for validation errors, if any.
func (e *RequestError) Field() string {
	f, _ := e.Payload["field"].(string)
	return f
}

// Transport reports whether the request failed before a response arrived.
func (e *RequestError) Transport() bool { return e.StatusCode == 0 }

// AsRequestError unwraps err into a *RequestError.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
