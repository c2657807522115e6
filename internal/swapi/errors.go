package swapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrNotFound    = errors.New("swapi: resource not found")
	ErrUnavailable = errors.New("swapi: upstream unavailable")
	ErrRejected    = errors.New("swapi: upstream rejected request")
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// APIError is a failed upstream fetch. It unwraps to its Kind and, when set, its cause.
type APIError struct {
	Kind       error
	StatusCode int
	Path       string
	Attempts   int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		b.WriteString(" (" + e.Path + ")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	return b.String()
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// errorBody is the shape of the upstream's JSON error payloads, e.g. {"detail":"Not found"}.
type errorBody struct {
	Detail string `json:"detail"`
}

// classifyStatus maps a final status code to a failure kind; nil means success.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// classifyResponse builds the APIError for a non-2xx response and consumes its body.
func classifyResponse(resp *http.Response, path string, attempts int) *APIError {
	apiErr := &APIError{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Path:       path,
		Attempts:   attempts,
	}
	if resp.Body != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err == nil {
			var eb errorBody
			if json.Unmarshal(body, &eb) == nil {
				apiErr.Message = eb.Detail
			}
		}
	}
	return apiErr
}

// IsTransient reports whether err is an upstream failure worth counting
// against the breaker. Caller cancellation is not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) && !errors.Is(err, context.Canceled)
}
