// Package apierr defines the JSON error envelope returned by every endpoint
// and the mapping from internal failures onto it.
package apierr

import "net/http"

// ErrorCode is the stable machine-readable part of an error body.
type ErrorCode string

const (
	ErrFilmNotFound     ErrorCode = "FILM_NOT_FOUND"
	ErrResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"

	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"

	ErrSystemInternal  ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemTimeout   ErrorCode = "SYSTEM_TIMEOUT"
	ErrRequestCanceled ErrorCode = "REQUEST_CANCELED"

	ErrValidationInvalidFormat ErrorCode = "VALIDATION_INVALID_FORMAT"
	ErrValidationInvalidValue  ErrorCode = "VALIDATION_INVALID_VALUE"
	ErrMethodNotAllowed        ErrorCode = "METHOD_NOT_ALLOWED"

	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// StatusClientClosedRequest is the non-standard 499 used when the client
// went away before the response was ready.
const StatusClientClosedRequest = 499

type codeInfo struct {
	status  int
	message string
}

var catalog = map[ErrorCode]codeInfo{
	ErrFilmNotFound:            {http.StatusNotFound, "Film not found"},
	ErrResourceNotFound:        {http.StatusNotFound, "Resource not found"},
	ErrUpstreamUnavailable:     {http.StatusServiceUnavailable, "Upstream catalog is unavailable, try again later"},
	ErrUpstreamTimeout:         {http.StatusGatewayTimeout, "Upstream catalog did not respond in time"},
	ErrUpstreamRejected:        {http.StatusBadGateway, "Upstream catalog rejected the request"},
	ErrSystemInternal:          {http.StatusInternalServerError, "Internal server error"},
	ErrSystemTimeout:           {http.StatusRequestTimeout, "Request timeout"},
	ErrRequestCanceled:         {StatusClientClosedRequest, "Request canceled by the client"},
	ErrValidationInvalidFormat: {http.StatusBadRequest, "Invalid request format"},
	ErrValidationInvalidValue:  {http.StatusBadRequest, "Invalid value"},
	ErrMethodNotAllowed:        {http.StatusMethodNotAllowed, "Method not allowed"},
	ErrRateLimitGlobal:         {http.StatusTooManyRequests, "Rate limit exceeded - too many requests globally"},
	ErrRateLimitIP:             {http.StatusTooManyRequests, "Rate limit exceeded - too many requests from your IP"},
}

// Error is the body of an error response.
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	status    int
}

// ErrorResponse wraps Error as {"error": {...}}.
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New builds an error with an explicit status.
func New(code ErrorCode, message string, status int) *Error {
	return &Error{Code: code, Message: message, status: status}
}

// Of builds an error for a catalogued code. An empty message uses the
// code's default.
func Of(code ErrorCode, message string) *Error {
	info, ok := catalog[code]
	if !ok {
		info = catalog[ErrSystemInternal]
	}
	if message == "" {
		message = info.message
	}
	return New(code, message, info.status)
}

// WithDetail sets one details entry.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Status is the HTTP status the error is written with.
func (e *Error) Status() int { return e.status }

func FilmNotFound() *Error { return Of(ErrFilmNotFound, "") }

// ResourceNotFound names the kind of thing that was missing.
func ResourceNotFound(kind string) *Error {
	return Of(ErrResourceNotFound, kind+" not found").WithDetail("resource_type", kind)
}

func UpstreamUnavailable(message string) *Error { return Of(ErrUpstreamUnavailable, message) }
func UpstreamTimeout(message string) *Error     { return Of(ErrUpstreamTimeout, message) }
func UpstreamRejected(message string) *Error    { return Of(ErrUpstreamRejected, message) }
func SystemInternal(message string) *Error      { return Of(ErrSystemInternal, message) }
func SystemTimeout(message string) *Error       { return Of(ErrSystemTimeout, message) }
func RequestCanceled() *Error                   { return Of(ErrRequestCanceled, "") }

func ValidationInvalidFormat(message string) *Error {
	return Of(ErrValidationInvalidFormat, message)
}

// ValidationInvalidValue reports a bad value for field.
func ValidationInvalidValue(field, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return Of(ErrValidationInvalidValue, message).WithDetail("field", field)
}

func MethodNotAllowed(method string) *Error {
	return Of(ErrMethodNotAllowed, "").WithDetail("method", method)
}

func RateLimitGlobal() *Error { return Of(ErrRateLimitGlobal, "") }
func RateLimitIP() *Error     { return Of(ErrRateLimitIP, "") }
