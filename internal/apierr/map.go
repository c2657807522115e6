package apierr

import (
	"context"
	"errors"
	"strings"

	"github.com/danellekruger/star-wars-api-wrapper/internal/resolver"
	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

// FromError maps a resolver or upstream failure to its boundary error.
// Anything it does not recognise becomes SYSTEM_INTERNAL.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	// checked first: an upstream failure caused by the caller leaving is
	// still a cancellation
	case errors.Is(err, context.Canceled):
		return RequestCanceled()
	case errors.Is(err, resolver.ErrUnknownRelation):
		return ValidationInvalidValue("relation",
			"Unknown relation; expected one of: "+strings.Join(resolver.RelationKinds(), ", "))
	case errors.Is(err, swapi.ErrNotFound):
		return notFound(upstreamPath(err))
	case errors.Is(err, swapi.ErrRejected):
		return UpstreamRejected("")
	case errors.Is(err, swapi.ErrUnavailable):
		if errors.Is(err, context.DeadlineExceeded) {
			return UpstreamTimeout("")
		}
		return UpstreamUnavailable("")
	case errors.Is(err, context.DeadlineExceeded):
		return SystemTimeout("")
	}
	return SystemInternal("")
}

// notFound distinguishes the requested film from one of its links.
func notFound(path string) *Error {
	if strings.HasPrefix(path, "films/") {
		return FilmNotFound()
	}
	e := ResourceNotFound("related resource")
	if path != "" {
		e.WithDetail("path", path)
	}
	return e
}

func upstreamPath(err error) string {
	var upErr *swapi.APIError
	if errors.As(err, &upErr) {
		return upErr.Path
	}
	return ""
}
