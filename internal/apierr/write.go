package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
)

// WriteError writes err as a JSON error envelope.
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// WriteErrorWithContext is WriteError with the request id from r's context
// copied into the body.
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if id := logger.RequestID(r.Context()); id != "" {
		err.RequestID = id
	}
	WriteError(w, err)
}
