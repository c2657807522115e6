package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	"github.com/danellekruger/star-wars-api-wrapper/internal/apierr"
	"github.com/danellekruger/star-wars-api-wrapper/internal/errorreporting"
	"github.com/danellekruger/star-wars-api-wrapper/internal/logger"
)

// RecoverWithSentry recovers from handler panics, reports them to Sentry and
// answers with a structured SYSTEM_INTERNAL error. http.ErrAbortHandler is
// re-raised so net/http can abort the response.
func RecoverWithSentry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()

			logger.FromContext(r.Context(), "recovery").Error("panic recovered",
				"error", rec,
				"stack", string(stack),
				"method", r.Method,
				"path", r.URL.Path,
			)

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			errorreporting.CaptureRequest(r, err, sentry.LevelFatal, nil)

			apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
		}()

		next.ServeHTTP(w, r)
	})
}
