// Package requesttime pins one timestamp per request so every event a
// transition emits carries the same time.
package requesttime

import (
	"net/http"
	"time"

	"dattas/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), time.Now())))
	})
}
