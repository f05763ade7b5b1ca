// Package requesttime fixes a single "now" for each request so OTP expiry
// checks, task timestamps and audit events within one request agree.
package requesttime

import (
	"net/http"
	"time"

	"bluecarbon/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
