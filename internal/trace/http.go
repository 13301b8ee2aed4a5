package trace

import "net/http"

// TraceIDHeader carries a caller-supplied trace ID across the control API.
const TraceIDHeader = "x-trace-id"

// Middleware attaches a trace context to every request, reusing the
// caller's trace ID when one is supplied.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{TraceID: r.Header.Get(TraceIDHeader)}
		if tc.TraceID == "" {
			tc = New()
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
