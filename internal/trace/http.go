package trace

import (
	"context"
	"net/http"
)

// Middleware extracts or creates trace context for HTTP requests and echoes
// the trace ID back to the client.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r.Header)
		w.Header().Set(TraceIDHeader, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// Inject copies the trace in ctx onto outgoing request headers.
func Inject(ctx context.Context, h http.Header) {
	tc, ok := FromContext(ctx)
	if !ok {
		return
	}
	h.Set(TraceIDHeader, tc.TraceID)
	h.Set(SpanIDHeader, tc.SpanID)
}

func extractFromHeaders(h http.Header) Context {
	tc := Context{
		TraceID:      h.Get(TraceIDHeader),
		ParentSpanID: h.Get(SpanIDHeader),
		SpanID:       generateSpanID(),
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}
