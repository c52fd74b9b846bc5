package trace

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGeneratedIDLengths(t *testing.T) {
	if id := generateTraceID(); len(id) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(id))
	}
	if id := generateSpanID(); len(id) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(id))
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateTraceID()
		if seen[id] {
			t.Error("generated duplicate trace ID")
		}
		seen[id] = true
	}
}

func TestNewChild(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if len(tc.TraceID) != 32 {
		t.Error("should create trace ID")
	}

	_, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("should return existing trace")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("should not find trace context in empty context")
	}
}

func TestStartSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "classify")

	if span.Name != "classify" {
		t.Errorf("span name = %q, want classify", span.Name)
	}
	if span.Duration() != 0 {
		t.Error("running span should report zero duration")
	}

	span.SetAttr("frames", 42)
	span.SetError(errors.New("boom"))
	span.End()
	end := span.EndTime
	span.End()

	if end.IsZero() {
		t.Error("span should have end time")
	}
	if span.EndTime != end {
		t.Error("second End should not move the end time")
	}
	if v, ok := span.Attr("frames"); !ok || v != 42 {
		t.Errorf("Attr(frames) = %v, %v; want 42", v, ok)
	}

	val := span.LogValue()
	if val.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v, want group", val.Kind())
	}
	found := false
	for _, a := range val.Group() {
		if a.Key == "error" && a.Value.String() == "boom" {
			found = true
		}
	}
	if !found {
		t.Error("LogValue should include the span error")
	}
}

func TestSpanNested(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "job")
	_, child := StartSpan(ctx, "dedup")

	if child.Ctx.TraceID != parent.Ctx.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.Ctx.ParentSpanID != parent.Ctx.SpanID {
		t.Error("child's parent should be parent's span")
	}
}

func TestMiddlewareUsesIncomingTrace(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	req.Header.Set(SpanIDHeader, "span1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.TraceID != "abc123" || got.ParentSpanID != "span1" {
		t.Errorf("trace = %+v, want trace abc123 with parent span1", got)
	}
	if rec.Header().Get(TraceIDHeader) != "abc123" {
		t.Errorf("response trace header = %q, want abc123", rec.Header().Get(TraceIDHeader))
	}
}

func TestMiddlewareCreatesTrace(t *testing.T) {
	rec := httptest.NewRecorder()
	Middleware(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(rec.Header().Get(TraceIDHeader)) != 32 {
		t.Errorf("response trace header = %q, want a fresh trace ID", rec.Header().Get(TraceIDHeader))
	}
}

func TestInject(t *testing.T) {
	h := http.Header{}
	Inject(context.Background(), h)
	if h.Get(TraceIDHeader) != "" {
		t.Error("Inject without a trace should not set headers")
	}

	tc := New()
	Inject(WithContext(context.Background(), tc), h)
	if h.Get(TraceIDHeader) != tc.TraceID || h.Get(SpanIDHeader) != tc.SpanID {
		t.Errorf("injected headers = %v, want %+v", h, tc)
	}
}

func TestLogger(t *testing.T) {
	if Logger(context.Background()) != slog.Default() {
		t.Error("Logger without trace should be the default logger")
	}
	Logger(WithContext(context.Background(), New())).Info("test message")
}
