package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingTracer gives a test its own tracer provider plus the exporter
// holding whatever it recorded.
func recordingTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureDefaultLog swaps the default slog logger for one writing into the
// returned builder. Serial tests only.
func captureDefaultLog(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID outside a span = %q, want empty", got)
	}
}

func TestCorrelationIDIsTheTraceID(t *testing.T) {
	t.Parallel()
	tp, _ := recordingTracer(t)

	ctx, span := tp.Tracer("polyglot-test").Start(context.Background(), "session.start")
	defer span.End()

	cid := CorrelationID(ctx)
	if want := span.SpanContext().TraceID().String(); cid != want {
		t.Errorf("CorrelationID = %q, want trace ID %q", cid, want)
	}
	if len(cid) != 32 {
		t.Errorf("CorrelationID length = %d, want 32 hex chars", len(cid))
	}
}

func TestStartSpanUsesGlobalProvider(t *testing.T) {
	tp, exp := recordingTracer(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "coach.evaluate")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced a context without a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "coach.evaluate" {
		t.Fatalf("recorded spans = %+v, want one named coach.evaluate", spans.Snapshots())
	}
}

func TestLoggerCarriesSpanIdentity(t *testing.T) {
	tp, _ := recordingTracer(t)
	buf := captureDefaultLog(t)

	ctx, span := tp.Tracer("polyglot-test").Start(context.Background(), "session.turn")
	defer span.End()

	Logger(ctx).Info("turn committed")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+span.SpanContext().TraceID().String()) {
		t.Errorf("log output missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("log output missing span_id: %s", out)
	}
}

func TestLoggerWithoutSpanStaysPlain(t *testing.T) {
	buf := captureDefaultLog(t)

	Logger(context.Background()).Info("idle status pushed")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log output has trace_id without an active span: %s", out)
	}
}

func TestTracerNonNil(t *testing.T) {
	t.Parallel()
	if Tracer() == nil {
		t.Fatal("Tracer() = nil")
	}
}
