package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSettledMutationProducesObservabilityEvent(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	q := New(Options{Logger: logger})
	it, err := q.Enqueue(Mutation{Tag: "overview", Name: "reorder view", Run: func(context.Context) error { return nil }})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := it.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := waitForLogEntry(t, hook, "observability.event", time.Second)
	if got := entry.Data["event.name"]; got != mutationEventName {
		t.Fatalf("unexpected event name: %v", got)
	}
	if got := entry.Data["event.domain"]; got != mutationEventDomain {
		t.Fatalf("unexpected event domain: %v", got)
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v/%v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	attrs, ok := entry.Data["attributes"].(map[string]any)
	if !ok {
		t.Fatalf("attributes not logged as map: %#v", entry.Data["attributes"])
	}
	if attrs["gt.queue.tag"] != "overview" || attrs["gt.queue.state"] != "settled_success" {
		t.Fatalf("unexpected attributes: %#v", attrs)
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != mutationSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
	spanAttrs := attributesToMap(span.Attributes)
	if spanAttrs["gt.queue.mutation"] != "reorder view" || spanAttrs["gt.queue.intent_id"] != it.ID {
		t.Fatalf("unexpected span attributes: %#v", spanAttrs)
	}
	if findEvent(span.Events, "observability.event").Name == "" {
		t.Fatalf("expected observability.event span event, got %#v", span.Events)
	}
}

func TestFailedMutationSetsErrorStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	boom := errors.New("validation failed")
	q := New(Options{Logger: logger})
	it, _ := q.Enqueue(Mutation{Tag: "tasks", Name: "move task", Run: func(context.Context) error { return boom }})
	_ = it.Wait(context.Background())
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := waitForLogEntry(t, hook, "observability.event", time.Second)
	if entry.Level != log.ErrorLevel || entry.Data["severity_text"] != "ERROR" {
		t.Fatalf("unexpected failure entry: %v %v", entry.Level, entry.Data["severity_text"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description == "" {
		t.Fatalf("expected error status, got %+v", spans[0].Status)
	}
	attrs := attributesToMap(findEvent(spans[0].Events, "observability.event").Attributes)
	if attrs["severity_text"] != "ERROR" || attrs["error.message"] != boom.Error() {
		t.Fatalf("unexpected event attributes: %#v", attrs)
	}
	if attrs["gt.queue.state"] != "settled_failure" {
		t.Fatalf("unexpected state attribute: %#v", attrs["gt.queue.state"])
	}
}

func TestSeverityForState(t *testing.T) {
	tests := []struct {
		state      State
		wantText   string
		wantNumber int
	}{
		{state: StateSucceeded, wantText: "INFO", wantNumber: 9},
		{state: StateFailed, wantText: "ERROR", wantNumber: 17},
		{state: StateInFlight, wantText: "WARN", wantNumber: 13},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			text, number := severityForState(tt.state)
			if text != tt.wantText || number != tt.wantNumber {
				t.Fatalf("severityForState(%s) = %s/%d, want %s/%d", tt.state, text, number, tt.wantText, tt.wantNumber)
			}
		})
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func findEvent(events []sdktrace.Event, name string) sdktrace.Event {
	for _, ev := range events {
		if ev.Name == name {
			return ev
		}
	}
	return sdktrace.Event{}
}

func waitForLogEntry(t *testing.T, hook *test.Hook, message string, timeout time.Duration) *log.Entry {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		for _, entry := range hook.AllEntries() {
			if entry.Message == message {
				return entry
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %q log entry within %v", message, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
