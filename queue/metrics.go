package queue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "github.com/GeneralTask/task-manager-sub001/queue"
	mutationSpanName    = "queue.mutation"
	mutationEventName   = "queue.mutation.settled"
	mutationEventDomain = "gt.queue"
)

type mutationMetrics struct {
	logger       *log.Logger
	span         trace.Span
	intent       *Intent
	startedAt    time.Time
	waitDuration time.Duration
	runDuration  time.Duration
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, it *Intent) (*mutationMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, mutationSpanName,
		trace.WithAttributes(
			attribute.String("gt.queue.tag", string(it.Tag)),
			attribute.String("gt.queue.mutation", it.Name),
			attribute.String("gt.queue.intent_id", it.ID),
		),
	)
	return &mutationMetrics{logger: logger, span: span, intent: it}, ctx
}

func (m *mutationMetrics) ObserveStart() {
	m.startedAt = time.Now()
	m.waitDuration = m.startedAt.Sub(m.intent.enqueued)
}

func (m *mutationMetrics) ObserveRun() {
	if m.startedAt.IsZero() {
		return
	}
	m.runDuration = time.Since(m.startedAt)
}

func (m *mutationMetrics) Log(state State, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForState(state)

	attrs := []attribute.KeyValue{
		attribute.String("gt.queue.tag", string(m.intent.Tag)),
		attribute.String("gt.queue.mutation", m.intent.Name),
		attribute.String("gt.queue.intent_id", m.intent.ID),
		attribute.String("gt.queue.state", state.String()),
		attribute.Float64("gt.queue.wait_ms", durationToMillis(m.waitDuration)),
		attribute.Float64("gt.queue.run_ms", durationToMillis(m.runDuration)),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	m.span.SetAttributes(attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Error("observability.event")
		return
	}
	entry.Info("observability.event")
}

func severityForState(state State) (string, int) {
	switch state {
	case StateFailed:
		return "ERROR", 17
	case StateSucceeded:
		return "INFO", 9
	default:
		return "WARN", 13
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
