package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/GeneralTask/task-manager-sub001/api"
	requestSpanName    = "api.request"
	requestEventName   = "api.request.completed"
	requestEventDomain = "gt.api"
	metricsContextKey  = "gt.metrics"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	method        string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	userID        string
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		),
	)
	return &requestMetrics{logger: logger, span: span, route: route, method: method, start: time.Now()}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.storeDuration += d
}

func (m *requestMetrics) SetUser(userID string) {
	if m == nil {
		return
	}
	m.userID = userID
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("gt.api.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("gt.api.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("gt.api.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("gt.api.error_stage", m.errorStage))
	}
	m.span.SetAttributes(attrs...)
	if m.userID != "" {
		m.span.SetAttributes(attribute.String("enduser.id", m.userID))
	}
	failed := err != nil || status >= http.StatusInternalServerError
	if failed {
		if err != nil {
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, m.errorStage)
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":   requestEventName,
		"event.domain": requestEventDomain,
	}
	for _, kv := range attrs {
		fields[string(kv.Key)] = kv.Value.AsInterface()
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	entry := m.logger.WithFields(fields)
	switch {
	case failed:
		entry.WithError(err).Error("api.request.metrics")
	case status >= http.StatusBadRequest:
		entry.Warn("api.request.metrics")
	default:
		entry.Info("api.request.metrics")
	}
}

// RequestMetrics opens a span per request and logs one metrics entry when the
// handler returns.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
