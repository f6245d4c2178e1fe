package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	eventDomain        = "project-manager.api"
	observabilityEvent = "observability.event"
	tracerName         = "project-manager/api"
	attributePrefix    = "pm."
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Project intake submissions by result",
		},
		[]string{"result"},
	)
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_commands_total",
			Help: "Workflow commands received by outcome",
		},
		[]string{"outcome"},
	)
)

type stageDuration struct {
	name string
	d    time.Duration
}

// requestMetrics collects per-request timings and attributes and emits them
// once as a span plus an observability.event log entry.
type requestMetrics struct {
	logger     *log.Logger
	route      string
	event      string
	span       trace.Span
	start      time.Time
	stages     []stageDuration
	attrs      []attribute.KeyValue
	errorStage string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route, event string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, event,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger: logger,
		route:  route,
		event:  event,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) key(name string) string {
	return attributePrefix + m.event + "." + name
}

// Observe records how long a named stage took.
func (m *requestMetrics) Observe(stage string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.stages = append(m.stages, stageDuration{name: stage, d: d})
}

// Time runs fn and records its duration under stage.
func (m *requestMetrics) Time(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.Observe(stage, time.Since(start))
	return err
}

func (m *requestMetrics) SetInt(name string, v int) {
	m.attrs = append(m.attrs, attribute.Int(m.key(name), v))
}

func (m *requestMetrics) SetBool(name string, v bool) {
	m.attrs = append(m.attrs, attribute.Bool(m.key(name), v))
}

func (m *requestMetrics) SetString(name, v string) {
	m.attrs = append(m.attrs, attribute.String(m.key(name), v))
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(m.key("total_ms"), durationToMillis(time.Since(m.start))),
	}
	for _, s := range m.stages {
		attrs = append(attrs, attribute.Float64(m.key(s.name+"_ms"), durationToMillis(s.d)))
	}
	attrs = append(attrs, m.attrs...)
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(m.key("error_stage"), m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", m.event),
			attribute.String("event.domain", eventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		if severityNumber >= severityError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			if desc == "" {
				desc = "request failed"
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      m.event,
		"event.domain":    eventDomain,
		"attributes":      attributesToFields(attrs),
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Log(logLevelFor(severityNumber), observabilityEvent)
}

const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	case err != nil:
		return "ERROR", severityError
	default:
		return "INFO", severityInfo
	}
}

func logLevelFor(severity int) log.Level {
	switch {
	case severity >= severityError:
		return log.ErrorLevel
	case severity >= severityWarn:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// instrumented wraps h so every request produces one span and one
// observability event, whatever path the handler returns through.
func instrumented(logger *log.Logger, route, event string, h func(c echo.Context, m *requestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx := newRequestMetrics(c.Request().Context(), logger, route, event)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && !c.Response().Committed && errors.As(err, &he) {
				status = he.Code
			}
			m.Log(status, err)
		}()
		return h(c, m)
	}
}
