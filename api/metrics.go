package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "github.com/galsolomon2002/gamified-todo-app/api"
	requestSpanName    = "ledger.http.request"
	requestEventName   = "ledger.request.completed"
	requestEventDomain = "ledger.api"
	observabilityEvent = "observability.event"
	attrPrefix         = "ledger.request."
)

// requestMetrics records one API request as a span plus a structured log entry.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	method         string
	route          string
	authDuration   time.Duration
	ledgerDuration time.Duration
	tasksReturned  int
	errorStage     string
	err            error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		method:        method,
		route:         route,
		tasksReturned: -1,
	}, spanCtx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveLedger(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.ledgerDuration += d
}

func (m *requestMetrics) SetTasksReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.tasksReturned = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// SetError keeps a failure that was already written as a response.
func (m *requestMetrics) SetError(err error) {
	if m == nil || err == nil {
		return
	}
	m.err = err
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}
	severityText, severityNumber := severityForStatus(status, err)

	var a attrSet
	a.setString("http.method", m.method)
	a.setString("http.route", m.route)
	a.setInt("http.status_code", status)
	a.setFloat(attrPrefix+"total_ms", durationToMillis(time.Since(m.start)))
	if m.authDuration > 0 {
		a.setFloat(attrPrefix+"auth_ms", durationToMillis(m.authDuration))
	}
	if m.ledgerDuration > 0 {
		a.setFloat(attrPrefix+"ledger_ms", durationToMillis(m.ledgerDuration))
	}
	if m.tasksReturned >= 0 {
		a.setInt(attrPrefix+"tasks_returned", m.tasksReturned)
	}
	if m.errorStage != "" {
		a.setString(attrPrefix+"error_stage", m.errorStage)
	}
	if err != nil {
		a.setString("error.message", err.Error())
	}

	if m.span != nil {
		m.span.SetAttributes(a.kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, a.kvs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		if severityText == "ERROR" {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
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
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      a.fields,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

type attrSet struct {
	kvs    []attribute.KeyValue
	fields map[string]any
}

func (a *attrSet) put(kv attribute.KeyValue, v any) {
	if a.fields == nil {
		a.fields = make(map[string]any)
	}
	a.kvs = append(a.kvs, kv)
	a.fields[string(kv.Key)] = v
}

func (a *attrSet) setString(k, v string) { a.put(attribute.String(k, v), v) }

func (a *attrSet) setInt(k string, v int) { a.put(attribute.Int(k, v), v) }

func (a *attrSet) setFloat(k string, v float64) { a.put(attribute.Float64(k, v), v) }

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
