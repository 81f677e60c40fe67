package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const httpScopeName = "github.com/crmops/crmctl/http"

// HTTPRequest is an in-flight instrumented outbound request. The zero-cost
// path when telemetry is off still goes through the no-op providers.
type HTTPRequest struct {
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

// StartHTTP opens a client span for an outbound call to service (evolution,
// crm, ...).
func StartHTTP(ctx context.Context, service, method, path string) (context.Context, *HTTPRequest) {
	attrs := []attribute.KeyValue{
		attribute.String("crmctl.service", service),
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	}
	ctx, span := Tracer(httpScopeName).Start(ctx, service+" "+method,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	return ctx, &HTTPRequest{span: span, start: time.Now(), attrs: attrs}
}

// End records status, retry count, duration and error, then closes the span.
func (r *HTTPRequest) End(ctx context.Context, status, attempts int, err error) {
	m := Meter(httpScopeName)
	reqs, _ := m.Int64Counter("crmctl.http.requests",
		metric.WithDescription("Outbound HTTP requests by service and status"),
	)
	dur, _ := m.Float64Histogram("crmctl.http.duration",
		metric.WithDescription("Outbound HTTP request duration including retries"),
		metric.WithUnit("ms"),
	)

	attrs := append(r.attrs, attribute.Int("http.response.status_code", status))
	r.span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Int("crmctl.http.attempts", attempts),
	)
	reqs.Add(ctx, 1, metric.WithAttributes(attrs...))
	dur.Record(ctx, float64(time.Since(r.start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.span.End()
}
