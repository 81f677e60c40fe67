package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const commandScopeName = "github.com/crmops/crmctl/cmd"

// Resource attribute keys describing which deployment crmctl operated on.
const (
	AttrFirebaseProject   = attribute.Key("crmctl.firebase.project_id")
	AttrEvolutionInstance = attribute.Key("crmctl.evolution.instance")
	AttrOutboundQueue     = attribute.Key("crmctl.rabbitmq.outbound_queue")
)

// Deployment identifies the CRM deployment a run targets.
type Deployment struct {
	FirebaseProject   string
	EvolutionInstance string
	OutboundQueue     string
}

// Attributes returns the non-empty fields as resource attributes.
func (d Deployment) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if d.FirebaseProject != "" {
		attrs = append(attrs, AttrFirebaseProject.String(d.FirebaseProject))
	}
	if d.EvolutionInstance != "" {
		attrs = append(attrs, AttrEvolutionInstance.String(d.EvolutionInstance))
	}
	if d.OutboundQueue != "" {
		attrs = append(attrs, AttrOutboundQueue.String(d.OutboundQueue))
	}
	return attrs
}

// CommandRun is one instrumented crmctl invocation.
type CommandRun struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

// StartCommand opens the root span of a command. apply marks runs that were
// allowed to write.
func StartCommand(ctx context.Context, path string, apply bool) (context.Context, *CommandRun) {
	attrs := []attribute.KeyValue{
		attribute.String("crmctl.command", path),
		attribute.Bool("crmctl.apply", apply),
	}
	ctx, span := Tracer(commandScopeName).Start(ctx, path, trace.WithAttributes(attrs...))
	return ctx, &CommandRun{ctx: ctx, span: span, start: time.Now(), attrs: attrs}
}

// End records the run in crmctl.command.runs and crmctl.command.duration
// and closes the span. A nil run is ignored.
func (r *CommandRun) End(err error) {
	if r == nil {
		return
	}
	m := Meter(commandScopeName)
	runs, _ := m.Int64Counter("crmctl.command.runs",
		metric.WithDescription("crmctl invocations by command and outcome"),
	)
	dur, _ := m.Float64Histogram("crmctl.command.duration",
		metric.WithDescription("Wall time of a crmctl invocation"),
		metric.WithUnit("ms"),
	)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	attrs := append(r.attrs, attribute.String("crmctl.outcome", outcome))
	runs.Add(r.ctx, 1, metric.WithAttributes(attrs...))
	dur.Record(r.ctx, float64(time.Since(r.start).Milliseconds()), metric.WithAttributes(attrs...))
	r.span.End()
}
