package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

const storageScopeName = "github.com/crmops/crmctl/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in crmctl.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	rows   metric.Int64Histogram
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("crmctl.storage.operations",
		metric.WithDescription("Total document store operations executed"),
	)
	dur, _ := m.Float64Histogram("crmctl.storage.operation.duration",
		metric.WithDescription("Document store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("crmctl.storage.errors",
		metric.WithDescription("Total document store operation errors"),
	)
	rows, _ := m.Int64Histogram("crmctl.storage.documents",
		metric.WithDescription("Documents returned by list operations"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
		rows:   rows,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time, []attribute.KeyValue) {
	all := append([]attribute.KeyValue{
		attribute.String("db.operation", name),
		attribute.String("db.collection.name", collection),
	}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all[:2]...))
	return ctx, span, time.Now(), all[:2]
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs []attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) listed(ctx context.Context, span trace.Span, n int, attrs []attribute.KeyValue) {
	span.SetAttributes(attribute.Int("crmctl.documents", n))
	s.rows.Record(ctx, int64(n), metric.WithAttributes(attrs...))
}

// ── Tickets ─────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) GetTicket(ctx context.Context, id string) (*types.Ticket, error) {
	ctx, span, t, attrs := s.op(ctx, "GetTicket", types.CollectionTickets, attribute.String("crmctl.document.id", id))
	v, err := s.inner.GetTicket(ctx, id)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) ListTickets(ctx context.Context, filter types.TicketFilter) ([]*types.Ticket, error) {
	ctx, span, t, attrs := s.op(ctx, "ListTickets", types.CollectionTickets,
		attribute.String("crmctl.filter.status", string(filter.Status)),
		attribute.Bool("crmctl.filter.unassigned", filter.Unassigned),
		attribute.Int("crmctl.filter.limit", filter.Limit),
	)
	v, err := s.inner.ListTickets(ctx, filter)
	s.listed(ctx, span, len(v), attrs)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) CreateTicket(ctx context.Context, tk *types.Ticket) error {
	ctx, span, t, attrs := s.op(ctx, "CreateTicket", types.CollectionTickets)
	err := s.inner.CreateTicket(ctx, tk)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) UpdateTicket(ctx context.Context, id string, updates map[string]interface{}) error {
	ctx, span, t, attrs := s.op(ctx, "UpdateTicket", types.CollectionTickets,
		attribute.String("crmctl.document.id", id),
		attribute.Int("crmctl.update.count", len(updates)),
	)
	err := s.inner.UpdateTicket(ctx, id, updates)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) DeleteTicket(ctx context.Context, id string) error {
	ctx, span, t, attrs := s.op(ctx, "DeleteTicket", types.CollectionTickets, attribute.String("crmctl.document.id", id))
	err := s.inner.DeleteTicket(ctx, id)
	s.done(ctx, span, t, err, attrs)
	return err
}

// ── Messages ────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) ListMessages(ctx context.Context, filter types.MessageFilter) ([]*types.Message, error) {
	ctx, span, t, attrs := s.op(ctx, "ListMessages", types.CollectionMessages,
		attribute.String("crmctl.filter.ticket_id", filter.TicketID),
	)
	v, err := s.inner.ListMessages(ctx, filter)
	s.listed(ctx, span, len(v), attrs)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) CreateMessage(ctx context.Context, m *types.Message) error {
	ctx, span, t, attrs := s.op(ctx, "CreateMessage", types.CollectionMessages)
	err := s.inner.CreateMessage(ctx, m)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) DeleteMessage(ctx context.Context, id string) error {
	ctx, span, t, attrs := s.op(ctx, "DeleteMessage", types.CollectionMessages, attribute.String("crmctl.document.id", id))
	err := s.inner.DeleteMessage(ctx, id)
	s.done(ctx, span, t, err, attrs)
	return err
}

// ── Agents ──────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	ctx, span, t, attrs := s.op(ctx, "GetAgent", types.CollectionAgents, attribute.String("crmctl.document.id", id))
	v, err := s.inner.GetAgent(ctx, id)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	ctx, span, t, attrs := s.op(ctx, "ListAgents", types.CollectionAgents,
		attribute.String("crmctl.filter.type", string(filter.Type)),
	)
	v, err := s.inner.ListAgents(ctx, filter)
	s.listed(ctx, span, len(v), attrs)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) CreateAgent(ctx context.Context, a *types.Agent) error {
	ctx, span, t, attrs := s.op(ctx, "CreateAgent", types.CollectionAgents)
	err := s.inner.CreateAgent(ctx, a)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) UpdateAgent(ctx context.Context, id string, updates map[string]interface{}) error {
	ctx, span, t, attrs := s.op(ctx, "UpdateAgent", types.CollectionAgents,
		attribute.String("crmctl.document.id", id),
		attribute.Int("crmctl.update.count", len(updates)),
	)
	err := s.inner.UpdateAgent(ctx, id, updates)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) DeleteAgent(ctx context.Context, id string) error {
	ctx, span, t, attrs := s.op(ctx, "DeleteAgent", types.CollectionAgents, attribute.String("crmctl.document.id", id))
	err := s.inner.DeleteAgent(ctx, id)
	s.done(ctx, span, t, err, attrs)
	return err
}

// ── Interactions ────────────────────────────────────────────────────────────

func (s *InstrumentedStore) ListInteractions(ctx context.Context, filter types.InteractionFilter) ([]*types.AgentInteraction, error) {
	ctx, span, t, attrs := s.op(ctx, "ListInteractions", types.CollectionInteractions)
	v, err := s.inner.ListInteractions(ctx, filter)
	s.listed(ctx, span, len(v), attrs)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) CreateInteraction(ctx context.Context, i *types.AgentInteraction) error {
	ctx, span, t, attrs := s.op(ctx, "CreateInteraction", types.CollectionInteractions,
		attribute.String("crmctl.interaction.kind", string(i.Kind)),
	)
	err := s.inner.CreateInteraction(ctx, i)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) UpdateInteraction(ctx context.Context, id string, updates map[string]interface{}) error {
	ctx, span, t, attrs := s.op(ctx, "UpdateInteraction", types.CollectionInteractions, attribute.String("crmctl.document.id", id))
	err := s.inner.UpdateInteraction(ctx, id, updates)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) DeleteInteraction(ctx context.Context, id string) error {
	ctx, span, t, attrs := s.op(ctx, "DeleteInteraction", types.CollectionInteractions, attribute.String("crmctl.document.id", id))
	err := s.inner.DeleteInteraction(ctx, id)
	s.done(ctx, span, t, err, attrs)
	return err
}

// ── Raw documents ───────────────────────────────────────────────────────────

func (s *InstrumentedStore) GetDocument(ctx context.Context, collection, id string) (*storage.Document, error) {
	ctx, span, t, attrs := s.op(ctx, "GetDocument", collection, attribute.String("crmctl.document.id", id))
	v, err := s.inner.GetDocument(ctx, collection, id)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) ListDocuments(ctx context.Context, collection string, limit int) ([]storage.Document, error) {
	ctx, span, t, attrs := s.op(ctx, "ListDocuments", collection, attribute.Int("crmctl.filter.limit", limit))
	v, err := s.inner.ListDocuments(ctx, collection, limit)
	s.listed(ctx, span, len(v), attrs)
	s.done(ctx, span, t, err, attrs)
	return v, err
}

func (s *InstrumentedStore) CreateDocument(ctx context.Context, collection, id string, data map[string]interface{}) error {
	ctx, span, t, attrs := s.op(ctx, "CreateDocument", collection, attribute.String("crmctl.document.id", id))
	err := s.inner.CreateDocument(ctx, collection, id, data)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) UpdateDocument(ctx context.Context, collection, id string, set map[string]interface{}, remove []string) error {
	ctx, span, t, attrs := s.op(ctx, "UpdateDocument", collection,
		attribute.String("crmctl.document.id", id),
		attribute.Int("crmctl.update.count", len(set)),
		attribute.Int("crmctl.remove.count", len(remove)),
	)
	err := s.inner.UpdateDocument(ctx, collection, id, set, remove)
	s.done(ctx, span, t, err, attrs)
	return err
}

func (s *InstrumentedStore) DeleteDocument(ctx context.Context, collection, id string) error {
	ctx, span, t, attrs := s.op(ctx, "DeleteDocument", collection, attribute.String("crmctl.document.id", id))
	err := s.inner.DeleteDocument(ctx, collection, id)
	s.done(ctx, span, t, err, attrs)
	return err
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
