// Package seed generates and removes test data in the CRM document store.
//
// Generated data is deterministic for a given random seed and base time, so
// two runs with the same flags produce the same IDs. Seeded tickets carry the
// tag "seed" and seeded agents are named "Seed ..."; Clean removes exactly
// those records plus the messages and interactions that hang off them.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

const (
	// Tag marks seeded tickets.
	Tag = "seed"
	// AgentPrefix starts the name of every seeded agent.
	AgentPrefix = "Seed "
	// Instance is the Evolution instance name written on seeded tickets.
	Instance = "seed"
)

// Options controls the size and shape of the generated data.
type Options struct {
	Agents            int
	Tickets           int
	MessagesPerTicket int
	RandSeed          int64
	// Now is the newest timestamp generated. Defaults to the current time.
	Now time.Time
}

// DefaultOptions is a small but varied dataset.
func DefaultOptions() Options {
	return Options{Agents: 4, Tickets: 12, MessagesPerTicket: 4, RandSeed: 1}
}

// Dataset is what Generate produces.
type Dataset struct {
	Agents   []*types.Agent   `json:"agents"`
	Tickets  []*types.Ticket  `json:"tickets"`
	Messages []*types.Message `json:"messages"`
}

var (
	firstNames = []string{"Ana", "Bruno", "Carla", "Diego", "Elisa", "Fábio", "Gabriela", "Heitor", "Isabela", "João", "Larissa", "Marcos"}
	lastNames  = []string{"Silva", "Souza", "Oliveira", "Santos", "Pereira", "Lima", "Costa", "Ferreira"}
	agentNames = []string{"Atendimento", "Vendas", "Suporte", "Financeiro", "Triagem", "Retenção"}
	depts      = []string{"vendas", "suporte", "financeiro"}
	priorities = []string{"low", "medium", "high", "urgent"}
	statuses   = []types.TicketStatus{types.TicketOpen, types.TicketOpen, types.TicketPending, types.TicketInProgress, types.TicketResolved, types.TicketClosed}

	customerLines = []string{
		"Olá, preciso de ajuda com meu pedido",
		"Qual o prazo de entrega?",
		"Não recebi o boleto",
		"Gostaria de cancelar a assinatura",
		"O produto chegou com defeito",
		"Vocês abrem no sábado?",
	}
	agentLines = []string{
		"Olá! Vou verificar para você.",
		"Pode me informar o número do pedido?",
		"Já encaminhei para o setor responsável.",
		"Obrigado pela paciência, resolvido!",
	}
)

type generator struct {
	rng *rand.Rand
}

func (g *generator) id() string {
	u, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// rand.Rand never fails to read.
		panic(err)
	}
	return u.String()
}

func (g *generator) pick(items []string) string {
	return items[g.rng.Intn(len(items))]
}

func (g *generator) phone() string {
	return fmt.Sprintf("55%02d9%08d", 11+g.rng.Intn(89), g.rng.Intn(100000000))
}

// Generate builds a dataset. It does not touch any store.
func Generate(opts Options) (*Dataset, error) {
	if opts.Agents < 0 || opts.Tickets < 0 || opts.MessagesPerTicket < 0 {
		return nil, fmt.Errorf("counts cannot be negative")
	}
	if opts.Tickets > 0 && opts.Agents == 0 {
		return nil, fmt.Errorf("seeding tickets needs at least one agent")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Second)
	g := &generator{rng: rand.New(rand.NewSource(opts.RandSeed))} //nolint:gosec // test data

	ds := &Dataset{}
	for i := 0; i < opts.Agents; i++ {
		a := &types.Agent{
			ID:          g.id(),
			Active:      true,
			Departments: []string{depts[i%len(depts)]},
			CreatedAt:   now.Add(-30 * 24 * time.Hour),
			UpdatedAt:   now.Add(-30 * 24 * time.Hour),
		}
		// Every third agent is an AI responder.
		if i%3 == 2 {
			a.Type = types.AgentAI
			a.Name = fmt.Sprintf("%sBot %s", AgentPrefix, agentNames[i%len(agentNames)])
			a.AutoResponse = true
			a.Skills = []string{"faq"}
		} else {
			a.Type = types.AgentHuman
			a.Name = fmt.Sprintf("%s%s %s", AgentPrefix, g.pick(firstNames), g.pick(lastNames))
			a.Email = fmt.Sprintf("seed.agent%d@example.com", i+1)
			a.Status = []types.AgentStatus{types.AgentOnline, types.AgentOnline, types.AgentAway}[g.rng.Intn(3)]
			a.MaxConcurrentTickets = 5 + g.rng.Intn(6)
		}
		ds.Agents = append(ds.Agents, a)
	}

	for i := 0; i < opts.Tickets; i++ {
		created := now.Add(-time.Duration(opts.Tickets-i) * time.Hour).Add(-time.Duration(g.rng.Intn(3600)) * time.Second)
		phone := g.phone()
		t := &types.Ticket{
			ID:           g.id(),
			ContactName:  g.pick(firstNames) + " " + g.pick(lastNames),
			ContactPhone: phone,
			RemoteJID:    types.JIDFromPhone(phone),
			InstanceName: Instance,
			Channel:      "whatsapp",
			Status:       statuses[g.rng.Intn(len(statuses))],
			Priority:     g.pick(priorities),
			Department:   g.pick(depts),
			Tags:         []string{Tag},
			CreatedAt:    created,
			UpdatedAt:    created,
		}
		if t.Status != types.TicketOpen {
			a := ds.Agents[g.rng.Intn(len(ds.Agents))]
			t.AssignedAgentID = a.ID
			t.AssignedAgentType = a.Type
		}

		for j := 0; j < opts.MessagesPerTicket; j++ {
			ts := created.Add(time.Duration(j+1) * time.Minute)
			m := &types.Message{
				ID:           g.id(),
				TicketID:     t.ID,
				Type:         "text",
				Status:       types.MessageDelivered,
				InstanceName: Instance,
				Timestamp:    ts,
			}
			if j%2 == 0 {
				m.Sender = types.SenderCustomer
				m.Content = g.pick(customerLines)
				m.Status = types.MessageRead
			} else {
				m.Sender = types.SenderAgent
				if t.AssignedAgentType == types.AgentAI {
					m.Sender = types.SenderAI
				}
				m.FromMe = true
				m.Content = g.pick(agentLines)
			}
			ds.Messages = append(ds.Messages, m)
			t.LastMessage = m.Content
			t.LastMessageAt = &m.Timestamp
			t.UpdatedAt = ts
			if m.Sender == types.SenderCustomer {
				t.UnreadCount++
			} else {
				t.UnreadCount = 0
			}
		}
		ds.Tickets = append(ds.Tickets, t)
	}
	return ds, nil
}

// Write stores a dataset. It stops at the first error.
func Write(ctx context.Context, store storage.Store, ds *Dataset) error {
	for _, a := range ds.Agents {
		if err := store.CreateAgent(ctx, a); err != nil {
			return fmt.Errorf("create agent %s: %w", a.ID, err)
		}
	}
	for _, t := range ds.Tickets {
		if err := store.CreateTicket(ctx, t); err != nil {
			return fmt.Errorf("create ticket %s: %w", t.ID, err)
		}
	}
	for _, m := range ds.Messages {
		if err := store.CreateMessage(ctx, m); err != nil {
			return fmt.Errorf("create message %s: %w", m.ID, err)
		}
	}
	debug.Logger().Info("seeded data",
		zap.Int("agents", len(ds.Agents)),
		zap.Int("tickets", len(ds.Tickets)),
		zap.Int("messages", len(ds.Messages)))
	return nil
}

// CleanResult lists the records Clean removed, or would remove.
type CleanResult struct {
	Applied      bool     `json:"applied"`
	Agents       []string `json:"agents"`
	Tickets      []string `json:"tickets"`
	Messages     []string `json:"messages"`
	Interactions []string `json:"interactions"`
	// KeptAgents are seeded agents left in place because tickets outside
	// the seed still have them assigned.
	KeptAgents []string `json:"keptAgents,omitempty"`
}

// Total is the number of records involved.
func (r *CleanResult) Total() int {
	return len(r.Agents) + len(r.Tickets) + len(r.Messages) + len(r.Interactions)
}

// IsSeeded reports whether an agent was created by Generate.
func IsSeeded(a *types.Agent) bool {
	return strings.HasPrefix(a.Name, AgentPrefix)
}

// Clean finds seeded records and, when apply is set, deletes them:
// messages and interactions first, then tickets, then agents. A seeded agent
// still assigned to a ticket outside the seed is kept and listed in
// KeptAgents, along with its interactions on those tickets.
func Clean(ctx context.Context, store storage.Store, apply bool) (*CleanResult, error) {
	res := &CleanResult{Applied: apply}

	tickets, err := store.ListTickets(ctx, types.TicketFilter{Tag: Tag})
	if err != nil {
		return nil, fmt.Errorf("list seeded tickets: %w", err)
	}
	seededTickets := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		seededTickets[t.ID] = true
		res.Tickets = append(res.Tickets, t.ID)
	}

	agents, err := store.ListAgents(ctx, types.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	seededAgents := make(map[string]bool)
	for _, a := range agents {
		if !IsSeeded(a) {
			continue
		}
		assigned, err := store.ListTickets(ctx, types.TicketFilter{AssignedAgentID: a.ID})
		if err != nil {
			return nil, fmt.Errorf("list tickets of %s: %w", a.ID, err)
		}
		inUse := false
		for _, t := range assigned {
			if !seededTickets[t.ID] {
				inUse = true
				break
			}
		}
		if inUse {
			debug.Logger().Warn("keeping seeded agent assigned outside the seed",
				zap.String("agent_id", a.ID), zap.String("name", a.Name))
			res.KeptAgents = append(res.KeptAgents, a.ID)
			continue
		}
		seededAgents[a.ID] = true
		res.Agents = append(res.Agents, a.ID)
	}

	for _, t := range tickets {
		msgs, err := store.ListMessages(ctx, types.MessageFilter{TicketID: t.ID})
		if err != nil {
			return nil, fmt.Errorf("list messages of %s: %w", t.ID, err)
		}
		for _, m := range msgs {
			res.Messages = append(res.Messages, m.ID)
		}
	}

	inter, err := store.ListInteractions(ctx, types.InteractionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	for _, i := range inter {
		if seededTickets[i.TicketID] || seededAgents[i.AgentID] {
			res.Interactions = append(res.Interactions, i.ID)
		}
	}

	if !apply {
		return res, nil
	}
	for _, id := range res.Messages {
		if err := store.DeleteMessage(ctx, id); err != nil {
			return res, fmt.Errorf("delete message %s: %w", id, err)
		}
	}
	for _, id := range res.Interactions {
		if err := store.DeleteInteraction(ctx, id); err != nil {
			return res, fmt.Errorf("delete interaction %s: %w", id, err)
		}
	}
	for _, id := range res.Tickets {
		if err := store.DeleteTicket(ctx, id); err != nil {
			return res, fmt.Errorf("delete ticket %s: %w", id, err)
		}
	}
	for _, id := range res.Agents {
		if err := store.DeleteAgent(ctx, id); err != nil {
			return res, fmt.Errorf("delete agent %s: %w", id, err)
		}
	}
	return res, nil
}
