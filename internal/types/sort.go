package types

import (
	"sort"
	"strings"
	"time"
)

// TicketSortField names a ticket attribute listings can be ordered by.
type TicketSortField string

const (
	SortFieldCreated     TicketSortField = "created"
	SortFieldUpdated     TicketSortField = "updated"
	SortFieldLastMessage TicketSortField = "last-message"
	SortFieldPriority    TicketSortField = "priority"
	SortFieldContact     TicketSortField = "contact"
)

// SortDirection is ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// TicketSortOption is one key of a multi-key ticket ordering.
type TicketSortOption struct {
	Field     TicketSortField
	Direction SortDirection
}

// DefaultTicketSortOptions orders newest tickets first.
func DefaultTicketSortOptions() []TicketSortOption {
	return []TicketSortOption{
		{Field: SortFieldCreated, Direction: SortDesc},
	}
}

// ParseTicketSortOrder converts a comma-delimited string (e.g.
// "priority-asc,created-desc") into sort options. Unrecognised fields or
// directions are skipped, as are repeated fields.
func ParseTicketSortOrder(raw string) []TicketSortOption {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	options := make([]TicketSortOption, 0, len(parts))
	seen := make(map[TicketSortField]bool)

	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		field, dir := splitSortToken(token)
		sortField := mapSortField(field)
		if sortField == "" {
			continue
		}
		direction := mapSortDirection(dir)
		if direction == "" {
			continue
		}
		if seen[sortField] {
			continue
		}
		seen[sortField] = true

		options = append(options, TicketSortOption{Field: sortField, Direction: direction})
	}

	return options
}

// splitSortToken splits "field-dir" or "field:dir" on the last separator so
// that "last-message-desc" keeps its field name intact. A bare field sorts
// ascending.
func splitSortToken(token string) (string, string) {
	token = strings.ToLower(token)
	if idx := strings.LastIndexAny(token, ":-"); idx >= 0 {
		left := strings.TrimSpace(token[:idx])
		right := strings.TrimSpace(token[idx+1:])
		if mapSortDirection(right) != "" {
			return left, right
		}
	}
	return token, "asc"
}

func mapSortField(raw string) TicketSortField {
	switch strings.ToLower(raw) {
	case "created", "createdat", "created_at":
		return SortFieldCreated
	case "updated", "updatedat", "updated_at":
		return SortFieldUpdated
	case "last-message", "lastmessage", "lastmessageat", "last_message":
		return SortFieldLastMessage
	case "priority":
		return SortFieldPriority
	case "contact", "name", "contactname":
		return SortFieldContact
	default:
		return ""
	}
}

func mapSortDirection(raw string) SortDirection {
	switch strings.ToLower(raw) {
	case "asc", "ascending":
		return SortAsc
	case "desc", "descending":
		return SortDesc
	default:
		return ""
	}
}

// priorityRank maps CRM priority labels to an order; unknown labels sort last.
func priorityRank(p string) int {
	switch strings.ToLower(p) {
	case "urgent":
		return 0
	case "high":
		return 1
	case "medium", "normal":
		return 2
	case "low":
		return 3
	default:
		return 4
	}
}

func compareTickets(a, b *Ticket, field TicketSortField) int {
	switch field {
	case SortFieldCreated:
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case SortFieldUpdated:
		return compareTimes(a.UpdatedAt, b.UpdatedAt)
	case SortFieldLastMessage:
		var ta, tb time.Time
		if a.LastMessageAt != nil {
			ta = *a.LastMessageAt
		}
		if b.LastMessageAt != nil {
			tb = *b.LastMessageAt
		}
		return compareTimes(ta, tb)
	case SortFieldPriority:
		return priorityRank(a.Priority) - priorityRank(b.Priority)
	case SortFieldContact:
		return strings.Compare(strings.ToLower(a.ContactName), strings.ToLower(b.ContactName))
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// SortTickets orders tickets in place by opts, falling back to ID for a
// stable result.
func SortTickets(tickets []*Ticket, opts []TicketSortOption) {
	if len(opts) == 0 {
		opts = DefaultTicketSortOptions()
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		for _, opt := range opts {
			c := compareTickets(tickets[i], tickets[j], opt.Field)
			if c == 0 {
				continue
			}
			if opt.Direction == SortDesc {
				return c > 0
			}
			return c < 0
		}
		return tickets[i].ID < tickets[j].ID
	})
}

// SortTicketsNewestFirst is the default listing order.
func SortTicketsNewestFirst(tickets []*Ticket) {
	SortTickets(tickets, DefaultTicketSortOptions())
}

// SortMessagesChronological orders a conversation oldest first.
func SortMessagesChronological(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// SortAgentsByName orders agents case-insensitively by name, then ID.
func SortAgentsByName(agents []*Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := strings.ToLower(agents[i].Name), strings.ToLower(agents[j].Name)
		if a != b {
			return a < b
		}
		return agents[i].ID < agents[j].ID
	})
}

// SortInteractionsNewestFirst orders audit records most recent first.
func SortInteractionsNewestFirst(items []*AgentInteraction) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
