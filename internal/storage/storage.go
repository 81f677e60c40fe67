// Package storage defines the document store interface crmctl reads and
// repairs the CRM's Firestore data through.
//
// The firestore sub-package talks to a real project (or the emulator); the
// memory sub-package keeps documents in-process for tests and dry runs. Both
// store documents in the same shape: field names from the firestore tags on
// the types package, document IDs kept outside the data.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/crmops/crmctl/internal/types"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a document whose ID is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrInvalidCollection is returned by the raw document methods for a
// collection crmctl does not know about.
var ErrInvalidCollection = errors.New("invalid collection")

// Document is a raw document: its ID plus every field as stored, including
// fields the typed structs do not model.
type Document struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// Has reports whether the document carries field at the top level.
func (d Document) Has(field string) bool {
	_, ok := d.Data[field]
	return ok
}

// String returns a field as a string, or "" when missing or not a string.
func (d Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Store is the interface satisfied by *firestore.Store and *memory.Store.
//
// Create methods use the ID already set on the value, or generate a UUID when
// it is empty, and write the final ID back. Update methods take a map of
// top-level field name to value and fail with ErrNotFound when the document
// does not exist. Delete methods also fail with ErrNotFound on a missing
// document so repairs can report accurately.
type Store interface {
	// Tickets
	GetTicket(ctx context.Context, id string) (*types.Ticket, error)
	ListTickets(ctx context.Context, filter types.TicketFilter) ([]*types.Ticket, error)
	CreateTicket(ctx context.Context, t *types.Ticket) error
	UpdateTicket(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteTicket(ctx context.Context, id string) error

	// Messages
	ListMessages(ctx context.Context, filter types.MessageFilter) ([]*types.Message, error)
	CreateMessage(ctx context.Context, m *types.Message) error
	DeleteMessage(ctx context.Context, id string) error

	// Agents
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error)
	CreateAgent(ctx context.Context, a *types.Agent) error
	UpdateAgent(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteAgent(ctx context.Context, id string) error

	// Agent interactions
	ListInteractions(ctx context.Context, filter types.InteractionFilter) ([]*types.AgentInteraction, error)
	CreateInteraction(ctx context.Context, i *types.AgentInteraction) error
	UpdateInteraction(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteInteraction(ctx context.Context, id string) error

	// Raw documents, for schema repairs that must see fields the typed
	// structs drop.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	ListDocuments(ctx context.Context, collection string, limit int) ([]Document, error)
	CreateDocument(ctx context.Context, collection, id string, data map[string]interface{}) error
	UpdateDocument(ctx context.Context, collection, id string, set map[string]interface{}, remove []string) error
	DeleteDocument(ctx context.Context, collection, id string) error

	// Lifecycle
	Close() error
}

// CheckCollection returns ErrInvalidCollection (wrapped with the name) for an
// unknown collection.
func CheckCollection(name string) error {
	if !types.IsKnownCollection(name) {
		return fmt.Errorf("%w: %q (known: %v)", ErrInvalidCollection, name, types.Collections)
	}
	return nil
}

// NotFound wraps ErrNotFound with the collection and document ID.
func NotFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
}

// AlreadyExists wraps ErrAlreadyExists with the collection and document ID.
func AlreadyExists(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
}
