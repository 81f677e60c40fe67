// Package memory is an in-process storage.Store.
//
// Documents are kept as maps in the shape Firestore returns them, so raw
// document repairs behave the same way here as against a real project.
// Timestamps are stored as RFC 3339 strings.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

// Store implements storage.Store in memory. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	colls map[string]map[string]map[string]interface{}
	newID func() string
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	colls := make(map[string]map[string]map[string]interface{}, len(types.Collections))
	for _, c := range types.Collections {
		colls[c] = make(map[string]map[string]interface{})
	}
	return &Store{colls: colls, newID: types.NewID}
}

// WithIDGenerator replaces the UUID generator. Seeding uses it for
// reproducible IDs.
func (s *Store) WithIDGenerator(fn func() string) *Store {
	s.newID = fn
	return s
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colls[collection])
}

func (s *Store) Close() error { return nil }

// toMap converts a typed document into its stored form.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	return m, nil
}

// fromMap decodes a stored document into v and sets its ID.
func fromMap(id string, m map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding document %s: %w", id, err)
	}
	return nil
}

// normalize round-trips a single field value through JSON so that update
// values (time.Time, typed strings, slices) are stored like created ones.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) create(collection, id string, v interface{}) (string, error) {
	m, err := toMap(v)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.newID()
	}
	if _, exists := s.colls[collection][id]; exists {
		return "", storage.AlreadyExists(collection, id)
	}
	s.colls[collection][id] = m
	return id, nil
}

func (s *Store) get(collection, id string, v interface{}) error {
	s.mu.RLock()
	m, ok := s.colls[collection][id]
	s.mu.RUnlock()
	if !ok {
		return storage.NotFound(collection, id)
	}
	return fromMap(id, m, v)
}

func (s *Store) update(collection, id string, set map[string]interface{}, remove []string) error {
	normalized := make(map[string]interface{}, len(set))
	for k, val := range set {
		n, err := normalize(val)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		normalized[k] = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.colls[collection][id]
	if !ok {
		return storage.NotFound(collection, id)
	}
	for k, val := range normalized {
		m[k] = val
	}
	for _, k := range remove {
		delete(m, k)
	}
	return nil
}

func (s *Store) delete(collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[collection][id]; !ok {
		return storage.NotFound(collection, id)
	}
	delete(s.colls[collection], id)
	return nil
}

// each decodes every document of a collection, in ID order, calling fn for
// each one.
func (s *Store) each(collection string, decode func(id string, m map[string]interface{}) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.colls[collection]))
	for id := range s.colls[collection] {
		ids = append(ids, id)
	}
	docs := make(map[string]map[string]interface{}, len(ids))
	for _, id := range ids {
		docs[id] = copyMap(s.colls[collection][id])
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := decode(id, docs[id]); err != nil {
			return err
		}
	}
	return nil
}

// Tickets

func (s *Store) GetTicket(_ context.Context, id string) (*types.Ticket, error) {
	var t types.Ticket
	if err := s.get(types.CollectionTickets, id, &t); err != nil {
		return nil, err
	}
	t.ID = id
	return &t, nil
}

func (s *Store) ListTickets(_ context.Context, filter types.TicketFilter) ([]*types.Ticket, error) {
	var out []*types.Ticket
	err := s.each(types.CollectionTickets, func(id string, m map[string]interface{}) error {
		var t types.Ticket
		if err := fromMap(id, m, &t); err != nil {
			return err
		}
		t.ID = id
		if filter.Matches(&t) {
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	types.SortTicketsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateTicket(_ context.Context, t *types.Ticket) error {
	id, err := s.create(types.CollectionTickets, t.ID, t)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

func (s *Store) UpdateTicket(_ context.Context, id string, updates map[string]interface{}) error {
	return s.update(types.CollectionTickets, id, updates, nil)
}

func (s *Store) DeleteTicket(_ context.Context, id string) error {
	return s.delete(types.CollectionTickets, id)
}

// Messages

func (s *Store) ListMessages(_ context.Context, filter types.MessageFilter) ([]*types.Message, error) {
	var out []*types.Message
	err := s.each(types.CollectionMessages, func(id string, m map[string]interface{}) error {
		var msg types.Message
		if err := fromMap(id, m, &msg); err != nil {
			return err
		}
		msg.ID = id
		if filter.Matches(&msg) {
			out = append(out, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	types.SortMessagesChronological(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, m *types.Message) error {
	id, err := s.create(types.CollectionMessages, m.ID, m)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	return s.delete(types.CollectionMessages, id)
}

// Agents

func (s *Store) GetAgent(_ context.Context, id string) (*types.Agent, error) {
	var a types.Agent
	if err := s.get(types.CollectionAgents, id, &a); err != nil {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

func (s *Store) ListAgents(_ context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	var out []*types.Agent
	err := s.each(types.CollectionAgents, func(id string, m map[string]interface{}) error {
		var a types.Agent
		if err := fromMap(id, m, &a); err != nil {
			return err
		}
		a.ID = id
		if filter.Matches(&a) {
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	types.SortAgentsByName(out)
	return out, nil
}

func (s *Store) CreateAgent(_ context.Context, a *types.Agent) error {
	id, err := s.create(types.CollectionAgents, a.ID, a)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (s *Store) UpdateAgent(_ context.Context, id string, updates map[string]interface{}) error {
	return s.update(types.CollectionAgents, id, updates, nil)
}

func (s *Store) DeleteAgent(_ context.Context, id string) error {
	return s.delete(types.CollectionAgents, id)
}

// Interactions

func (s *Store) ListInteractions(_ context.Context, filter types.InteractionFilter) ([]*types.AgentInteraction, error) {
	var out []*types.AgentInteraction
	err := s.each(types.CollectionInteractions, func(id string, m map[string]interface{}) error {
		var i types.AgentInteraction
		if err := fromMap(id, m, &i); err != nil {
			return err
		}
		i.ID = id
		if filter.Matches(&i) {
			out = append(out, &i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	types.SortInteractionsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateInteraction(_ context.Context, i *types.AgentInteraction) error {
	id, err := s.create(types.CollectionInteractions, i.ID, i)
	if err != nil {
		return err
	}
	i.ID = id
	return nil
}

func (s *Store) UpdateInteraction(_ context.Context, id string, updates map[string]interface{}) error {
	return s.update(types.CollectionInteractions, id, updates, nil)
}

func (s *Store) DeleteInteraction(_ context.Context, id string) error {
	return s.delete(types.CollectionInteractions, id)
}

// Raw documents

func (s *Store) GetDocument(_ context.Context, collection, id string) (*storage.Document, error) {
	if err := storage.CheckCollection(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.colls[collection][id]
	if !ok {
		return nil, storage.NotFound(collection, id)
	}
	return &storage.Document{ID: id, Data: copyMap(m)}, nil
}

func (s *Store) ListDocuments(_ context.Context, collection string, limit int) ([]storage.Document, error) {
	if err := storage.CheckCollection(collection); err != nil {
		return nil, err
	}
	var out []storage.Document
	err := s.each(collection, func(id string, m map[string]interface{}) error {
		if limit > 0 && len(out) >= limit {
			return nil
		}
		out = append(out, storage.Document{ID: id, Data: m})
		return nil
	})
	return out, err
}

func (s *Store) CreateDocument(_ context.Context, collection, id string, data map[string]interface{}) error {
	if err := storage.CheckCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	m := make(map[string]interface{}, len(data))
	for k, val := range data {
		n, err := normalize(val)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		m[k] = n
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.colls[collection][id]; exists {
		return storage.AlreadyExists(collection, id)
	}
	s.colls[collection][id] = m
	return nil
}

func (s *Store) UpdateDocument(_ context.Context, collection, id string, set map[string]interface{}, remove []string) error {
	if err := storage.CheckCollection(collection); err != nil {
		return err
	}
	return s.update(collection, id, set, remove)
}

func (s *Store) DeleteDocument(_ context.Context, collection, id string) error {
	if err := storage.CheckCollection(collection); err != nil {
		return err
	}
	return s.delete(collection, id)
}
