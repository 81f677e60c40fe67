// Package firestore implements storage.Store over Cloud Firestore.
//
// The emulator is used when Options.EmulatorHost (or FIRESTORE_EMULATOR_HOST)
// is set; otherwise credentials come from Options.CredentialsFile or
// Application Default Credentials.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

// EmulatorHostEnv is read by the Firestore client library itself.
const EmulatorHostEnv = "FIRESTORE_EMULATOR_HOST"

// Options configures the client.
type Options struct {
	ProjectID       string
	CredentialsFile string
	EmulatorHost    string
}

// Store is a storage.Store backed by a Firestore client.
type Store struct {
	client *firestore.Client
	newID  func() string
}

var _ storage.Store = (*Store)(nil)

// Open connects to the project. It does not issue any request; use Ping to
// verify connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("firestore: project id is required (set firebase.project-id)")
	}
	if opts.EmulatorHost != "" {
		if err := os.Setenv(EmulatorHostEnv, opts.EmulatorHost); err != nil {
			return nil, fmt.Errorf("firestore: setting %s: %w", EmulatorHostEnv, err)
		}
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" && os.Getenv(EmulatorHostEnv) == "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client for %s: %w", opts.ProjectID, err)
	}
	debug.Logger().Debug("firestore client opened",
		zap.String("project", opts.ProjectID),
		zap.String("emulator", os.Getenv(EmulatorHostEnv)),
	)
	return &Store{client: client, newID: types.NewID}, nil
}

// Ping reads a single ticket document to prove credentials and network work.
func (s *Store) Ping(ctx context.Context) error {
	iter := s.client.Collection(types.CollectionTickets).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// translate maps gRPC status codes onto the storage sentinels.
func translate(err error, collection, id string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return storage.NotFound(collection, id)
	case codes.AlreadyExists:
		return storage.AlreadyExists(collection, id)
	}
	return fmt.Errorf("firestore: %s/%s: %w", collection, id, err)
}

// toUpdates turns a field map into Firestore updates in a stable order.
// FieldPath is used rather than Path so a field name containing a dot is
// treated literally.
func toUpdates(set map[string]interface{}, remove []string) []firestore.Update {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updates := make([]firestore.Update, 0, len(set)+len(remove))
	for _, k := range keys {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: set[k]})
	}
	for _, k := range remove {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: firestore.Delete})
	}
	return updates
}

func (s *Store) get(ctx context.Context, collection, id string, v interface{}) error {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return translate(err, collection, id)
	}
	if err := snap.DataTo(v); err != nil {
		return fmt.Errorf("firestore: decoding %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) create(ctx context.Context, collection, id string, v interface{}) (string, error) {
	if id == "" {
		id = s.newID()
	}
	if _, err := s.client.Collection(collection).Doc(id).Create(ctx, v); err != nil {
		return "", translate(err, collection, id)
	}
	return id, nil
}

func (s *Store) update(ctx context.Context, collection, id string, set map[string]interface{}, remove []string) error {
	updates := toUpdates(set, remove)
	if len(updates) == 0 {
		return nil
	}
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updates)
	return translate(err, collection, id)
}

func (s *Store) delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	return translate(err, collection, id)
}

// query runs q and decodes every document with decode.
func query(ctx context.Context, q firestore.Query, decode func(*firestore.DocumentSnapshot) error) error {
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := decode(snap); err != nil {
			return err
		}
	}
}

// Tickets

func (s *Store) GetTicket(ctx context.Context, id string) (*types.Ticket, error) {
	var t types.Ticket
	if err := s.get(ctx, types.CollectionTickets, id, &t); err != nil {
		return nil, err
	}
	t.ID = id
	return &t, nil
}

// ListTickets pushes equality filters to the server. Combining them with a
// createdAt range or ordering needs a composite index the CRM may not have
// deployed, so Since, ordering and the limit only go to the server when no
// equality filter applies; otherwise they are applied here.
func (s *Store) ListTickets(ctx context.Context, filter types.TicketFilter) ([]*types.Ticket, error) {
	q := s.client.Collection(types.CollectionTickets).Query
	serverSide := true
	if filter.Status != "" {
		q = q.Where("status", "==", string(filter.Status))
		serverSide = false
	}
	if filter.AssignedAgentID != "" {
		q = q.Where("assignedAgentId", "==", filter.AssignedAgentID)
		serverSide = false
	}
	if filter.Tag != "" {
		q = q.Where("tags", "array-contains", filter.Tag)
		serverSide = false
	}
	if filter.Unassigned {
		serverSide = false
	}
	if serverSide {
		if !filter.Since.IsZero() {
			q = q.Where("createdAt", ">=", filter.Since)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
	}

	var out []*types.Ticket
	err := query(ctx, q, func(snap *firestore.DocumentSnapshot) error {
		var t types.Ticket
		if err := snap.DataTo(&t); err != nil {
			return fmt.Errorf("decoding ticket %s: %w", snap.Ref.ID, err)
		}
		t.ID = snap.Ref.ID
		if filter.Matches(&t) {
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: listing tickets: %w", err)
	}
	types.SortTicketsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateTicket(ctx context.Context, t *types.Ticket) error {
	id, err := s.create(ctx, types.CollectionTickets, t.ID, t)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

func (s *Store) UpdateTicket(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.update(ctx, types.CollectionTickets, id, updates, nil)
}

func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	return s.delete(ctx, types.CollectionTickets, id)
}

// Messages

func (s *Store) ListMessages(ctx context.Context, filter types.MessageFilter) ([]*types.Message, error) {
	q := s.client.Collection(types.CollectionMessages).Query
	if filter.TicketID != "" {
		q = q.Where("ticketId", "==", filter.TicketID)
	}
	if !filter.Since.IsZero() && filter.TicketID == "" {
		q = q.Where("timestamp", ">=", filter.Since)
	}

	var out []*types.Message
	err := query(ctx, q, func(snap *firestore.DocumentSnapshot) error {
		var m types.Message
		if err := snap.DataTo(&m); err != nil {
			return fmt.Errorf("decoding message %s: %w", snap.Ref.ID, err)
		}
		m.ID = snap.Ref.ID
		if filter.Matches(&m) {
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: listing messages: %w", err)
	}
	types.SortMessagesChronological(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *types.Message) error {
	id, err := s.create(ctx, types.CollectionMessages, m.ID, m)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.delete(ctx, types.CollectionMessages, id)
}

// Agents

func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var a types.Agent
	if err := s.get(ctx, types.CollectionAgents, id, &a); err != nil {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	q := s.client.Collection(types.CollectionAgents).Query
	if filter.Type != "" {
		q = q.Where("type", "==", string(filter.Type))
	}
	if filter.ActiveOnly {
		q = q.Where("active", "==", true)
	}

	var out []*types.Agent
	err := query(ctx, q, func(snap *firestore.DocumentSnapshot) error {
		var a types.Agent
		if err := snap.DataTo(&a); err != nil {
			return fmt.Errorf("decoding agent %s: %w", snap.Ref.ID, err)
		}
		a.ID = snap.Ref.ID
		if filter.Matches(&a) {
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: listing agents: %w", err)
	}
	types.SortAgentsByName(out)
	return out, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *types.Agent) error {
	id, err := s.create(ctx, types.CollectionAgents, a.ID, a)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (s *Store) UpdateAgent(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.update(ctx, types.CollectionAgents, id, updates, nil)
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.delete(ctx, types.CollectionAgents, id)
}

// Interactions

func (s *Store) ListInteractions(ctx context.Context, filter types.InteractionFilter) ([]*types.AgentInteraction, error) {
	q := s.client.Collection(types.CollectionInteractions).Query
	if filter.AgentID != "" {
		q = q.Where("agentId", "==", filter.AgentID)
	}
	if filter.TicketID != "" {
		q = q.Where("ticketId", "==", filter.TicketID)
	}

	var out []*types.AgentInteraction
	err := query(ctx, q, func(snap *firestore.DocumentSnapshot) error {
		var i types.AgentInteraction
		if err := snap.DataTo(&i); err != nil {
			return fmt.Errorf("decoding interaction %s: %w", snap.Ref.ID, err)
		}
		i.ID = snap.Ref.ID
		out = append(out, &i)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: listing interactions: %w", err)
	}
	types.SortInteractionsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateInteraction(ctx context.Context, i *types.AgentInteraction) error {
	id, err := s.create(ctx, types.CollectionInteractions, i.ID, i)
	if err != nil {
		return err
	}
	i.ID = id
	return nil
}

func (s *Store) UpdateInteraction(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.update(ctx, types.CollectionInteractions, id, updates, nil)
}

func (s *Store) DeleteInteraction(ctx context.Context, id string) error {
	return s.delete(ctx, types.CollectionInteractions, id)
}

// Raw documents

func (s *Store) GetDocument(ctx context.Context, collection, id string) (*storage.Document, error) {
	if err := storage.CheckCollection(collection); err != nil {
		return nil, err
	}
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, translate(err, collection, id)
	}
	return &storage.Document{ID: id, Data: snap.Data()}, nil
}

func (s *Store) ListDocuments(ctx context.Context, collection string, limit int) ([]storage.Document, error) {
	if err := storage.CheckCollection(collection); err != nil {
		return nil, err
	}
	q := s.client.Collection(collection).OrderBy(firestore.DocumentID, firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []storage.Document
	err := query(ctx, q, func(snap *firestore.DocumentSnapshot) error {
		out = append(out, storage.Document{ID: snap.Ref.ID, Data: snap.Data()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("firestore: listing %s: %w", collection, err)
	}
	return out, nil
}

func (s *Store) CreateDocument(ctx context.Context, collection, id string, data map[string]interface{}) error {
	if err := storage.CheckCollection(collection); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("document id is required")
	}
	_, err := s.client.Collection(collection).Doc(id).Create(ctx, data)
	return translate(err, collection, id)
}

func (s *Store) UpdateDocument(ctx context.Context, collection, id string, set map[string]interface{}, remove []string) error {
	if err := storage.CheckCollection(collection); err != nil {
		return err
	}
	return s.update(ctx, collection, id, set, remove)
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := storage.CheckCollection(collection); err != nil {
		return err
	}
	return s.delete(ctx, collection, id)
}
