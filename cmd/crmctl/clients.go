package main

import (
	"context"
	"sync"
	"time"

	"github.com/crmops/crmctl/internal/assign"
	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/crmapi"
	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/httpx"
	"github.com/crmops/crmctl/internal/queue"
	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/storage/firestore"
	"github.com/crmops/crmctl/internal/telemetry"
)

// evoAIStore is the subset of *evoai.Store the commands use.
type evoAIStore interface {
	ListAgents(ctx context.Context) ([]*evoai.Agent, error)
	GetAgent(ctx context.Context, id string) (*evoai.Agent, error)
	FindMalformedIDs(ctx context.Context) ([]evoai.MalformedID, error)
	ReplaceAgentID(ctx context.Context, oldID, newID string) (int, error)
	RenameConfigKey(ctx context.Context, oldKey, newKey string) (*evoai.RenameResult, error)
	DeleteAgent(ctx context.Context, id string) error
	Stats(ctx context.Context) (*evoai.Stats, error)
}

// brokerClient is the subset of *queue.Broker the commands use.
type brokerClient interface {
	Stats(ctx context.Context, queues ...string) ([]queue.QueueStats, error)
	Publish(ctx context.Context, queue string, m *queue.OutboundMessage) error
	Peek(queue string, n int) ([]queue.Peeked, error)
	Purge(queue string) (int, error)
}

// Connection factories. Tests replace them with in-memory fakes.
var (
	openStoreFn  = openFirestore
	openEvoAIFn  = openEvoAI
	openBrokerFn = openBroker
	openCursorFn = openCursor
)

var (
	closersMu sync.Mutex
	closers   []func()
)

func onClose(fn func()) {
	closersMu.Lock()
	closers = append(closers, fn)
	closersMu.Unlock()
}

// closeClients closes every connection opened during the command, newest first.
func closeClients() {
	closersMu.Lock()
	defer closersMu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	closers = nil
}

func openFirestore(ctx context.Context) (storage.Store, error) {
	s, err := firestore.Open(ctx, firestore.Options{
		ProjectID:       config.GetString(config.KeyFirebaseProjectID),
		CredentialsFile: config.GetString(config.KeyFirebaseCredentials),
		EmulatorHost:    config.GetString(config.KeyFirebaseEmulator),
	})
	if err != nil {
		return nil, err
	}
	return telemetry.WrapStore(s), nil
}

func openEvoAI(ctx context.Context) (evoAIStore, error) {
	s, err := evoai.Open(ctx, config.GetString(config.KeyEvoAIDatabaseURL))
	if err != nil {
		return nil, err
	}
	onClose(s.Close)
	return s, nil
}

func openBroker() (brokerClient, error) {
	b, err := queue.Dial(config.GetString(config.KeyRabbitURL))
	if err != nil {
		return nil, err
	}
	onClose(func() { _ = b.Close() })
	return b, nil
}

// openCursor returns the Redis cursor when redis.url is set, otherwise an
// in-process cursor that starts from the beginning every run.
func openCursor() (assign.CursorStore, error) {
	u := config.GetString(config.KeyRedisURL)
	if u == "" {
		debug.Logf("redis.url not set; round-robin cursor is not persisted")
		return assign.NewMemoryCursor(), nil
	}
	c, err := assign.NewRedisCursor(u)
	if err != nil {
		return nil, err
	}
	onClose(func() { _ = c.Close() })
	return c, nil
}

// getStore opens the document store or exits.
func getStore(ctx context.Context) storage.Store {
	s, err := openStoreFn(ctx)
	if err != nil {
		FatalErrorWithHint(err.Error(), "Set firebase.project-id and credentials (see 'crmctl config show')")
		return nil
	}
	onClose(func() { _ = s.Close() })
	return s
}

func getEvoAI(ctx context.Context) evoAIStore {
	s, err := openEvoAIFn(ctx)
	if err != nil {
		FatalErrorWithHint(err.Error(), "Set evoai.database-url to the Evo AI Postgres connection string")
		return nil
	}
	return s
}

func getBroker() brokerClient {
	b, err := openBrokerFn()
	if err != nil {
		FatalErrorWithHint(err.Error(), "Check rabbitmq.url")
		return nil
	}
	return b
}

// withHTTPConfig applies http.timeout and http.max-retries.
func withHTTPConfig(h *httpx.Client) *httpx.Client {
	if d := config.GetDuration(config.KeyHTTPTimeout); d > 0 {
		h = h.WithTimeout(d)
	}
	return h.WithRetries(config.GetInt(config.KeyHTTPMaxRetries), 500*time.Millisecond)
}

func newEvolutionClient() *evolution.Client {
	return evolution.NewClient(
		config.GetString(config.KeyEvolutionURL),
		config.GetString(config.KeyEvolutionAPIKey),
	).WithHTTP(withHTTPConfig)
}

func newCRMClient() *crmapi.Client {
	return crmapi.NewClient(
		config.GetString(config.KeyCRMURL),
		config.GetString(config.KeyCRMAPIKey),
	).WithHTTP(withHTTPConfig)
}

// instanceName returns the flag value or evolution.instance, exiting when
// neither is set.
func instanceName(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if name := config.GetString(config.KeyEvolutionInstance); name != "" {
		return name
	}
	FatalErrorWithHint("no Evolution instance given", "Pass --instance or set evolution.instance")
	return ""
}

// desiredWebhook is the webhook configuration the CRM expects.
func desiredWebhook() evolution.WebhookConfig {
	return evolution.WebhookConfig{
		Enabled:  true,
		URL:      config.WebhookURL(),
		ByEvents: config.GetBool(config.KeyEvolutionByEvents),
		Base64:   config.GetBool(config.KeyEvolutionBase64),
		Events:   config.GetStringSlice(config.KeyEvolutionWebhookEvents),
	}
}
