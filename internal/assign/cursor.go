package assign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CursorKey is the key the round-robin strategy stores its position under.
const CursorKey = "assign:round-robin:cursor"

const defaultNamespace = "crmctl"

// CursorStore persists the round-robin position between runs. Get returns
// "" when nothing has been stored.
type CursorStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryCursor keeps the cursor for the lifetime of the process.
type MemoryCursor struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryCursor creates an empty cursor store.
func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{values: make(map[string]string)}
}

func (m *MemoryCursor) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *MemoryCursor) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// RedisCursor stores the cursor in Redis so that successive runs, from any
// machine, continue the rotation.
type RedisCursor struct {
	client    *redis.Client
	namespace string
}

// NewRedisCursor connects to redisURL (e.g. "redis://localhost:6379/0").
// Returns an error if the server cannot be reached.
func NewRedisCursor(redisURL string) (*RedisCursor, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisCursor{client: client, namespace: defaultNamespace}, nil
}

func (r *RedisCursor) key(k string) string {
	return r.namespace + ":" + k
}

func (r *RedisCursor) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisCursor) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisCursor) Close() error {
	return r.client.Close()
}
