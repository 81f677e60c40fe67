// Package evoai reads and repairs the agents table of the Evo AI Postgres
// database. Evo AI owns the schema; this package only assumes the columns it
// selects exist.
package evoai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/types"
)

// ErrNotFound is returned when no agent row has the requested id.
var ErrNotFound = errors.New("evoai: agent not found")

// ErrSchema is returned by Open when the database does not look like Evo AI.
var ErrSchema = errors.New("evoai: agents table not found")

// Agent is one row of the agents table.
type Agent struct {
	ID           string                 `json:"id"`
	ClientID     string                 `json:"client_id,omitempty"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Type         string                 `json:"type"`
	Model        string                 `json:"model,omitempty"`
	APIKeyID     string                 `json:"api_key_id,omitempty"`
	Instruction  string                 `json:"instruction,omitempty"`
	AgentCardURL string                 `json:"agent_card_url,omitempty"`
	FolderID     string                 `json:"folder_id,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Store is a connection pool to the Evo AI database.
type Store struct {
	pool *pgxpool.Pool
	// configType is the SQL type of agents.config, "json" or "jsonb".
	configType string
}

// Open connects to url, pings the server and checks that the agents table
// exists.
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("evoai: database url is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("evoai: parse database url: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("evoai: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.verify(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("evoai: ping: %w", err)
	}
	var regclass *string
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('public.agents')::text`).Scan(&regclass); err != nil {
		return fmt.Errorf("evoai: check schema: %w", err)
	}
	if regclass == nil {
		return ErrSchema
	}
	err := s.pool.QueryRow(ctx,
		`SELECT data_type FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = 'agents' AND column_name = 'config'`).Scan(&s.configType)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: agents.config column missing", ErrSchema)
	}
	if err != nil {
		return fmt.Errorf("evoai: check schema: %w", err)
	}
	if s.configType != "jsonb" {
		s.configType = "json"
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const agentColumns = `id::text, COALESCE(client_id::text, ''), COALESCE(name, ''), COALESCE(description, ''),
	COALESCE(type, ''), COALESCE(model, ''), COALESCE(api_key_id::text, ''), COALESCE(instruction, ''),
	COALESCE(agent_card_url, ''), COALESCE(folder_id::text, ''), COALESCE(config::text, ''),
	COALESCE(created_at, 'epoch'::timestamptz), COALESCE(updated_at, created_at, 'epoch'::timestamptz)`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	var config string
	if err := row.Scan(&a.ID, &a.ClientID, &a.Name, &a.Description, &a.Type, &a.Model, &a.APIKeyID,
		&a.Instruction, &a.AgentCardURL, &a.FolderID, &config, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if config != "" && config != "null" {
		if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
			return nil, fmt.Errorf("agent %s: parse config: %w", a.ID, err)
		}
	}
	return &a, nil
}

// ListAgents returns every agent ordered by name.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name, id::text`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAgent returns the agent whose id (as text) equals id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// MalformedID is an agent whose primary key is not a canonical UUID.
type MalformedID struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FindMalformedIDs returns agents whose id is not a canonical UUID.
func (s *Store) FindMalformedIDs(ctx context.Context) ([]MalformedID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, COALESCE(name, '') FROM agents ORDER BY id::text`)
	if err != nil {
		return nil, fmt.Errorf("scan agent ids: %w", err)
	}
	defer rows.Close()

	var out []MalformedID
	for rows.Next() {
		var m MalformedID
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		if !types.IsValidUUID(m.ID) {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

// ReplaceAgentID changes an agent's primary key from oldID to newID and
// rewrites every JSON string value equal to oldID inside the other agents'
// config (sub-agent lists, workflow nodes). Strings that merely contain oldID
// are left alone. It returns how many configs were rewritten. Everything
// happens in one transaction.
func (s *Store) ReplaceAgentID(ctx context.Context, oldID, newID string) (int, error) {
	if !types.IsValidUUID(newID) {
		return 0, fmt.Errorf("replace agent id: %q is not a uuid", newID)
	}
	if oldID == "" || oldID == newID {
		return 0, fmt.Errorf("replace agent id: invalid old id %q", oldID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `UPDATE agents SET id = $2, updated_at = now() WHERE id::text = $1`, oldID, newID)
	if err != nil {
		return 0, fmt.Errorf("update agent %s: %w", oldID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("update agent %s: %w", oldID, ErrNotFound)
	}

	// strpos only narrows the candidates; the exact match happens on the
	// decoded document.
	rows, err := tx.Query(ctx, `SELECT id::text, config::text FROM agents
		WHERE id::text <> $2 AND config IS NOT NULL AND strpos(config::text, $1) > 0
		ORDER BY id::text FOR UPDATE`, oldID, newID)
	if err != nil {
		return 0, fmt.Errorf("scan references to %s: %w", oldID, err)
	}
	type rewrite struct{ id, config string }
	var pending []rewrite
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		updated, changed, err := rewriteStringValues(raw, oldID, newID)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("agent %s config: %w", id, err)
		}
		if changed {
			pending = append(pending, rewrite{id: id, config: updated})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("scan references to %s: %w", oldID, err)
	}

	update := fmt.Sprintf(`UPDATE agents SET config = $2::%s, updated_at = now() WHERE id::text = $1`, s.configType)
	for _, r := range pending {
		if _, err := tx.Exec(ctx, update, r.id, r.config); err != nil {
			return 0, fmt.Errorf("rewrite references in %s: %w", r.id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	debug.Logger().Info("replaced evo ai agent id",
		zap.String("old_id", oldID),
		zap.String("new_id", newID),
		zap.Int("configs_rewritten", len(pending)))
	return len(pending), nil
}

// rewriteStringValues decodes a JSON document and replaces every string
// value that equals oldID exactly. Object keys and numbers are untouched.
func rewriteStringValues(raw, oldID, newID string) (string, bool, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return "", false, fmt.Errorf("decode: %w", err)
	}
	doc, changed := replaceString(doc, oldID, newID)
	if !changed {
		return raw, false, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", false, fmt.Errorf("encode: %w", err)
	}
	return string(out), true, nil
}

func replaceString(v interface{}, oldID, newID string) (interface{}, bool) {
	switch t := v.(type) {
	case string:
		if t == oldID {
			return newID, true
		}
		return t, false
	case []interface{}:
		changed := false
		for i := range t {
			var c bool
			t[i], c = replaceString(t[i], oldID, newID)
			changed = changed || c
		}
		return t, changed
	case map[string]interface{}:
		changed := false
		for k := range t {
			var c bool
			t[k], c = replaceString(t[k], oldID, newID)
			changed = changed || c
		}
		return t, changed
	default:
		return v, false
	}
}

// RenameResult reports what RenameConfigKey did.
type RenameResult struct {
	Renamed   int      `json:"renamed"`
	Conflicts []string `json:"conflicts,omitempty"` // agents that already have the new key
}

// RenameConfigKey renames a top-level config key on every agent. Agents that
// already have newKey are left alone and reported as conflicts.
func (s *Store) RenameConfigKey(ctx context.Context, oldKey, newKey string) (*RenameResult, error) {
	oldKey = strings.TrimSpace(oldKey)
	newKey = strings.TrimSpace(newKey)
	if oldKey == "" || newKey == "" || oldKey == newKey {
		return nil, fmt.Errorf("rename config key: need two different non-empty keys")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	res := &RenameResult{}
	rows, err := tx.Query(ctx,
		`SELECT id::text FROM agents
		 WHERE jsonb_typeof(config::jsonb) = 'object' AND config::jsonb ? $1 AND config::jsonb ? $2
		 ORDER BY id::text`, oldKey, newKey)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	res.Conflicts, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}

	rename := fmt.Sprintf(
		`UPDATE agents
		 SET config = ((config::jsonb - $1::text) || jsonb_build_object($2::text, config::jsonb -> $1::text))::%s,
		     updated_at = now()
		 WHERE jsonb_typeof(config::jsonb) = 'object' AND config::jsonb ? $1 AND NOT config::jsonb ? $2`,
		s.configType)
	tag, err := tx.Exec(ctx, rename, oldKey, newKey)
	if err != nil {
		return nil, fmt.Errorf("rename %s to %s: %w", oldKey, newKey, err)
	}
	res.Renamed = int(tag.RowsAffected())
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// DeleteAgent removes one agent.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// Stats is a summary used by doctor.
type Stats struct {
	Agents      int `json:"agents"`
	MalformedID int `json:"malformed_ids"`
}

// Stats counts agents and malformed ids.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agents`).Scan(&st.Agents); err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}
	bad, err := s.FindMalformedIDs(ctx)
	if err != nil {
		return nil, err
	}
	st.MalformedID = len(bad)
	return &st, nil
}
