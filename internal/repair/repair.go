// Package repair finds and fixes data problems in the CRM document store and
// the Evo AI agents table: malformed agent IDs, dangling agent references,
// renamed fields and orphaned records.
//
// Every routine scans first and describes what it would change in a Report.
// Nothing is written unless Repairer.Apply is set.
package repair

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

// Change actions.
const (
	ActionReassign = "reassign"
	ActionUnassign = "unassign"
	ActionMove     = "move"
	ActionUpdate   = "update"
	ActionRename   = "rename"
	ActionDelete   = "delete"
)

// Change is one write a repair performs (or would perform in a dry run).
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Action     string `json:"action"`
	Field      string `json:"field,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Report is the outcome of one repair.
type Report struct {
	Name      string   `json:"name"`
	Applied   bool     `json:"applied"`
	Scanned   int      `json:"scanned"`
	Changes   []Change `json:"changes"`
	Conflicts []string `json:"conflicts,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

func (r *Report) add(c Change) {
	r.Changes = append(r.Changes, c)
}

func (r *Report) fail(c Change, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s %s/%s: %v", c.Action, c.Collection, c.ID, err))
	debug.Logger().Warn("repair write failed",
		zap.String("repair", r.Name),
		zap.String("collection", c.Collection),
		zap.String("id", c.ID),
		zap.Error(err))
}

// OK reports whether the repair finished without write errors.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// EvoAI is the part of the Evo AI store the repairs use.
type EvoAI interface {
	ListAgents(ctx context.Context) ([]*evoai.Agent, error)
	FindMalformedIDs(ctx context.Context) ([]evoai.MalformedID, error)
	ReplaceAgentID(ctx context.Context, oldID, newID string) (int, error)
}

// Repairer runs repairs against a store.
type Repairer struct {
	Store storage.Store
	// EvoAI is only needed by EvoAIAgentIDs.
	EvoAI EvoAI
	// Apply performs the writes. When false every routine is a dry run.
	Apply bool
	// NewID generates replacement IDs; defaults to types.NewID.
	NewID func() string
	// Now stamps updatedAt; defaults to time.Now.
	Now func() time.Time
}

func (r *Repairer) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return types.NewID()
}

func (r *Repairer) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Repairer) report(name string) *Report {
	return &Report{Name: name, Applied: r.Apply, Changes: []Change{}}
}

// write runs fn when applying and records the change either way.
func (r *Repairer) write(rep *Report, c Change, fn func() error) bool {
	rep.add(c)
	if !r.Apply {
		return true
	}
	if err := fn(); err != nil {
		rep.fail(c, err)
		return false
	}
	return true
}
