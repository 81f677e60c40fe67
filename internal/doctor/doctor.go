// Package doctor runs read-only health probes against every system crmctl
// talks to and reports them as a list of checks.
package doctor

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crmops/crmctl/internal/crmapi"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/queue"
	"github.com/crmops/crmctl/internal/storage"
)

const (
	// DefaultTimeout bounds each probe.
	DefaultTimeout = 15 * time.Second
	// DefaultQueueDepthWarning is the outbound depth that triggers a warning.
	DefaultQueueDepthWarning = 100
	// maxParallel caps concurrently running probes.
	maxParallel = 6
)

// Evolution is the part of the Evolution API client the probes use.
type Evolution interface {
	FindInstance(ctx context.Context, name string) (*evolution.Instance, error)
	ConnectionState(ctx context.Context, instance string) (string, error)
	FindWebhook(ctx context.Context, instance string) (*evolution.WebhookConfig, error)
}

// CRM is the part of the CRM API client the probes use.
type CRM interface {
	Health(ctx context.Context) (*crmapi.HealthResult, error)
}

// EvoAI is the part of the Evo AI store the probes use.
type EvoAI interface {
	Stats(ctx context.Context) (*evoai.Stats, error)
	ListAgents(ctx context.Context) ([]*evoai.Agent, error)
}

// Queue is the part of the broker the probes use.
type Queue interface {
	Stats(ctx context.Context, queues ...string) ([]queue.QueueStats, error)
}

// Doctor holds the clients to probe. A nil client, or a connection error
// recorded in the matching *Err field, turns its probes into skipped or
// error checks.
type Doctor struct {
	Store    storage.Store
	StoreErr error

	EvoAI    EvoAI
	EvoAIErr error

	Evolution     Evolution
	Instance      string
	Webhook       evolution.WebhookConfig // expected configuration
	EvolutionSkip string                  // why Evolution is not probed, if it is not

	CRM CRM

	Queue         Queue
	QueueErr      error
	OutboundQueue string
	QueueDepth    int // warning threshold

	Timeout time.Duration
	Version string
	Now     func() time.Time
}

type probe func(ctx context.Context) []Check

// Run executes every probe in parallel and joins the results in category
// order.
func (d *Doctor) Run(ctx context.Context) *Result {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	start := now()
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	probes := []probe{
		d.checkStore,
		d.checkIntegrity,
		d.checkEvoAI,
		d.checkEvolution,
		d.checkCRM,
		d.checkQueue,
	}
	results := make([][]Check, len(probes))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = p(pctx)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{OverallOK: true, CLIVersion: d.Version}
	for _, checks := range results {
		res.Checks = append(res.Checks, checks...)
	}
	rank := make(map[string]int, len(CategoryOrder))
	for i, c := range CategoryOrder {
		rank[c] = i
	}
	sort.SliceStable(res.Checks, func(i, j int) bool {
		return rank[res.Checks[i].Category] < rank[res.Checks[j].Category]
	})
	for _, c := range res.Checks {
		if c.Status == StatusError {
			res.OverallOK = false
		}
	}
	end := now()
	res.Timestamp = end.UTC().Format(time.RFC3339)
	res.DurationMs = end.Sub(start).Milliseconds()
	return res
}
