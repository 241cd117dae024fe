package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/subledger/internal/logger"
)

// DefaultWorkers bounds concurrent rule processing when no worker count is
// configured.
const DefaultWorkers = 4

// Orchestrator runs every active rule and merges the outputs into one run
// summary. Rules are processed independently; the only shared state is the
// summary accumulator, appended to once per completed rule.
type Orchestrator struct {
	rules     RuleStore
	processor *Processor
	workers   int
}

// NewOrchestrator creates an orchestrator over the given stores. workers
// bounds rule-level parallelism; values below 1 fall back to
// DefaultWorkers.
func NewOrchestrator(rules RuleStore, records RecordStore, workers int, queryTimeout time.Duration) *Orchestrator {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		rules:     rules,
		processor: NewProcessor(records, queryTimeout),
		workers:   workers,
	}
}

// Run fetches the active rules fresh from the store and processes them
// all. Rule-level failures are collected into the summary, never raised:
// callers need the full picture of which rules failed across one run.
// Cancelling ctx stops dispatching new rules; results already aggregated
// remain valid.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	active, err := o.rules.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}

	summary := &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Entries:   []AggregatedEntry{},
	}
	logger.Info("run started", "runId", summary.RunID, "rules", len(active))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	for _, rule := range active {
		if ctx.Err() != nil {
			break
		}
		rule := rule
		g.Go(func() error {
			res, err := o.processor.Process(ctx, rule)
			if err != nil {
				logger.Error("rule failed", "rule", rule.Name, "error", err)
				res = &RuleResult{RuleName: rule.Name, Entries: []AggregatedEntry{}, Err: err}
			}

			mu.Lock()
			summary.Results = append(summary.Results, res)
			summary.Entries = append(summary.Entries, res.Entries...)
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; failures live in the summary.
	_ = g.Wait()

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].RuleName < summary.Results[j].RuleName
	})
	sort.Slice(summary.Entries, func(i, j int) bool {
		a, b := summary.Entries[i], summary.Entries[j]
		if a.RuleName != b.RuleName {
			return a.RuleName < b.RuleName
		}
		if a.LedgerAccount != b.LedgerAccount {
			return a.LedgerAccount < b.LedgerAccount
		}
		return a.Period < b.Period
	})

	summary.FinishedAt = time.Now()
	logger.Info("run finished",
		"runId", summary.RunID,
		"entries", len(summary.Entries),
		"failedRules", len(summary.Failed()),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String())
	return summary, nil
}
