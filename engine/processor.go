package engine

import (
	"context"
	"sort"
	"time"

	"github.com/liamcoop/subledger/internal/logger"
)

// Processor runs a single rule against the record store and produces
// aggregated ledger entries. It holds no mutable state of its own, so one
// Processor is safely shared across concurrently processed rules.
type Processor struct {
	records      RecordStore
	queryTimeout time.Duration
}

// NewProcessor creates a processor over the given record store. A
// queryTimeout of zero disables the per-query deadline.
func NewProcessor(records RecordStore, queryTimeout time.Duration) *Processor {
	return &Processor{records: records, queryTimeout: queryTimeout}
}

// Process executes one rule end to end: plan, query, per-record evaluate
// and resolve, then group and sum. Malformed rule definitions and store
// failures are rule-fatal and come back as a RuleProcessingError; a record
// that fails evaluation or resolution is dropped and counted, and
// processing continues. An inactive rule yields an empty result and no
// error.
func (p *Processor) Process(ctx context.Context, rule *Rule) (*RuleResult, error) {
	res := &RuleResult{RuleName: rule.Name, Entries: []AggregatedEntry{}}
	if !rule.Active {
		return res, nil
	}

	spec, err := Plan(rule)
	if err != nil {
		return nil, &RuleProcessingError{RuleName: rule.Name, Err: err}
	}

	queryCtx := ctx
	if p.queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, p.queryTimeout)
		defer cancel()
	}

	recs, err := p.records.Query(queryCtx, spec)
	if err != nil {
		return nil, &RuleProcessingError{RuleName: rule.Name, Err: err}
	}
	res.Records = len(recs)

	now := time.Now()
	candidates := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		value, err := Evaluate(rule.Formula, rec)
		if err != nil {
			res.Dropped++
			res.DropErrors = append(res.DropErrors, err.Error())
			logger.Warn("record dropped", "rule", rule.Name, "error", err)
			continue
		}

		account, err := ResolveAccount(rule.LedgerAccount, rec)
		if err != nil {
			res.Dropped++
			res.DropErrors = append(res.DropErrors, err.Error())
			logger.Warn("record dropped", "rule", rule.Name, "error", err)
			continue
		}

		candidates = append(candidates, Candidate{
			RuleName:      rule.Name,
			LedgerAccount: account,
			Period:        formatValue(rec[FieldPeriod]),
			SourceAccount: formatValue(rec[FieldAccount]),
			Value:         value,
			Source:        rec,
			GeneratedAt:   now,
		})
	}

	res.Entries = Aggregate(candidates)
	return res, nil
}

// Aggregate groups candidates by (ledger account, period) and sums their
// values. Summation is order-independent up to floating-point accumulation;
// the output is sorted for stable results.
func Aggregate(candidates []Candidate) []AggregatedEntry {
	type key struct {
		account string
		period  string
	}

	groups := make(map[key]*AggregatedEntry)
	for _, c := range candidates {
		k := key{account: c.LedgerAccount, period: c.Period}
		entry, exists := groups[k]
		if !exists {
			entry = &AggregatedEntry{
				RuleName:      c.RuleName,
				LedgerAccount: c.LedgerAccount,
				Period:        c.Period,
			}
			groups[k] = entry
		}
		entry.Value += c.Value
		entry.Count++
	}

	entries := make([]AggregatedEntry, 0, len(groups))
	for _, e := range groups {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LedgerAccount != entries[j].LedgerAccount {
			return entries[i].LedgerAccount < entries[j].LedgerAccount
		}
		return entries[i].Period < entries[j].Period
	})
	return entries
}
