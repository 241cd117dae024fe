package engine

import "time"

// Core record fields that every projection carries regardless of what the
// rule's formula or account template reference.
const (
	FieldPeriod   = "period"
	FieldAccount  = "account"
	FieldEntityID = "entityId"
)

// Record is one document from the source store, shaped by a QuerySpec
// projection. Values are strings, numbers, booleans or dates.
type Record map[string]any

// Rule is a single sub-ledger derivation instruction. Rules are authored
// externally and read-only to the engine.
type Rule struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SourceTable   string    `json:"sourceTable"`
	Filter        string    `json:"filter"`
	Formula       string    `json:"formula"`
	LedgerAccount string    `json:"ledgerAccount"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Candidate is one rule's computed result for one source record, prior to
// aggregation. LedgerAccount is fully resolved and contains no field
// reference syntax.
type Candidate struct {
	RuleName      string    `json:"ruleName"`
	LedgerAccount string    `json:"ledgerAccount"`
	Period        string    `json:"period"`
	SourceAccount string    `json:"sourceAccount"`
	Value         float64   `json:"value"`
	Source        Record    `json:"sourceData,omitempty"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// AggregatedEntry is the sum of candidate values sharing a ledger account
// and period, with the number of contributing candidates.
type AggregatedEntry struct {
	RuleName      string  `json:"ruleName"`
	LedgerAccount string  `json:"ledgerAccount"`
	Period        string  `json:"period"`
	Value         float64 `json:"value"`
	Count         int     `json:"count"`
}

// QuerySpec is the planner's output: everything the record store needs to
// run a filter + projection + group query for one rule. SumFields are
// aggregated with a sum per group, PassthroughFields keep the first value
// seen in the group.
type QuerySpec struct {
	Source            string
	Filter            Predicate // nil means match all records
	GroupFields       []string
	SumFields         []string
	PassthroughFields []string
}

// Projection returns the full set of fields the query touches.
func (s *QuerySpec) Projection() []string {
	fields := make([]string, 0, len(s.GroupFields)+len(s.SumFields)+len(s.PassthroughFields))
	fields = append(fields, s.GroupFields...)
	fields = append(fields, s.SumFields...)
	fields = append(fields, s.PassthroughFields...)
	return fields
}

// RuleResult is the per-rule slice of the run log: how many grouped records
// the query matched, how many were dropped by record-level errors, and the
// entries that survived. Err is set for rule-fatal failures.
type RuleResult struct {
	RuleName   string            `json:"ruleName"`
	Records    int               `json:"records"`
	Dropped    int               `json:"dropped"`
	DropErrors []string          `json:"dropErrors,omitempty"`
	Entries    []AggregatedEntry `json:"entries"`
	Err        error             `json:"-"`
}

// RunSummary is the output of one batch run: the merged entry set plus the
// per-rule processing log.
type RunSummary struct {
	RunID      string            `json:"runId"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Entries    []AggregatedEntry `json:"entries"`
	Results    []*RuleResult     `json:"results"`
}

// Failed returns the results of rules that failed outright.
func (s *RunSummary) Failed() []*RuleResult {
	var failed []*RuleResult
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
