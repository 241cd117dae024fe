// Package report renders run summaries for humans and downstream tooling.
// The engine itself never formats output; callers hand a RunSummary here.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/liamcoop/subledger/engine"
)

// Summary renders a fixed-width processing summary: one line per
// aggregated entry plus per-rule failure notes.
func Summary(run *engine.RunSummary) string {
	var b strings.Builder

	rule := strings.Repeat("=", 72)
	fmt.Fprintf(&b, "%s\nSUB-LEDGER PROCESSING SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Run ID:          %s\n", run.RunID)
	fmt.Fprintf(&b, "Started:         %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Entries:         %d\n", len(run.Entries))
	fmt.Fprintf(&b, "Rules processed: %d (%d failed)\n\n", len(run.Results), len(run.Failed()))

	fmt.Fprintf(&b, "%-18s %-24s %-12s %8s %18s\n", "Ledger Account", "Rule", "Period", "Count", "Total Value")
	fmt.Fprintln(&b, strings.Repeat("-", 84))
	for _, e := range run.Entries {
		fmt.Fprintf(&b, "%-18s %-24s %-12s %8d %18.2f\n",
			e.LedgerAccount, e.RuleName, e.Period, e.Count, e.Value)
	}

	for _, r := range run.Results {
		if r.Err != nil {
			fmt.Fprintf(&b, "\nFAILED %s: %v\n", r.RuleName, r.Err)
		} else if r.Dropped > 0 {
			fmt.Fprintf(&b, "\n%s: dropped %d of %d record(s)\n", r.RuleName, r.Dropped, r.Records)
		}
	}

	return b.String()
}

// WriteJSON serializes the run summary, mapping rule-fatal errors to
// strings so the full failure picture survives encoding.
func WriteJSON(w io.Writer, run *engine.RunSummary) error {
	type ruleResult struct {
		*engine.RuleResult
		Error string `json:"error,omitempty"`
	}

	results := make([]ruleResult, len(run.Results))
	for i, r := range run.Results {
		results[i] = ruleResult{RuleResult: r}
		if r.Err != nil {
			results[i].Error = r.Err.Error()
		}
	}

	out := struct {
		*engine.RunSummary
		Results []ruleResult `json:"results"`
	}{RunSummary: run, Results: results}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
