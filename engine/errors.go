package engine

import "fmt"

// RuleDefinitionError reports a malformed rule: bad filter grammar, an
// unparsable formula template, or stray bracket syntax in the account
// template. Rule-fatal; the rule is excluded from the run.
type RuleDefinitionError struct {
	Detail string
}

func (e *RuleDefinitionError) Error() string {
	return "rule definition error: " + e.Detail
}

// EvaluationError reports a formula that could not be evaluated for a
// record: disallowed characters after substitution, an unknown function,
// division by zero. Record-fatal; the record is dropped.
type EvaluationError struct {
	Expr   string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error in %q: %s", e.Expr, e.Reason)
}

// ResolutionError reports an account template referencing a field that is
// absent from the record. Record-fatal; the record is dropped.
type ResolutionError struct {
	Template string
	Field    string
	Reason   string
}

func (e *ResolutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot resolve account %q: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("cannot resolve account %q: field %q not present in record", e.Template, e.Field)
}

// DataStoreError wraps a failed store query. Rule-fatal; processing
// continues with the remaining rules.
type DataStoreError struct {
	Op  string
	Err error
}

func (e *DataStoreError) Error() string {
	return fmt.Sprintf("data store error during %s: %v", e.Op, e.Err)
}

func (e *DataStoreError) Unwrap() error { return e.Err }

// RuleProcessingError tags any rule-fatal failure with the offending rule
// name for diagnosis.
type RuleProcessingError struct {
	RuleName string
	Err      error
}

func (e *RuleProcessingError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.RuleName, e.Err)
}

func (e *RuleProcessingError) Unwrap() error { return e.Err }
