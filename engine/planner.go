package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareOp is a numeric comparison operator in a filter predicate.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpGt
	OpLt
	OpGte
	OpLte
)

func (op CompareOp) String() string {
	switch op {
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	default:
		return "="
	}
}

// Predicate is a parsed filter condition over a single record field. The
// three variants cover everything the filter grammar admits; compound
// (AND/OR) filters are not defined and fail at parse time.
type Predicate interface {
	Match(rec Record) bool
	filterPredicate()
}

// StringEquals matches records whose field equals a quoted literal.
type StringEquals struct {
	Field string
	Value string
}

func (p StringEquals) filterPredicate() {}

func (p StringEquals) Match(rec Record) bool {
	v, ok := rec[p.Field]
	return ok && formatValue(v) == p.Value
}

// BoolEquals matches records whose field equals a boolean literal.
type BoolEquals struct {
	Field string
	Value bool
}

func (p BoolEquals) filterPredicate() {}

func (p BoolEquals) Match(rec Record) bool {
	b, ok := rec[p.Field].(bool)
	return ok && b == p.Value
}

// NumericCompare matches records whose field compares against a decimal
// literal. Records with a missing or non-numeric field never match.
type NumericCompare struct {
	Field string
	Op    CompareOp
	Value float64
}

func (p NumericCompare) filterPredicate() {}

func (p NumericCompare) Match(rec Record) bool {
	v, ok := numericValue(rec[p.Field])
	if !ok {
		return false
	}
	switch p.Op {
	case OpGt:
		return v > p.Value
	case OpLt:
		return v < p.Value
	case OpGte:
		return v >= p.Value
	case OpLte:
		return v <= p.Value
	default:
		return v == p.Value
	}
}

// ParseFilter parses a rule's filter text. Empty text or the literal
// "none" means match-all and returns a nil predicate. Anything outside the
// grammar fails with a RuleDefinitionError instead of silently matching
// everything or nothing.
func ParseFilter(raw string) (Predicate, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}

	i := strings.IndexAny(s, "=<>")
	if i <= 0 {
		return nil, &RuleDefinitionError{Detail: fmt.Sprintf("unrecognized filter syntax: %q", raw)}
	}

	field := strings.TrimSpace(s[:i])
	opText := s[i : i+1]
	if (opText == ">" || opText == "<") && i+1 < len(s) && s[i+1] == '=' {
		opText = s[i : i+2]
	}
	value := strings.TrimSpace(s[i+len(opText):])

	if field == "" || value == "" || strings.ContainsAny(field, "'\"[] \t") {
		return nil, &RuleDefinitionError{Detail: fmt.Sprintf("unrecognized filter syntax: %q", raw)}
	}

	var op CompareOp
	switch opText {
	case "=":
		op = OpEq
	case ">":
		op = OpGt
	case "<":
		op = OpLt
	case ">=":
		op = OpGte
	case "<=":
		op = OpLte
	}

	// Quoted literal: string equality only. The two outer quotes must be
	// the only ones, otherwise compound input like "a='x' AND b='y'" would
	// parse as one literal with an embedded quote.
	if strings.HasPrefix(value, "'") {
		if op != OpEq || len(value) < 2 || !strings.HasSuffix(value, "'") || strings.Count(value, "'") != 2 {
			return nil, &RuleDefinitionError{Detail: fmt.Sprintf("unrecognized filter syntax: %q", raw)}
		}
		return StringEquals{Field: field, Value: value[1 : len(value)-1]}, nil
	}

	// Boolean literal: equality only.
	if strings.EqualFold(value, "true") || strings.EqualFold(value, "false") {
		if op != OpEq {
			return nil, &RuleDefinitionError{Detail: fmt.Sprintf("boolean filter supports only equality: %q", raw)}
		}
		return BoolEquals{Field: field, Value: strings.EqualFold(value, "true")}, nil
	}

	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, &RuleDefinitionError{Detail: fmt.Sprintf("unrecognized filter value %q in %q", value, raw)}
	}
	return NumericCompare{Field: field, Op: op, Value: n}, nil
}

// Plan derives the minimal query for a rule: the parsed filter predicate,
// the projection split into group, sum and passthrough fields, and the
// fixed (period, account) group key. Formula fields are summed per group;
// fields referenced only by the account template pass through with the
// first value seen, as does the entity identifier.
//
// Plan also statically validates the formula and account templates so that
// malformed rules fail once, up front, instead of once per record.
func Plan(rule *Rule) (*QuerySpec, error) {
	if strings.TrimSpace(rule.SourceTable) == "" {
		return nil, &RuleDefinitionError{Detail: "source table is required"}
	}

	filter, err := ParseFilter(rule.Filter)
	if err != nil {
		return nil, err
	}

	if err := checkFormulaTemplate(rule.Formula); err != nil {
		return nil, err
	}
	if err := checkAccountTemplate(rule.LedgerAccount); err != nil {
		return nil, err
	}

	group := []string{FieldPeriod, FieldAccount}
	inGroup := func(f string) bool { return f == FieldPeriod || f == FieldAccount }

	var sum []string
	for _, f := range ExtractFields(rule.Formula) {
		if !inGroup(f) {
			sum = append(sum, f)
		}
	}

	passthrough := []string{FieldEntityID}
	for _, f := range ExtractFields(rule.LedgerAccount) {
		if !inGroup(f) && f != FieldEntityID && !contains(sum, f) {
			passthrough = append(passthrough, f)
		}
	}

	return &QuerySpec{
		Source:            rule.SourceTable,
		Filter:            filter,
		GroupFields:       group,
		SumFields:         sum,
		PassthroughFields: passthrough,
	}, nil
}

// checkFormulaTemplate verifies the formula parses with every field
// reference replaced by a placeholder literal. Structural defects (bad
// characters, unknown functions, unbalanced parentheses) are definition
// errors; arithmetic domain errors stay record-level.
func checkFormulaTemplate(formula string) error {
	placeholder := fieldRefPattern.ReplaceAllString(formula, "0")
	if _, err := parseExpression(placeholder); err != nil {
		return &RuleDefinitionError{Detail: fmt.Sprintf("invalid formula %q: %v", formula, err)}
	}
	return nil
}

// checkAccountTemplate rejects templates with stray bracket characters
// outside well-formed field references.
func checkAccountTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return &RuleDefinitionError{Detail: "ledger account is required"}
	}
	stripped := fieldRefPattern.ReplaceAllString(template, "")
	if strings.ContainsAny(stripped, "[]") {
		return &RuleDefinitionError{Detail: fmt.Sprintf("unbalanced bracket in account template %q", template)}
	}
	return nil
}

func contains(fields []string, f string) bool {
	for _, v := range fields {
		if v == f {
			return true
		}
	}
	return false
}
