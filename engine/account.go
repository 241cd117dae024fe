package engine

import "strings"

// ResolveAccount expands a ledger-account template against a record. A
// template without field references is returned unchanged. Referenced
// fields substitute as strings, preserving the literal prefix and suffix:
// "300[shareClass]0001" with shareClass "A" resolves to "300A0001".
//
// Unlike formula evaluation, a referenced field that is absent from the
// record is an error, not a zero: a degraded value is tolerable, a made-up
// account identifier is not.
func ResolveAccount(template string, rec Record) (string, error) {
	if !strings.ContainsRune(template, '[') {
		return template, nil
	}

	var missing string
	resolved := fieldRefPattern.ReplaceAllStringFunc(template, func(ref string) string {
		name := ref[1 : len(ref)-1]
		v, ok := rec[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return ref
		}
		return formatValue(v)
	})
	if missing != "" {
		return "", &ResolutionError{Template: template, Field: missing}
	}

	// A substituted value must not reintroduce reference syntax.
	if strings.ContainsAny(resolved, "[]") {
		return "", &ResolutionError{Template: template, Reason: "resolved account still contains bracket syntax"}
	}
	return resolved, nil
}
