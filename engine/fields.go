package engine

import "regexp"

// fieldRefPattern matches a bracketed field reference like [shareClass].
// The inner content is the field name verbatim.
var fieldRefPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// ExtractFields returns the distinct field names referenced in expr, in
// order of first occurrence. Text without references yields an empty slice.
func ExtractFields(expr string) []string {
	matches := fieldRefPattern.FindAllStringSubmatch(expr, -1)
	seen := make(map[string]bool, len(matches))
	fields := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			fields = append(fields, m[1])
		}
	}
	return fields
}
