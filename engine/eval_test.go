package engine

import (
	"errors"
	"math"
	"strings"
	"testing"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name    string
		formula string
		rec     Record
		want    float64
	}{
		{"Negation", "[a]*-1", Record{"a": 5.0}, -5},
		{"Difference scaled", "([a]-[b])*1.2", Record{"a": 10.0, "b": 4.0}, 7.2},
		{"Round two places", "ROUND([a]/[b], 2)", Record{"a": 10.0, "b": 3.0}, 3.33},
		{"Round default places", "ROUND([a]/[b])", Record{"a": 10.0, "b": 3.0}, 3},
		{"Precedence", "2+3*4", Record{}, 14},
		{"Parentheses", "(2+3)*4", Record{}, 20},
		{"Missing field is zero", "[missing]+1", Record{}, 1},
		{"Nil field is zero", "[v]+1", Record{"v": nil}, 1},
		{"String value coerced", "[v]*2", Record{"v": "21.5"}, 43},
		{"Non-numeric string is zero", "[v]+1", Record{"v": "not a number"}, 1},
		{"Bool value coerced", "[flag]*10", Record{"flag": true}, 10},
		{"Integer value", "[n]/4", Record{"n": 10}, 2.5},
		{"Negative value substitution", "2-[a]", Record{"a": -3.0}, 5},
		{"Abs", "ABS([v])", Record{"v": -12.5}, 12.5},
		{"Case-insensitive function", "abs([v])", Record{"v": -2.0}, 2},
		{"Nested functions", "MAX(ABS([a]), [b], 3)", Record{"a": -7.0, "b": 2.0}, 7},
		{"Min variadic", "MIN(5, 2, 9)", Record{}, 2},
		{"Pow", "POW([base], 3)", Record{"base": 2.0}, 8},
		{"Sqrt", "SQRT(16)", Record{}, 4},
		{"Floor and ceil", "FLOOR(2.7)+CEIL(2.1)", Record{}, 5},
		{"Log10", "LOG10(1000)", Record{}, 3},
		{"Whitespace tolerated", "  [a]  *  2 ", Record{"a": 3.0}, 6},
		{"Unary plus", "+[a]", Record{"a": 4.0}, 4},
		{"Double negation", "--3", Record{}, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.formula, tc.rec)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tc.formula, err)
			}
			if !almostEqual(got, tc.want) {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.formula, got, tc.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	testCases := []struct {
		name    string
		formula string
		rec     Record
	}{
		{"Shell injection attempt", "5; rm -rf", Record{}},
		{"Disallowed letters", "os.system(1)", Record{}},
		{"Unknown function", "MEDIAN(1,2,3)", Record{}},
		{"Division by zero", "[a]/[b]", Record{"a": 1.0, "b": 0.0}},
		{"Division by missing field", "1/[gone]", Record{}},
		{"Unbalanced parens", "(1+2", Record{}},
		{"Trailing operator", "1+", Record{}},
		{"Empty formula", "", Record{}},
		{"Bad number", "1.2.3", Record{}},
		{"Round with too many args", "ROUND(1, 2, 3)", Record{}},
		{"Pow with one arg", "POW(2)", Record{}},
		{"Sqrt of negative is not finite", "SQRT(-1)", Record{}},
		{"Log of zero is not finite", "LOG(0)", Record{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Evaluate(tc.formula, tc.rec)
			if err == nil {
				t.Fatalf("Evaluate(%q) should have failed", tc.formula)
			}
			var evalErr *EvaluationError
			if !errors.As(err, &evalErr) {
				t.Errorf("Evaluate(%q) returned %T, want *EvaluationError", tc.formula, err)
			}
		})
	}
}

func TestEvaluateArityMessages(t *testing.T) {
	testCases := []struct {
		name    string
		formula string
		want    string
	}{
		{"Range for optional argument", "ROUND(1, 2, 3)", "ROUND takes 1 to 2 argument(s), got 3"},
		{"Exact count", "POW(2)", "POW takes 2 argument(s), got 1"},
		{"Variadic minimum", "MAX()", "MAX takes at least 1 argument(s), got 0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Evaluate(tc.formula, Record{})
			if err == nil {
				t.Fatalf("Evaluate(%q) should have failed", tc.formula)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Evaluate(%q) error = %q, want it to mention %q", tc.formula, err, tc.want)
			}
		})
	}
}

// Field values are substituted as numeric literals, so a hostile stored
// value cannot reintroduce characters the grammar forbids.
func TestEvaluateHostileFieldValue(t *testing.T) {
	got, err := Evaluate("[v]+1", Record{"v": "5; rm -rf /"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 1 {
		t.Errorf("hostile value should coerce to 0, got %v", got)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	rec := Record{"a": 12.25, "b": 3.0}
	first, err := Evaluate("ROUND([a]/[b], 4)*100", rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Evaluate("ROUND([a]/[b], 4)*100", rec)
		if err != nil {
			t.Fatalf("Evaluate failed on repeat: %v", err)
		}
		if again != first {
			t.Fatalf("evaluation not deterministic: %v vs %v", again, first)
		}
	}
}
