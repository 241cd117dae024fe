package engine

import (
	"reflect"
	"testing"
)

func TestExtractFields(t *testing.T) {
	testCases := []struct {
		name string
		expr string
		want []string
	}{
		{"Single field", "[subscriptionBalance]*-1", []string{"subscriptionBalance"}},
		{"Two fields", "([redemptionBalance]-[subscriptionBalance])*1.2", []string{"redemptionBalance", "subscriptionBalance"}},
		{"Duplicates collapse", "[a]+[b]+[a]+[a]", []string{"a", "b"}},
		{"No fields", "3002000110", []string{}},
		{"Empty text", "", []string{}},
		{"Function call", "ABS([bookValueBase])*-1", []string{"bookValueBase"}},
		{"Account template", "300[shareClass]0001", []string{"shareClass"}},
		{"Unclosed bracket ignored", "300[shareClass", []string{}},
		{"Name taken verbatim", "[weird name-1.x]", []string{"weird name-1.x"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractFields(tc.expr)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExtractFields(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestExtractFieldsIdempotentUnderRepetition(t *testing.T) {
	once := ExtractFields("[x]*2")
	many := ExtractFields("[x]+[x]+[x]*[x]")
	if !reflect.DeepEqual(once, many) {
		t.Errorf("repetition changed the extracted set: %v vs %v", once, many)
	}
}
