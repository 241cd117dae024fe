package engine

import (
	"context"
	"testing"
)

func TestInMemoryRuleStore(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := &Rule{
		ID:            "rule-1",
		Name:          "subscriptions",
		SourceTable:   "dataNAV",
		Formula:       "[subscriptionBalance]*-1",
		LedgerAccount: "3002000110",
		Active:        true,
	}

	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := store.Add(rule); err == nil {
		t.Error("Add() should reject duplicate IDs")
	}

	got, err := store.Get("rule-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "subscriptions" {
		t.Errorf("Get() returned %q", got.Name)
	}
	if _, err := store.Get("nope"); err == nil {
		t.Error("Get() should fail for unknown ID")
	}

	inactive := &Rule{ID: "rule-2", Name: "disabled", SourceTable: "dataNAV", Formula: "1", LedgerAccount: "100"}
	if err := store.Add(inactive); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "rule-1" {
		t.Errorf("ListActive() = %v, want only rule-1", active)
	}

	rule.Formula = "[subscriptionBalance]*-2"
	if err := store.Update(rule); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if err := store.Update(&Rule{ID: "nope"}); err == nil {
		t.Error("Update() should fail for unknown ID")
	}

	if err := store.Delete("rule-1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := store.Delete("rule-1"); err == nil {
		t.Error("Delete() should fail for already-deleted ID")
	}
}

func TestInMemoryRecordStoreQuery(t *testing.T) {
	store := NewInMemoryRecordStore()
	store.AddRecords("dataNAV",
		Record{FieldPeriod: "2024-01-31", FieldAccount: "F100", FieldEntityID: "E1", "bal": 10.0, "shareClass": "A"},
		Record{FieldPeriod: "2024-01-31", FieldAccount: "F100", FieldEntityID: "E1", "bal": 5.0, "shareClass": "A"},
		Record{FieldPeriod: "2024-01-31", FieldAccount: "F200", FieldEntityID: "E2", "bal": 7.0, "shareClass": "B"},
		Record{FieldPeriod: "2024-02-29", FieldAccount: "F100", FieldEntityID: "E1", "bal": 2.0, "shareClass": "A"},
	)

	spec := &QuerySpec{
		Source:            "dataNAV",
		GroupFields:       []string{FieldPeriod, FieldAccount},
		SumFields:         []string{"bal"},
		PassthroughFields: []string{FieldEntityID, "shareClass"},
	}

	recs, err := store.Query(context.Background(), spec)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Query() returned %d groups, want 3", len(recs))
	}

	byKey := make(map[string]Record)
	for _, r := range recs {
		byKey[formatValue(r[FieldPeriod])+"/"+formatValue(r[FieldAccount])] = r
	}

	jan := byKey["2024-01-31/F100"]
	if jan == nil {
		t.Fatal("missing group 2024-01-31/F100")
	}
	if v, _ := numericValue(jan["bal"]); v != 15 {
		t.Errorf("jan F100 bal = %v, want 15", jan["bal"])
	}
	if jan["shareClass"] != "A" {
		t.Errorf("jan F100 shareClass = %v, want A", jan["shareClass"])
	}
	if jan[FieldEntityID] != "E1" {
		t.Errorf("jan F100 entityId = %v, want E1", jan[FieldEntityID])
	}
}

func TestInMemoryRecordStoreFilter(t *testing.T) {
	store := NewInMemoryRecordStore()
	store.AddRecords("dataNAV",
		Record{FieldPeriod: "2024-01-31", FieldAccount: "F100", "NAV": 150.0},
		Record{FieldPeriod: "2024-01-31", FieldAccount: "F200", "NAV": 100.0},
		Record{FieldPeriod: "2024-01-31", FieldAccount: "F300", "NAV": 50.0},
	)

	pred, err := ParseFilter("NAV>100")
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}
	spec := &QuerySpec{
		Source:      "dataNAV",
		Filter:      pred,
		GroupFields: []string{FieldPeriod, FieldAccount},
		SumFields:   []string{"NAV"},
	}

	recs, err := store.Query(context.Background(), spec)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Query() returned %d records, want 1 (boundary NAV=100 excluded)", len(recs))
	}
	if formatValue(recs[0][FieldAccount]) != "F100" {
		t.Errorf("wrong record survived the filter: %v", recs[0])
	}
}

func TestInMemoryRecordStoreUnknownCollection(t *testing.T) {
	store := NewInMemoryRecordStore()
	recs, err := store.Query(context.Background(), &QuerySpec{
		Source:      "missing",
		GroupFields: []string{FieldPeriod, FieldAccount},
	})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Query() on unknown collection = %v, want empty", recs)
	}
}

func TestInMemoryRecordStoreCancelledContext(t *testing.T) {
	store := NewInMemoryRecordStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Query(ctx, &QuerySpec{Source: "x"})
	if err == nil {
		t.Fatal("Query() with cancelled context should fail")
	}
}
