package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval. The engine only ever
// reads rules; the mutation methods exist for the authoring surface.
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// List all active rules
	ListActive() ([]*Rule, error)

	// Update an existing rule
	Update(rule *Rule) error

	// Delete a rule
	Delete(id string) error
}

// RecordStore executes a planned query against a source collection. The
// store, not the engine, performs the filter, projection and group-sum
// aggregation; one record per group comes back.
type RecordStore interface {
	Query(ctx context.Context, spec *QuerySpec) ([]Record, error)
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store, enforcing unique IDs.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s not found", id)
	}
	return rule, nil
}

// ListActive returns all active rules, ordered by name for stable runs.
func (s *InMemoryRuleStore) ListActive() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s not found", id)
	}

	delete(s.rules, id)
	return nil
}

// InMemoryRecordStore implements RecordStore over in-memory collections.
// Useful for tests and for running the engine against preloaded data.
type InMemoryRecordStore struct {
	collections map[string][]Record
	mu          sync.RWMutex
}

// NewInMemoryRecordStore creates an empty in-memory record store.
func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		collections: make(map[string][]Record),
	}
}

// AddRecords appends records to a named collection.
func (s *InMemoryRecordStore) AddRecords(collection string, recs ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], recs...)
}

// Query applies the spec's filter, groups the surviving records by the
// group fields, sums the sum fields and keeps the first value of each
// passthrough field, mirroring what a document store's aggregation
// pipeline would do natively.
func (s *InMemoryRecordStore) Query(ctx context.Context, spec *QuerySpec) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DataStoreError{Op: "query " + spec.Source, Err: err}
	}

	s.mu.RLock()
	source := s.collections[spec.Source]
	s.mu.RUnlock()

	groups := make(map[string]Record)
	var order []string
	for _, rec := range source {
		if spec.Filter != nil && !spec.Filter.Match(rec) {
			continue
		}

		keyParts := make([]string, len(spec.GroupFields))
		for i, f := range spec.GroupFields {
			keyParts[i] = formatValue(rec[f])
		}
		key := strings.Join(keyParts, "\x00")

		grouped, exists := groups[key]
		if !exists {
			grouped = make(Record, len(spec.GroupFields)+len(spec.SumFields)+len(spec.PassthroughFields))
			for _, f := range spec.GroupFields {
				if v, ok := rec[f]; ok {
					grouped[f] = v
				}
			}
			for _, f := range spec.PassthroughFields {
				if v, ok := rec[f]; ok {
					grouped[f] = v
				}
			}
			groups[key] = grouped
			order = append(order, key)
		}
		for _, f := range spec.SumFields {
			v, _ := numericValue(rec[f])
			prev, _ := numericValue(grouped[f])
			grouped[f] = prev + v
		}
	}

	results := make([]Record, 0, len(order))
	for _, key := range order {
		results = append(results, groups[key])
	}
	return results, nil
}
