package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresRecordStore implements RecordStore over JSONB documents in a
// source_records table. A QuerySpec translates into a single SQL statement
// doing the filter, projection and group-sum natively: group fields become
// GROUP BY expressions, sum fields SUM(...::numeric), passthrough fields
// MIN(...). Field names come from rule text, so every one of them is bound
// as a parameter, never spliced into the statement.
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore creates a new PostgreSQL-backed RecordStore.
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// AddRecord stores one source document in a named collection.
func (s *PostgresRecordStore) AddRecord(ctx context.Context, collection string, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return &DataStoreError{Op: "insert into " + collection, Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_records (collection, doc)
		VALUES ($1, $2)
	`, collection, doc)
	if err != nil {
		return &DataStoreError{Op: "insert into " + collection, Err: err}
	}
	return nil
}

// Query executes the planned query and returns one record per group.
func (s *PostgresRecordStore) Query(ctx context.Context, spec *QuerySpec) ([]Record, error) {
	query, args := buildRecordQuery(spec)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DataStoreError{Op: "query " + spec.Source, Err: err}
	}
	defer rows.Close()

	nGroup := len(spec.GroupFields)
	nPass := len(spec.PassthroughFields)
	nSum := len(spec.SumFields)

	var results []Record
	for rows.Next() {
		strCols := make([]sql.NullString, nGroup+nPass)
		sumCols := make([]sql.NullFloat64, nSum)
		dest := make([]any, 0, nGroup+nPass+nSum)
		for i := range strCols {
			dest = append(dest, &strCols[i])
		}
		for i := range sumCols {
			dest = append(dest, &sumCols[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &DataStoreError{Op: "query " + spec.Source, Err: err}
		}

		rec := make(Record, nGroup+nPass+nSum)
		for i, f := range spec.GroupFields {
			if strCols[i].Valid {
				rec[f] = strCols[i].String
			}
		}
		for i, f := range spec.PassthroughFields {
			if strCols[nGroup+i].Valid {
				rec[f] = strCols[nGroup+i].String
			}
		}
		for i, f := range spec.SumFields {
			if sumCols[i].Valid {
				rec[f] = sumCols[i].Float64
			}
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, &DataStoreError{Op: "query " + spec.Source, Err: err}
	}

	return results, nil
}

// buildRecordQuery assembles the grouped SELECT for a spec. All dynamic
// values, field names included, are bound as parameters.
func buildRecordQuery(spec *QuerySpec) (string, []any) {
	args := []any{spec.Source}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var cols []string
	for _, f := range spec.GroupFields {
		cols = append(cols, fmt.Sprintf("doc->>%s", next(f)))
	}
	for _, f := range spec.PassthroughFields {
		cols = append(cols, fmt.Sprintf("MIN(doc->>%s)", next(f)))
	}
	for _, f := range spec.SumFields {
		cols = append(cols, fmt.Sprintf("SUM((doc->>%s)::numeric)", next(f)))
	}

	where := "collection = $1"
	switch p := spec.Filter.(type) {
	case nil:
	case StringEquals:
		where += fmt.Sprintf(" AND doc->>%s = %s", next(p.Field), next(p.Value))
	case BoolEquals:
		where += fmt.Sprintf(" AND (doc->>%s)::boolean = %s", next(p.Field), next(p.Value))
	case NumericCompare:
		where += fmt.Sprintf(" AND (doc->>%s)::numeric %s %s", next(p.Field), p.Op, next(p.Value))
	}

	groupBy := make([]string, len(spec.GroupFields))
	for i := range spec.GroupFields {
		groupBy[i] = fmt.Sprintf("%d", i+1)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM source_records WHERE %s GROUP BY %s ORDER BY %s",
		strings.Join(cols, ", "), where, strings.Join(groupBy, ", "), strings.Join(groupBy, ", "),
	)
	return query, args
}
