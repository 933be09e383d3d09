package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/pkg/errors"
	"github.com/qazdata/goszakup-etl/pkg/metrics"
)

// Persist writes items into table inside a single transaction and
// returns the number of rows the database reports as affected. An empty
// batch returns zero without touching the database. On any failure the
// transaction is rolled back and the table is left untouched.
func (s *Store) Persist(ctx context.Context, table Table, items []Item) (int64, error) {
	if err := table.Validate(); err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	var err error
	switch table.Mode {
	case AppendJSONB:
		err = s.queueAppend(batch, table, items)
	case TypedUpsert:
		err = s.queueUpsert(batch, table, items)
	}
	if err != nil {
		return 0, err
	}

	timer := metrics.NewTimer("persist")
	rows, err := s.execBatch(ctx, table, batch)
	metrics.PersistDuration.WithLabelValues(table.Name).Observe(timer.Stop().Seconds())
	if err != nil {
		return 0, err
	}

	metrics.RowsWritten.WithLabelValues(table.Name, string(table.Mode)).Add(float64(rows))
	s.logger.Info("batch persisted",
		zap.String("table", table.Name),
		zap.String("mode", string(table.Mode)),
		zap.Int("items", len(items)),
		zap.Int64("rows", rows))
	return rows, nil
}

// queueAppend queues one document INSERT per item. The statement
// carries ON CONFLICT DO NOTHING, but append tables define no unique
// constraint on the document, so re-ingesting the same collection
// duplicates rows. Deduplication belongs to downstream consumers.
func (s *Store) queueAppend(batch *pgx.Batch, table Table, items []Item) error {
	sql := fmt.Sprintf(
		"INSERT INTO %s (data, created_at) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		pgx.Identifier{table.Name}.Sanitize())

	// One timestamp for the whole batch, so a persist call is
	// identifiable in the table afterwards.
	at := s.now()

	for i, item := range items {
		doc, err := json.Marshal(item)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "storage: encode item").
				WithDetail("table", table.Name).
				WithDetail("index", i)
		}
		batch.Queue(sql, doc, at)
	}
	return nil
}

// queueUpsert queues one upsert per item. The column set is fixed by
// the first item's keys, sorted so the generated SQL is deterministic.
// Later items missing a column insert NULL for it; keys outside the
// column set are schema drift: they are logged and their values
// dropped, never silently turned into columns.
func (s *Store) queueUpsert(batch *pgx.Batch, table Table, items []Item) error {
	first := items[0]
	if len(first) == 0 {
		return errors.New(errors.ErrorTypeSchemaMismatch, "storage: first item has no keys").
			WithDetail("table", table.Name)
	}

	columns := make([]string, 0, len(first))
	for k := range first {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	colIdx := make(map[string]int, len(columns))
	for i, c := range columns {
		if !identRe.MatchString(c) {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "storage: item key %q is not a valid column name", c).
				WithDetail("table", table.Name)
		}
		colIdx[c] = i
	}
	for _, key := range table.ConflictColumns {
		if _, ok := colIdx[key]; !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "storage: conflict column %q missing from item keys", key).
				WithDetail("table", table.Name).
				WithDetail("columns", strings.Join(columns, ","))
		}
	}

	sql := upsertSQL(table, columns)

	for i, item := range items {
		args := make([]interface{}, len(columns))
		var drift []string
		for k, v := range item {
			idx, ok := colIdx[k]
			if !ok {
				drift = append(drift, k)
				continue
			}
			args[idx] = v
		}
		if len(drift) > 0 {
			sort.Strings(drift)
			s.logger.Warn("item carries keys outside the column set, values dropped",
				zap.String("table", table.Name),
				zap.Int("index", i),
				zap.Strings("keys", drift))
		}
		batch.Queue(sql, args...)
	}
	return nil
}

// upsertSQL renders the upsert statement for the given column set.
// Non-key columns take the incoming value on conflict; a table whose
// every column is a key degrades to DO NOTHING.
func upsertSQL(table Table, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = "$" + strconv.Itoa(i+1)
	}

	isKey := make(map[string]bool, len(table.ConflictColumns))
	conflict := make([]string, len(table.ConflictColumns))
	for i, c := range table.ConflictColumns {
		isKey[c] = true
		conflict[i] = pgx.Identifier{c}.Sanitize()
	}

	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		updates = append(updates, q+" = EXCLUDED."+q)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		pgx.Identifier{table.Name}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
		strings.Join(conflict, ", "))
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String()
}

// execBatch runs the queued statements inside one transaction and sums
// the affected row counts.
func (s *Store) execBatch(ctx context.Context, table Table, batch *pgx.Batch) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, mapPgError(err, "storage: begin transaction", table.Name)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	var rows int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, mapPgError(err, "storage: execute batch statement", table.Name).
				WithDetail("statement", i)
		}
		rows += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, mapPgError(err, "storage: close batch", table.Name)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgError(err, "storage: commit transaction", table.Name)
	}
	return rows, nil
}
