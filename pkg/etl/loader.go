package etl

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/pkg/fetch"
	"github.com/qazdata/goszakup-etl/pkg/logger"
	"github.com/qazdata/goszakup-etl/pkg/metrics"
	"github.com/qazdata/goszakup-etl/pkg/storage"
)

// Fetcher is the slice of the fetch client the loader uses.
type Fetcher interface {
	FetchAll(ctx context.Context, req fetch.Request) ([]fetch.Item, error)
}

// Store is the slice of the storage engine the loader uses.
type Store interface {
	Persist(ctx context.Context, table storage.Table, items []storage.Item) (int64, error)
	EnsureAppendTable(ctx context.Context, name string) error
}

// Loader moves one entity's collection from the registry into its
// table: fetch everything, then persist the whole set in one call.
type Loader struct {
	fetcher Fetcher
	store   Store
	logger  *zap.Logger
}

// NewLoader builds a loader over the given client and store.
func NewLoader(f Fetcher, s Store) *Loader {
	return &Loader{
		fetcher: f,
		store:   s,
		logger:  logger.Get().With(zap.String("component", "loader")),
	}
}

// EnsureTables creates the append-mode destination tables for e when
// they do not exist yet. Upsert tables are the caller's schema and are
// left alone.
func (l *Loader) EnsureTables(ctx context.Context, e Entity) error {
	if e.Composite() {
		for _, ref := range e.Refs {
			if err := l.store.EnsureAppendTable(ctx, ref.Name); err != nil {
				return err
			}
		}
		return nil
	}
	if e.Table.Mode != storage.AppendJSONB {
		return nil
	}
	return l.store.EnsureAppendTable(ctx, e.Table.Name)
}

// Load runs one entity end to end and reports the outcome. Failures
// are carried in the result, never returned; one entity's failure is
// the runner's business to react to, not a reason to unwind.
func (l *Loader) Load(ctx context.Context, e Entity) LoadResult {
	metrics.ActiveLoads.Inc()
	defer metrics.ActiveLoads.Dec()

	start := time.Now()
	var res LoadResult
	if e.Composite() {
		res = l.loadComposite(ctx, e)
	} else {
		res = l.loadSingle(ctx, e)
	}
	res.Entity = e.Name
	res.Duration = time.Since(start)

	metrics.EntityLoads.WithLabelValues(e.Name, string(res.Status)).Inc()
	metrics.EntityLoadDuration.WithLabelValues(e.Name).Observe(res.Duration.Seconds())

	log := l.logger.With(
		zap.String("entity", e.Name),
		zap.String("status", string(res.Status)),
		zap.Int64("rows", res.RowsWritten),
		zap.Duration("duration", res.Duration))
	if res.Err != nil {
		log.Error("entity load finished", zap.Error(res.Err))
	} else {
		log.Info("entity load finished")
	}
	return res
}

// loadSingle fetches one collection and persists it. A fetch failure
// after some pages still persists what arrived: the append tables are
// not atomic across runs anyway, and partial data plus a failed status
// beats discarding finished work. The result stays Failed so the run
// report and the dependent policy see the failure.
func (l *Loader) loadSingle(ctx context.Context, e Entity) LoadResult {
	res := LoadResult{Table: e.Table.Name}

	items, fetchErr := l.fetcher.FetchAll(ctx, fetch.Request{Path: e.Endpoint, Query: e.Params})
	if len(items) == 0 {
		if fetchErr != nil {
			res.Status = StatusFailed
			res.Err = fetchErr
			return res
		}
		res.Status = StatusEmpty
		return res
	}

	rows, persistErr := l.store.Persist(ctx, e.Table, items)
	res.RowsWritten = rows
	switch {
	case persistErr != nil:
		res.Status = StatusFailed
		res.Err = persistErr
	case fetchErr != nil:
		res.Status = StatusFailed
		res.Err = fetchErr
	default:
		res.Status = StatusSuccess
	}
	return res
}

// loadComposite loads every reference collection of e sequentially. A
// single reference failing is logged and counted but does not fail the
// node; the node fails only when nothing loads at all.
func (l *Loader) loadComposite(ctx context.Context, e Entity) LoadResult {
	res := LoadResult{Table: fmt.Sprintf("%d tables", len(e.Refs))}

	var failures []error
	for _, ref := range e.Refs {
		rows, err := l.loadRef(ctx, ref)
		res.RowsWritten += rows
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", ref.Name, err))
			l.logger.Warn("reference table failed",
				zap.String("entity", e.Name),
				zap.String("table", ref.Name),
				zap.Error(err))
		}
	}

	switch {
	case len(failures) == len(e.Refs):
		res.Status = StatusFailed
		res.Err = stderrors.Join(failures...)
	case res.RowsWritten == 0 && len(failures) == 0:
		res.Status = StatusEmpty
	default:
		res.Status = StatusSuccess
		if len(failures) > 0 {
			l.logger.Warn("some reference tables failed",
				zap.String("entity", e.Name),
				zap.Int("failed", len(failures)),
				zap.Int("total", len(e.Refs)))
		}
	}
	return res
}

func (l *Loader) loadRef(ctx context.Context, ref Ref) (int64, error) {
	items, err := l.fetcher.FetchAll(ctx, fetch.Request{Path: ref.Endpoint})
	if len(items) == 0 {
		return 0, err
	}

	rows, persistErr := l.store.Persist(ctx, storage.Append(ref.Name), items)
	if persistErr != nil {
		return 0, persistErr
	}
	return rows, err
}
