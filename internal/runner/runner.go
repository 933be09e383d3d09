// Package runner executes an entity graph with bounded concurrency,
// honoring dependency edges and the configured dependent policy. It is
// the in-process replacement for an external workflow scheduler: no
// calendars, no triggers, one run from a single invocation.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/pkg/config"
	"github.com/qazdata/goszakup-etl/pkg/errors"
	"github.com/qazdata/goszakup-etl/pkg/etl"
	"github.com/qazdata/goszakup-etl/pkg/logger"
	"github.com/qazdata/goszakup-etl/pkg/metrics"
	"github.com/qazdata/goszakup-etl/pkg/observability"
)

// LoadFunc executes one entity load. The runner calls it from worker
// goroutines, so implementations must be safe for concurrent use
// across distinct entities.
type LoadFunc func(ctx context.Context, e etl.Entity) etl.LoadResult

// Config controls one run.
type Config struct {
	// Workers bounds how many entities load at once. Values below 1
	// are raised to 1.
	Workers int
	// Policy decides what happens to dependents of a failed or skipped
	// entity. The zero value is SkipOnFailure.
	Policy config.DependentPolicy
}

// Runner schedules the entities of a graph.
type Runner struct {
	graph  *etl.Graph
	load   LoadFunc
	cfg    Config
	logger *zap.Logger
}

// New builds a runner over the graph.
func New(g *etl.Graph, load LoadFunc, cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Runner{
		graph:  g,
		load:   load,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "runner")),
	}
}

// Run executes every entity of the graph and returns the per-entity
// report. An entity starts only when all of its dependencies reached a
// terminal state; what counts as a usable terminal state depends on
// the policy. A fatal failure, one the whole registry answers
// identically for every request, skips everything not yet started;
// loads already in flight are left to finish.
func (r *Runner) Run(ctx context.Context) *etl.Report {
	report := &etl.Report{Started: time.Now()}
	nodes := r.graph.Nodes()

	status := make(map[string]etl.Status, len(nodes))
	launched := make(map[string]bool, len(nodes))
	results := make(chan etl.LoadResult)

	running := 0
	fatal := false

	record := func(res etl.LoadResult) {
		status[res.Entity] = res.Status
		report.Add(res)
	}

	for len(status) < len(nodes) {
		// Settle the frontier: cascade skips and launch whatever both
		// fits the worker budget and has its dependencies resolved.
		for {
			changed := false
			for _, e := range nodes {
				if launched[e.Name] {
					continue
				}
				if _, done := status[e.Name]; done {
					continue
				}

				if fatal {
					record(r.skip(e, "previous failure is fatal for the run"))
					changed = true
					continue
				}
				if r.cfg.Policy != config.RunAlways && r.dependencyFailed(e, status) {
					record(r.skip(e, "dependency failed or was skipped"))
					changed = true
					continue
				}
				if running >= r.cfg.Workers || !r.dependenciesDone(e, status) {
					continue
				}

				launched[e.Name] = true
				running++
				r.logger.Info("entity started",
					zap.String("entity", e.Name),
					zap.Int("running", running))
				go r.runOne(ctx, e, results)
				changed = true
			}
			if !changed {
				break
			}
		}

		if len(status) == len(nodes) {
			break
		}
		if running == 0 {
			// Unreachable with a validated graph; bail out rather than
			// block on a result that will never come.
			r.logger.Error("scheduler stalled with pending entities")
			break
		}

		res := <-results
		running--
		record(res)

		if isFatal(res) {
			fatal = true
			r.logger.Error("fatal failure, skipping all pending entities",
				zap.String("entity", res.Entity),
				zap.Error(res.Err))
		}
	}

	report.Finished = time.Now()
	return report
}

func (r *Runner) runOne(ctx context.Context, e etl.Entity, results chan<- etl.LoadResult) {
	ctx, span := observability.StartSpan(ctx, "etl.load")
	span.SetAttribute("entity", e.Name)

	res := r.load(ctx, e)

	span.SetAttribute("status", string(res.Status))
	span.SetAttribute("rows", res.RowsWritten)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	span.End()

	results <- res
}

// dependenciesDone reports whether every dependency reached a terminal
// state.
func (r *Runner) dependenciesDone(e etl.Entity, status map[string]etl.Status) bool {
	for _, dep := range e.DependsOn {
		if _, ok := status[dep]; !ok {
			return false
		}
	}
	return true
}

// dependencyFailed reports whether any dependency terminated in a
// state that blocks dependents under SkipOnFailure.
func (r *Runner) dependencyFailed(e etl.Entity, status map[string]etl.Status) bool {
	for _, dep := range e.DependsOn {
		switch status[dep] {
		case etl.StatusFailed, etl.StatusSkipped:
			return true
		}
	}
	return false
}

func (r *Runner) skip(e etl.Entity, reason string) etl.LoadResult {
	r.logger.Warn("entity skipped",
		zap.String("entity", e.Name),
		zap.String("reason", reason))
	metrics.EntityLoads.WithLabelValues(e.Name, string(etl.StatusSkipped)).Inc()
	return etl.LoadResult{Entity: e.Name, Table: e.Table.Name, Status: etl.StatusSkipped}
}

// isFatal reports whether a failure poisons the rest of the run. A
// rejected or expired token fails every endpoint the same way, so
// starting more loads only burns the request budget.
func isFatal(res etl.LoadResult) bool {
	return res.Status == etl.StatusFailed && errors.IsType(res.Err, errors.ErrorTypeAuthOrClient)
}
