package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/internal/runner"
	"github.com/qazdata/goszakup-etl/internal/version"
	"github.com/qazdata/goszakup-etl/pkg/config"
	"github.com/qazdata/goszakup-etl/pkg/etl"
	"github.com/qazdata/goszakup-etl/pkg/fetch"
	"github.com/qazdata/goszakup-etl/pkg/logger"
	"github.com/qazdata/goszakup-etl/pkg/observability"
	"github.com/qazdata/goszakup-etl/pkg/storage"
)

// journalTimeFormat is the timestamp form the registry's journal
// endpoint expects.
const journalTimeFormat = "2006-01-02 15:04:05"

func newRunCmd() *cobra.Command {
	var (
		entityNames  []string
		workers      int
		ensureTables bool
		metricsAddr  string
		fromStr      string
		toStr        string
		jsonOut      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the load graph",
		Long: `Run loads the registry into PostgreSQL in dependency order. Without
--entity everything except the on-demand journal is loaded; with one or
more --entity flags only the requested entities and their ancestors run.

Examples:
  goszakup-etl run
  goszakup-etl run --entity contracts --workers 5
  goszakup-etl run --entity journal --from "2024-01-01 00:00:00" --to "2024-01-02 00:00:00"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Run.Workers = workers
			}
			if ensureTables {
				cfg.Run.EnsureTables = true
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Observability.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runGraph(cfg, entityNames, fromStr, toStr, jsonOut)
		},
	}

	cmd.Flags().StringSliceVarP(&entityNames, "entity", "e", nil, "Entity to load (repeatable); ancestors are included automatically")
	cmd.Flags().IntVarP(&workers, "workers", "w", 3, "Concurrent entity loads")
	cmd.Flags().BoolVar(&ensureTables, "ensure-tables", false, "Create missing append-mode tables before loading")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&fromStr, "from", "", `Journal window start, "2006-01-02 15:04:05" or "2006-01-02"`)
	cmd.Flags().StringVar(&toStr, "to", "", "Journal window end, same forms as --from")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run report as JSON")

	return cmd
}

func runGraph(cfg *config.Config, entityNames []string, fromStr, toStr string, jsonOut bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graph, err := buildGraph(entityNames, fromStr, toStr)
	if err != nil {
		return err
	}

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig(version.Version)
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		if err := observability.Initialize(tc); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(sctx)
		}()
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logger.Info("serving metrics", zap.String("addr", addr))
	}

	store, err := storage.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	// One pacer for the whole run: however many loads run in parallel,
	// the registry sees one request per PerRequestDelay.
	pacer := fetch.NewPacer(cfg.Retry.PerRequestDelay)
	policy := retryPolicy(cfg)

	loadFn := func(ctx context.Context, e etl.Entity) etl.LoadResult {
		fetcher, err := fetch.New(fetch.Config{
			BaseURL:            cfg.API.BaseURL,
			Token:              cfg.API.Token,
			UserAgent:          cfg.API.UserAgent,
			Timeout:            cfg.API.RequestTimeout,
			Policy:             policy,
			Pacer:              pacer,
			InsecureSkipVerify: cfg.API.InsecureSkipVerify,
		})
		if err != nil {
			return etl.LoadResult{Entity: e.Name, Status: etl.StatusFailed, Err: err}
		}
		defer fetcher.Close()

		loader := etl.NewLoader(fetcher, store)
		if cfg.Run.EnsureTables {
			if err := loader.EnsureTables(ctx, e); err != nil {
				return etl.LoadResult{Entity: e.Name, Table: e.Table.Name, Status: etl.StatusFailed, Err: err}
			}
		}
		return loader.Load(ctx, e)
	}

	logger.Info("run starting",
		zap.Int("entities", len(graph.Nodes())),
		zap.Int("workers", cfg.Run.Workers),
		zap.String("dependent_policy", string(cfg.Run.DependentPolicy)))

	report := runner.New(graph, loadFn, runner.Config{
		Workers: cfg.Run.Workers,
		Policy:  cfg.Run.DependentPolicy,
	}).Run(ctx)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if err := report.Render(os.Stdout); err != nil {
		return err
	}

	if report.HasFailures() {
		return fmt.Errorf("%d of %d entities failed", report.CountByStatus()[etl.StatusFailed], len(report.Results))
	}
	return nil
}

// buildGraph assembles the graph for this invocation: the whole catalog
// minus on-demand entities by default, or the subgraph induced by the
// requested entities plus their ancestors.
func buildGraph(entityNames []string, fromStr, toStr string) (*etl.Graph, error) {
	entities := etl.Catalog()

	window, err := journalWindow(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	if window != nil {
		etl.SetJournalWindow(entities, window[0], window[1])
	}

	if len(entityNames) == 0 {
		var defaults []etl.Entity
		for _, e := range entities {
			if !e.OnDemand {
				defaults = append(defaults, e)
			}
		}
		return etl.NewGraph(defaults)
	}

	full, err := etl.NewGraph(entities)
	if err != nil {
		return nil, err
	}
	graph, err := full.Subgraph(entityNames...)
	if err != nil {
		return nil, err
	}

	if j, ok := graph.Entity(etl.EntityJournal); ok && len(j.Params) == 0 {
		return nil, fmt.Errorf("the journal needs a date window: pass --from and --to")
	}
	return graph, nil
}

// journalWindow validates the --from/--to pair. Date-only values are
// widened to the start of the day.
func journalWindow(fromStr, toStr string) (*[2]string, error) {
	if fromStr == "" && toStr == "" {
		return nil, nil
	}
	if fromStr == "" || toStr == "" {
		return nil, fmt.Errorf("--from and --to must be given together")
	}

	from, err := parseJournalTime(fromStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseJournalTime(toStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("--to must be after --from")
	}

	return &[2]string{from.Format(journalTimeFormat), to.Format(journalTimeFormat)}, nil
}

func parseJournalTime(s string) (time.Time, error) {
	if t, err := time.Parse(journalTimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// retryPolicy maps the retry section of the configuration onto the
// fetcher's policy.
func retryPolicy(cfg *config.Config) fetch.RetryPolicy {
	return fetch.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		Multiplier:      cfg.Retry.Multiplier,
		MaxDelay:        cfg.Retry.MaxDelay,
		PerRequestDelay: cfg.Retry.PerRequestDelay,
	}
}
