// Package goszakupetl loads the public procurement registry of
// Kazakhstan (https://ows.goszakup.gov.kz) into PostgreSQL for
// analytical use.
//
// The registry exposes paginated JSON collections: participants, plans,
// announcements, applications, lots, contracts, acts, treasury payments
// and some thirty reference tables. This module retrieves them
// resiliently and persists them in batches, either as append-only JSONB
// documents or as typed rows upserted on a caller-chosen key.
//
// # Architecture
//
// Three layers, each usable on its own:
//
// 1. Fetch (pkg/fetch): a paginated HTTP client that follows next_page
// cursors lazily, retries transient failures with exponential backoff,
// fails fast on client errors, guards against cursor loops, and paces
// requests with a fixed inter-request delay shared across concurrent
// fetchers.
//
// 2. Storage (pkg/storage): a batch persistence engine on pgx. Every
// Persist call is one transaction; items are queued into a pgx.Batch
// and written with a single network round trip. Append-mode tables take
// raw JSONB documents; upsert-mode tables take typed columns with
// ON CONFLICT ... DO UPDATE semantics.
//
// 3. Orchestration (pkg/etl, internal/runner): an entity catalog with
// explicit dependency edges, a validated DAG over it, a loader that
// moves one entity end to end, and a bounded worker pool that executes
// the graph in dependency order with per-entity failure isolation.
//
// # Quick Start
//
// Load one collection with the library surface an external scheduler
// would call:
//
//	import (
//	    "context"
//	    "github.com/qazdata/goszakup-etl/pkg/config"
//	    "github.com/qazdata/goszakup-etl/pkg/fetch"
//	    "github.com/qazdata/goszakup-etl/pkg/storage"
//	)
//
//	cfg := config.New()
//	cfg.API.Token = "..."
//
//	fetcher, _ := fetch.New(fetch.Config{BaseURL: cfg.API.BaseURL, Token: cfg.API.Token})
//	defer fetcher.Close()
//
//	store, _ := storage.Open(context.Background(), cfg.DB)
//	defer store.Close()
//
//	items, err := fetcher.FetchAll(context.Background(), fetch.Request{Path: "/v3/subject/all"})
//	if err != nil {
//	    // items fetched before the failure are still present
//	}
//	rows, _ := store.Persist(context.Background(), storage.Append("subjects"), items)
//
// The shipped CLI does the same for the whole catalog:
//
//	goszakup-etl run --ensure-tables
//	goszakup-etl run --entity contracts
//	goszakup-etl stats
//
// # Key Packages
//
//	pkg/fetch      - paginated client: retry, backoff, pacing, cursor following
//	pkg/storage    - batch persistence: append JSONB and typed upsert on pgx
//	pkg/etl        - entity catalog, dependency graph, loader, run report
//	pkg/config     - YAML + environment configuration
//	pkg/errors     - structured errors with a retryability taxonomy
//	pkg/logger     - global zap logger
//	pkg/metrics    - Prometheus collectors
//	internal/runner - bounded-concurrency DAG executor
//
// # Configuration
//
// Configuration resolves in three layers: built-in defaults, an
// optional YAML file, then environment variables (GOSZAKUP_DB_HOST,
// GOSZAKUP_API_TOKEN, ETL_RETRY_COUNT, ...). YAML values support
// ${VAR_NAME} substitution.
//
// # Failure Semantics
//
// Fetch errors carry a type that decides handling: transient network
// failures and rate limiting are retried, client errors fail fast,
// repeated cursors abort the fetch. A load that fails mid-way keeps the
// pages already fetched; the runner reports the entity Failed and,
// under the default dependent policy, skips its dependents while
// unrelated entities continue.
package goszakupetl
