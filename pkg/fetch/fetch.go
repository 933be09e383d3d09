// Package fetch implements the paginated client for the goszakup public
// procurement registry API.
//
// Collection endpoints return an envelope of the form
//
//	{"items": [...], "next_page": "..."}
//
// where next_page is an opaque cursor (a bare path or an absolute URL)
// pointing at the following page, or null on the last one. Fetch walks
// that cursor chain lazily, one page per request, applying the
// configured retry schedule to every request and a fixed pacing delay
// between successful ones.
//
// Failures are classified: HTTP 429 and 5xx responses and network-level
// errors are retried with exponential backoff, any other 4xx fails the
// stream immediately. When the retry budget for a single page is spent
// the stream ends with a fetch_exhausted error; items consumed before
// that point remain valid partial results.
package fetch

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/pkg/errors"
	"github.com/qazdata/goszakup-etl/pkg/logger"
	"github.com/qazdata/goszakup-etl/pkg/metrics"
)

// Item is a single record as returned by the API. Keys follow the API's
// field names, values keep their decoded JSON types. Declared as an
// alias so batches flow into the storage layer without conversion.
type Item = map[string]interface{}

// Request names one API endpoint to read.
type Request struct {
	// Path is the endpoint path, e.g. "/v3/subject/all".
	Path string
	// Query holds optional parameters for the first page. Follow-up
	// pages use the cursor returned by the API verbatim.
	Query url.Values
}

// target renders the initial request target for the stream.
func (r Request) target() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// envelope is the paging envelope every collection endpoint returns.
type envelope struct {
	Items    []Item  `json:"items"`
	NextPage *string `json:"next_page"`
}

func (e *envelope) next() string {
	if e.NextPage == nil {
		return ""
	}
	return *e.NextPage
}

// Config configures a Fetcher.
type Config struct {
	// BaseURL is the API origin, e.g. "https://ows.goszakup.gov.kz".
	BaseURL string
	// Token is the bearer token. Empty means anonymous requests, which
	// the registry answers with heavy throttling.
	Token string
	// UserAgent is sent with every request when non-empty.
	UserAgent string
	// Timeout bounds a single HTTP round trip. Defaults to 30s.
	Timeout time.Duration
	// Policy controls retries and pacing. The zero value selects
	// DefaultRetryPolicy.
	Policy RetryPolicy
	// Pacer, when set, replaces the fetcher-local pacer so several
	// fetchers share one request budget against the origin.
	Pacer *Pacer
	// HTTPClient, when set, replaces the built-in pooled client.
	HTTPClient *http.Client
	// InsecureSkipVerify disables TLS verification on the built-in
	// client. Ignored when HTTPClient is set.
	InsecureSkipVerify bool
}

// Fetcher reads paginated collections and single records from the API.
// It is safe for concurrent use.
type Fetcher struct {
	baseURL   string
	userAgent string
	policy    RetryPolicy
	client    *http.Client
	pacer     *Pacer
	logger    *zap.Logger

	// sleep performs the backoff wait between attempts; swapped out in
	// tests to observe the schedule without waiting it.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher. BaseURL is required, everything else has a
// usable default.
func New(cfg Config) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "fetch: base URL is required")
	}

	policy := cfg.Policy
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Token, timeout, cfg.InsecureSkipVerify)
	}

	pacer := cfg.Pacer
	if pacer == nil {
		pacer = NewPacer(policy.PerRequestDelay)
	}

	return &Fetcher{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		policy:    policy,
		client:    client,
		pacer:     pacer,
		logger:    logger.Get().With(zap.String("component", "fetch")),
		sleep:     sleepContext,
	}, nil
}

// Policy returns the retry policy the fetcher runs with.
func (f *Fetcher) Policy() RetryPolicy { return f.policy }

// Close releases idle connections held by the underlying transport.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// GetOne fetches a single-record endpoint, such as a subject by BIN or
// a contract by id. The retry schedule applies the same way it does for
// collection pages.
func (f *Fetcher) GetOne(ctx context.Context, req Request) (Item, error) {
	if err := f.pacer.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "pacing wait interrupted")
	}

	body, err := f.doWithRetry(ctx, req.Path, req.target())
	if err != nil {
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransientNetwork, "decode response").
			WithDetail("endpoint", req.Path)
	}
	return item, nil
}

// doWithRetry runs one logical request through the retry schedule: up
// to MaxAttempts tries, waiting BaseDelay*Multiplier^(n-1) before retry
// n, capped at MaxDelay. A Retry-After hint from the server stretches
// the wait but never past the cap. Non-retryable failures abort
// immediately; a spent budget surfaces as fetch_exhausted wrapping the
// last failure.
func (f *Fetcher) doWithRetry(ctx context.Context, endpoint, target string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		body, err := f.do(ctx, endpoint, target)
		if err == nil {
			return body, nil
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == f.policy.MaxAttempts {
			break
		}

		delay := f.policy.BackoffDelay(attempt)
		if hint := retryAfterHint(err); hint > delay {
			delay = hint
			if f.policy.MaxDelay > 0 && delay > f.policy.MaxDelay {
				delay = f.policy.MaxDelay
			}
		}

		metrics.RetriesTotal.WithLabelValues(endpoint).Inc()
		f.logger.Warn("retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if serr := f.sleep(ctx, delay); serr != nil {
			return nil, errors.Wrap(serr, errors.ErrorTypeInternal, "retry wait interrupted").
				WithDetail("endpoint", endpoint)
		}
	}

	return nil, errors.Wrap(lastErr, errors.ErrorTypeFetchExhausted,
		"retry budget spent on "+endpoint).
		WithDetail("endpoint", endpoint).
		WithDetail("attempts", f.policy.MaxAttempts)
}

// do performs a single GET attempt against baseURL+target.
func (f *Fetcher) do(ctx context.Context, endpoint, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build request").
			WithDetail("endpoint", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeTransientNetwork, "request failed").
			WithDetail("endpoint", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome := "server_error"
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			outcome = "rate_limited"
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			outcome = "auth_or_client"
		}
		metrics.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
		return nil, statusError(resp, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeTransientNetwork, "read response body").
			WithDetail("endpoint", endpoint)
	}

	metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	return body, nil
}

// errBodyLimit bounds how much of an error response body is kept as
// error detail.
const errBodyLimit = 2048

// statusError maps a non-2xx response onto the error taxonomy: 429 is
// rate limiting, any other 4xx is a client-side failure not worth
// retrying, 5xx and everything unexpected counts as transient.
func statusError(resp *http.Response, endpoint string) *errors.Error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))

	var e *errors.Error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e = errors.New(errors.ErrorTypeRateLimited, "rate limited by registry")
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			e = e.WithDetail("retry_after", ra)
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e = errors.Newf(errors.ErrorTypeAuthOrClient, "request rejected with status %d", resp.StatusCode)
	default:
		e = errors.Newf(errors.ErrorTypeTransientNetwork, "server error status %d", resp.StatusCode)
	}

	e = e.WithDetail("endpoint", endpoint).WithDetail("status", resp.StatusCode)
	if len(snippet) > 0 {
		e = e.WithDetail("body", string(snippet))
	}
	return e
}

// IsNotFound reports whether err is a client error carrying HTTP 404,
// which is how singleton endpoints answer for an unknown key.
func IsNotFound(err error) bool {
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Type != errors.ErrorTypeAuthOrClient {
		return false
	}
	status, _ := e.Detail("status").(int)
	return status == http.StatusNotFound
}

// parseRetryAfter reads the delay-seconds form of a Retry-After header.
// The HTTP-date form is not used by this API and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// retryAfterHint extracts a server-provided wait from a rate limit
// error, or zero when there is none.
func retryAfterHint(err error) time.Duration {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return 0
	}
	d, _ := e.Detail("retry_after").(time.Duration)
	return d
}

// nextTarget turns a next_page cursor into a request target. The API
// returns absolute URLs for some collections and bare paths for others;
// both reduce to a path plus query resolved against the base URL.
func (f *Fetcher) nextTarget(next string) string {
	if u, err := url.Parse(next); err == nil && u.Host != "" {
		t := u.Path
		if u.RawQuery != "" {
			t += "?" + u.RawQuery
		}
		return t
	}
	return strings.TrimPrefix(next, f.baseURL)
}
