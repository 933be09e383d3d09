package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qazdata/goszakup-etl/pkg/errors"
)

// fastPolicy keeps retry waits out of the test clock; the waits are
// recorded through the swapped sleep function, never slept.
func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// newTestFetcher wires a Fetcher to the given handler and captures
// backoff waits instead of sleeping them.
func newTestFetcher(t *testing.T, handler http.Handler, policy RetryPolicy) (*Fetcher, *[]time.Duration) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f, err := New(Config{
		BaseURL:    srv.URL,
		Policy:     policy,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	sleeps := &[]time.Duration{}
	f.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return f, sleeps
}

func writePage(t *testing.T, w http.ResponseWriter, first, count int, next string) {
	t.Helper()

	items := make([]Item, count)
	for i := range items {
		items[i] = Item{"n": first + i}
	}
	env := map[string]interface{}{"items": items}
	if next == "" {
		env["next_page"] = nil
	} else {
		env["next_page"] = next
	}

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(env))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	_, err := New(Config{
		BaseURL: "https://ows.example",
		Policy:  RetryPolicy{MaxAttempts: 0, BaseDelay: time.Second, Multiplier: 2},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestNewDefaultsPolicy(t *testing.T) {
	f, err := New(Config{BaseURL: "https://ows.example"})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, DefaultRetryPolicy(), f.Policy())
}

func TestRetryThenSuccess(t *testing.T) {
	var requests atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writePage(t, w, 0, 3, "")
	})

	f, sleeps := newTestFetcher(t, handler, fastPolicy(3))
	items, err := f.FetchAll(context.Background(), Request{Path: "/v3/lots"})

	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, int32(3), requests.Load())
	// Exactly two backoff waits before the succeeding attempt.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestFailFastOnClientError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var requests atomic.Int32
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(status)
			})

			f, sleeps := newTestFetcher(t, handler, fastPolicy(3))
			items, err := f.FetchAll(context.Background(), Request{Path: "/v3/rnu"})

			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeAuthOrClient))
			assert.Empty(t, items)
			assert.Equal(t, int32(1), requests.Load(), "client errors must not be retried")
			assert.Empty(t, *sleeps)

			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, status, e.Detail("status"))
			assert.Equal(t, "/v3/rnu", e.Detail("endpoint"))
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		wantWait   time.Duration
	}{
		{name: "hint stretches the wait", retryAfter: "7", wantWait: 7 * time.Second},
		{name: "hint capped at max delay", retryAfter: "120", wantWait: 30 * time.Second},
		{name: "no hint uses backoff", retryAfter: "", wantWait: time.Second},
		{name: "junk hint uses backoff", retryAfter: "soon", wantWait: time.Second},
		{name: "hint below backoff ignored", retryAfter: "0", wantWait: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if requests.Add(1) == 1 {
					if tt.retryAfter != "" {
						w.Header().Set("Retry-After", tt.retryAfter)
					}
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				writePage(t, w, 0, 1, "")
			})

			f, sleeps := newTestFetcher(t, handler, fastPolicy(3))
			items, err := f.FetchAll(context.Background(), Request{Path: "/v3/contract/all"})

			require.NoError(t, err)
			assert.Len(t, items, 1)
			require.Len(t, *sleeps, 1)
			assert.Equal(t, tt.wantWait, (*sleeps)[0])
		})
	}
}

func TestFetchExhaustedKeepsPartialResult(t *testing.T) {
	var pageTwoAttempts atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			pageTwoAttempts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writePage(t, w, 0, 5, "/v3/acts?page=2")
	})

	f, sleeps := newTestFetcher(t, handler, fastPolicy(3))
	items, err := f.FetchAll(context.Background(), Request{Path: "/v3/acts"})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetchExhausted))
	assert.Len(t, items, 5, "items from earlier pages survive the failure")
	assert.Equal(t, int32(3), pageTwoAttempts.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 3, e.Detail("attempts"))
	assert.Equal(t, "/v3/acts", e.Detail("endpoint"))
}

func TestGetOne(t *testing.T) {
	t.Run("decodes a bare object", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/subject/biin/123456789012", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"pid": 42, "name_ru": "ТОО Пример"}`))
		})

		f, _ := newTestFetcher(t, handler, fastPolicy(1))
		item, err := f.GetOne(context.Background(), SubjectByBIIN("123456789012"))

		require.NoError(t, err)
		assert.Equal(t, float64(42), item["pid"])
		assert.Equal(t, "ТОО Пример", item["name_ru"])
	})

	t.Run("missing key is not found", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		f, _ := newTestFetcher(t, handler, fastPolicy(3))
		_, err := f.GetOne(context.Background(), ContractByID(99))

		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestIsNotFound(t *testing.T) {
	notFound := errors.New(errors.ErrorTypeAuthOrClient, "request rejected").
		WithDetail("status", http.StatusNotFound)
	denied := errors.New(errors.ErrorTypeAuthOrClient, "request rejected").
		WithDetail("status", http.StatusUnauthorized)

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(denied))
	assert.False(t, IsNotFound(errors.New(errors.ErrorTypeInternal, "boom")))
	assert.False(t, IsNotFound(context.Canceled))
	assert.False(t, IsNotFound(nil))
}

func TestNextTarget(t *testing.T) {
	f := &Fetcher{baseURL: "https://ows.example"}

	tests := []struct {
		name string
		next string
		want string
	}{
		{name: "absolute url", next: "https://ows.example/v3/lots?page=2", want: "/v3/lots?page=2"},
		{name: "absolute url other host", next: "https://mirror.example/v3/lots?page=2", want: "/v3/lots?page=2"},
		{name: "bare path", next: "/v3/lots?page=2", want: "/v3/lots?page=2"},
		{name: "base prefixed string", next: "https://ows.example/v3/lots", want: "/v3/lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.nextTarget(tt.next))
		})
	}
}

func TestEndpointRequests(t *testing.T) {
	assert.Equal(t, "/v3/subject/biin/123456789012", SubjectByBIIN("123456789012").Path)
	assert.Equal(t, "/v3/subject/17", SubjectByID(17).Path)
	assert.Equal(t, "/v3/rnu/990301300100", RNUByBIIN("990301300100").Path)
	assert.Equal(t, "/v3/plans/view/5", PlanByID(5).Path)
	assert.Equal(t, "/v3/trd-buy/9000001", AnnouncementByID(9000001).Path)
	assert.Equal(t, "/v3/trd-buy/number-anno/1234567-1", AnnouncementByNumber("1234567-1").Path)
	assert.Equal(t, "/v3/lots/3", LotByID(3).Path)
	assert.Equal(t, "/v3/contract/8", ContractByID(8).Path)
	assert.Equal(t, "/v3/acts/11", ActByID(11).Path)

	j := Journal("2024-01-01 00:00:00", "2024-01-02 00:00:00")
	assert.Equal(t, "/v3/journal", j.Path)
	assert.Equal(t, "2024-01-01 00:00:00", j.Query.Get("date_from"))
	assert.Equal(t, "2024-01-02 00:00:00", j.Query.Get("date_to"))
}
