package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qazdata/goszakup-etl/pkg/errors"
)

func TestStreamWalksAllPages(t *testing.T) {
	var (
		requests atomic.Int32
		baseURL  string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/v3/plans/all", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "":
			// Absolute cursor, the way most collections link their pages.
			writePage(t, w, 0, 10, baseURL+"/v3/plans/all?page=2")
		case "2":
			// Bare path cursor, seen on a few endpoints.
			writePage(t, w, 10, 10, "/v3/plans/all?page=3")
		case "3":
			writePage(t, w, 20, 5, "")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	baseURL = srv.URL

	f, err := New(Config{BaseURL: srv.URL, Policy: fastPolicy(1), HTTPClient: srv.Client()})
	require.NoError(t, err)

	s := f.Fetch(context.Background(), Request{Path: "/v3/plans/all"})
	var got []int
	for s.Next() {
		got = append(got, int(s.Item()["n"].(float64)))
	}

	require.NoError(t, s.Err())
	assert.Equal(t, 3, s.Pages())
	assert.Equal(t, 25, s.Count())
	assert.Equal(t, int32(3), requests.Load())

	// Every item from every page, in page order.
	require.Len(t, got, 25)
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestStreamIsLazy(t *testing.T) {
	var requests atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writePage(t, w, 0, 1, "")
	})

	f, _ := newTestFetcher(t, handler, fastPolicy(1))
	s := f.Fetch(context.Background(), Request{Path: "/v3/who-cares"})

	assert.Equal(t, int32(0), requests.Load(), "no request before the first Next")
	assert.True(t, s.Next())
	assert.Equal(t, int32(1), requests.Load())
}

func TestStreamEmptyCollection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, 0, 0, "")
	})

	f, _ := newTestFetcher(t, handler, fastPolicy(1))
	s := f.Fetch(context.Background(), Request{Path: "/v3/refs/ref_units"})

	assert.False(t, s.Next())
	require.NoError(t, s.Err())
	assert.Equal(t, 1, s.Pages())
	assert.Equal(t, 0, s.Count())
}

func TestStreamEmptyMiddlePage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			writePage(t, w, 0, 3, "/v3/apps?page=2")
		case "2":
			writePage(t, w, 0, 0, "/v3/apps?page=3")
		default:
			writePage(t, w, 3, 2, "")
		}
	})

	f, _ := newTestFetcher(t, handler, fastPolicy(1))
	items, err := f.FetchAll(context.Background(), Request{Path: "/v3/apps"})

	require.NoError(t, err)
	assert.Len(t, items, 5, "an empty page must not end the stream early")
}

func TestStreamLoopGuard(t *testing.T) {
	var requests atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		// Every page points at page=2, so the second response repeats
		// the cursor the stream has already followed.
		writePage(t, w, 0, 4, "/v3/journal?page=2")
	})

	f, _ := newTestFetcher(t, handler, fastPolicy(1))
	items, err := f.FetchAll(context.Background(), Request{Path: "/v3/journal"})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePaginationLoop))
	assert.Len(t, items, 8, "items read before the loop was detected are kept")
	assert.Equal(t, int32(2), requests.Load(), "the repeated cursor must not be fetched again")

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "/v3/journal?page=2", e.Detail("cursor"))
}

func TestStreamPacing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			writePage(t, w, 0, 2, "/v3/lots?page=2")
		case "2":
			writePage(t, w, 2, 2, "/v3/lots?page=3")
		default:
			writePage(t, w, 4, 1, "")
		}
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pacer := NewPacer(time.Second)
	clock := &fakeClock{cur: time.Unix(0, 0)}
	clock.install(pacer)

	f, err := New(Config{BaseURL: srv.URL, Policy: fastPolicy(1), Pacer: pacer, HTTPClient: srv.Client()})
	require.NoError(t, err)

	items, err := f.FetchAll(context.Background(), Request{Path: "/v3/lots"})
	require.NoError(t, err)
	assert.Len(t, items, 5)

	// Three pages: the first request goes straight through, the two
	// follow-ups each wait out the spacing.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.waits)
}

func TestStreamSharedPacer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 1}`))
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pacer := NewPacer(time.Second)
	clock := &fakeClock{cur: time.Unix(0, 0)}
	clock.install(pacer)

	newSharing := func() *Fetcher {
		f, err := New(Config{BaseURL: srv.URL, Policy: fastPolicy(1), Pacer: pacer, HTTPClient: srv.Client()})
		require.NoError(t, err)
		return f
	}
	f1, f2 := newSharing(), newSharing()

	_, err := f1.GetOne(context.Background(), ContractByID(1))
	require.NoError(t, err)
	_, err = f2.GetOne(context.Background(), ContractByID(2))
	require.NoError(t, err)

	// The spacing applies across fetchers, not per fetcher.
	assert.Equal(t, []time.Duration{time.Second}, clock.waits)
}

func TestStreamCanceledContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(t, w, 0, 1, "")
	})

	f, _ := newTestFetcher(t, handler, fastPolicy(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := f.Fetch(ctx, Request{Path: "/v3/lots"})
	assert.False(t, s.Next())
	require.Error(t, s.Err())
}
