package fetch

import (
	"context"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/pkg/errors"
	"github.com/qazdata/goszakup-etl/pkg/metrics"
)

// Fetch starts reading a collection endpoint. The returned stream is
// lazy: nothing is requested until the first Next call, and pages are
// fetched one at a time as the caller consumes items. A stream cannot
// be restarted; call Fetch again to read from the beginning.
func (f *Fetcher) Fetch(ctx context.Context, req Request) *Stream {
	return &Stream{
		f:        f,
		ctx:      ctx,
		endpoint: req.Path,
		target:   req.target(),
		visited:  make(map[string]struct{}),
	}
}

// FetchAll drains a collection into memory. On failure the items read
// before the failure are returned alongside the error.
func (f *Fetcher) FetchAll(ctx context.Context, req Request) ([]Item, error) {
	s := f.Fetch(ctx, req)
	var items []Item
	for s.Next() {
		items = append(items, s.Item())
	}
	return items, s.Err()
}

// Stream iterates over the items of a paginated collection.
//
//	s := fetcher.Fetch(ctx, req)
//	for s.Next() {
//		item := s.Item()
//		...
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
type Stream struct {
	f        *Fetcher
	ctx      context.Context
	endpoint string

	target  string // next request target, empty once the cursor chain ends
	visited map[string]struct{}

	buf   []Item
	cur   Item
	err   error
	done  bool
	pages int
	items int
}

// Next advances to the next item. It returns false once the collection
// is exhausted or an error occurred; Err distinguishes the two. Items
// buffered before a failure are still delivered, the error surfaces
// only after they are consumed.
func (s *Stream) Next() bool {
	for len(s.buf) == 0 {
		if s.err != nil || s.done {
			return false
		}
		s.fetchPage()
	}
	s.cur = s.buf[0]
	s.buf = s.buf[1:]
	s.items++
	return true
}

// Item returns the item the last successful Next call advanced to.
func (s *Stream) Item() Item { return s.cur }

// Err returns the error that stopped the stream, if any. Items consumed
// before the failure remain valid partial results.
func (s *Stream) Err() error { return s.err }

// Pages returns the number of pages fetched so far.
func (s *Stream) Pages() int { return s.pages }

// Count returns the number of items consumed so far.
func (s *Stream) Count() int { return s.items }

// fetchPage pulls the next page into the buffer and lines up the cursor
// for the one after it. Every cursor seen on this stream is remembered;
// a repeat means the API is looping and the stream fails rather than
// re-reading pages forever.
func (s *Stream) fetchPage() {
	if err := s.f.pacer.Wait(s.ctx); err != nil {
		s.err = errors.Wrap(err, errors.ErrorTypeInternal, "pacing wait interrupted").
			WithDetail("endpoint", s.endpoint)
		return
	}

	body, err := s.f.doWithRetry(s.ctx, s.endpoint, s.target)
	if err != nil {
		s.err = err
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.err = errors.Wrap(err, errors.ErrorTypeTransientNetwork, "decode page").
			WithDetail("endpoint", s.endpoint).
			WithDetail("page", s.pages+1)
		return
	}

	s.pages++
	s.buf = env.Items
	metrics.PagesFetched.WithLabelValues(s.endpoint).Inc()
	metrics.ItemsFetched.WithLabelValues(s.endpoint).Add(float64(len(env.Items)))
	s.f.logger.Debug("page fetched",
		zap.String("endpoint", s.endpoint),
		zap.Int("page", s.pages),
		zap.Int("items", len(env.Items)))

	next := env.next()
	if next == "" {
		s.done = true
		return
	}
	if _, seen := s.visited[next]; seen {
		s.err = errors.Newf(errors.ErrorTypePaginationLoop, "cursor repeated on %s", s.endpoint).
			WithDetail("endpoint", s.endpoint).
			WithDetail("cursor", next).
			WithDetail("pages", s.pages)
		return
	}
	s.visited[next] = struct{}{}
	s.target = s.f.nextTarget(next)
}
