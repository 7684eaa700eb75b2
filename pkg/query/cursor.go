package query

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/force-client/pkg/record"
)

// Prometheus metrics for query streaming.
var (
	queryPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_query_pages_total",
		Help: "Total query result pages fetched",
	})

	queryRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_query_records_total",
		Help: "Total query records delivered to handlers",
	})

	queryStreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "force_query_streams_total",
		Help: "Total query streams by final state",
	}, []string{"state"})
)

// ErrCursorStarted is returned when Run is called on a cursor that already ran.
var ErrCursorStarted = errors.New("query cursor already started")

// State is the lifecycle position of a Cursor.
type State string

// Cursor states.
const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateEmitting State = "emitting"
	StateDone     State = "done"
	StateError    State = "error"
	StateStopped  State = "stopped"
)

// Page is one page of query results.
type Page struct {
	TotalSize      int             `json:"totalSize"`
	Done           bool            `json:"done"`
	NextRecordsURL string          `json:"nextRecordsUrl,omitempty"`
	Records        []record.Record `json:"records"`
}

// Fetcher retrieves a single page. Exactly one of soql and locator is set:
// soql for the first page, locator for every page after it.
type Fetcher interface {
	FetchPage(ctx context.Context, soql, locator string) (*Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, soql, locator string) (*Page, error)

// FetchPage implements Fetcher.
func (f FetcherFunc) FetchPage(ctx context.Context, soql, locator string) (*Page, error) {
	return f(ctx, soql, locator)
}

// Handlers receive the stream. Any of them may be nil.
type Handlers struct {
	// Page fires once per fetched page, before its records.
	Page func(page *Page)
	// Record fires per record with its index in the page and its zero-based
	// position across the stream.
	Record func(rec record.Record, index, position int)
	// End fires once with the number of records delivered, also after Stop.
	End func(total int)
	// Error fires once if a page fetch fails. End does not fire after it.
	Error func(err error)
}

// Options configures a Cursor.
type Options struct {
	// AutoFetch follows next-records locators until the server reports done.
	AutoFetch bool
	// PageTimeout bounds each page fetch. Zero means no extra bound.
	PageTimeout time.Duration
}

// Cursor walks a query's result pages. A cursor runs once.
type Cursor struct {
	fetcher Fetcher
	soql    string
	opts    Options

	mu      sync.Mutex
	state   State
	locator string
	total   int

	stopped atomic.Bool
}

// New creates a cursor for a query string.
func New(fetcher Fetcher, soql string, opts Options) *Cursor {
	return &Cursor{fetcher: fetcher, soql: soql, opts: opts, state: StateIdle}
}

// Resume creates a cursor continuing from a locator. Full next-records URLs
// are accepted; only the last path segment is kept.
func Resume(fetcher Fetcher, locator string, opts Options) *Cursor {
	return &Cursor{fetcher: fetcher, locator: NormalizeLocator(locator), opts: opts, state: StateIdle}
}

// NormalizeLocator reduces a next-records URL to its final path segment.
func NormalizeLocator(locator string) string {
	if i := strings.LastIndex(locator, "/"); i >= 0 {
		return locator[i+1:]
	}
	return locator
}

// State returns the cursor's current state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Total returns the number of records delivered so far.
func (c *Cursor) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Locator returns the locator of the next unfetched page, or "" when the
// server reported no further pages.
func (c *Cursor) Locator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locator
}

// Stop ends the stream at the next record or page boundary. Calling Stop
// more than once, or after the stream ended, has no effect.
func (c *Cursor) Stop() {
	c.stopped.Store(true)
}

func (c *Cursor) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run streams every page to h and returns the number of records delivered.
// It returns the fetch error if a page fails; records delivered before the
// failure stay delivered.
func (c *Cursor) Run(ctx context.Context, h Handlers) (int, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return 0, ErrCursorStarted
	}
	c.state = StateFetching
	soql, locator := c.soql, c.locator
	c.mu.Unlock()

	for {
		if c.stopped.Load() {
			return c.finish(StateStopped, h), nil
		}

		page, err := c.fetch(ctx, soql, locator)
		if err != nil {
			c.setState(StateError)
			queryStreamsTotal.WithLabelValues(string(StateError)).Inc()
			log.Debug().Err(err).Int("delivered", c.Total()).Msg("Query page fetch failed")
			if h.Error != nil {
				h.Error(err)
			}
			return c.Total(), err
		}
		queryPagesTotal.Inc()

		c.mu.Lock()
		c.locator = ""
		if !page.Done && page.NextRecordsURL != "" {
			c.locator = NormalizeLocator(page.NextRecordsURL)
		}
		locator = c.locator
		c.mu.Unlock()

		if c.stopped.Load() {
			return c.finish(StateStopped, h), nil
		}

		c.setState(StateEmitting)
		if h.Page != nil {
			h.Page(page)
		}
		for i, rec := range page.Records {
			if c.stopped.Load() {
				return c.finish(StateStopped, h), nil
			}
			c.mu.Lock()
			position := c.total
			c.total++
			c.mu.Unlock()
			queryRecordsTotal.Inc()
			if h.Record != nil {
				h.Record(rec, i, position)
			}
		}

		if !c.opts.AutoFetch || locator == "" {
			if c.stopped.Load() {
				return c.finish(StateStopped, h), nil
			}
			return c.finish(StateDone, h), nil
		}

		soql = ""
		c.setState(StateFetching)
	}
}

func (c *Cursor) fetch(ctx context.Context, soql, locator string) (*Page, error) {
	if c.opts.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PageTimeout)
		defer cancel()
	}
	page, err := c.fetcher.FetchPage(ctx, soql, locator)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &Page{Done: true}
	}
	return page, nil
}

func (c *Cursor) finish(s State, h Handlers) int {
	c.mu.Lock()
	c.state = s
	total := c.total
	c.mu.Unlock()

	queryStreamsTotal.WithLabelValues(string(s)).Inc()
	log.Debug().Str("state", string(s)).Int("total", total).Msg("Query stream ended")
	if h.End != nil {
		h.End(total)
	}
	return total
}

// Records returns an iterator over the stream. Breaking out of the loop stops
// the cursor. A fetch failure is yielded once as a nil record with the error.
// The iterator may be ranged over only once.
func (c *Cursor) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		halted := false
		_, err := c.Run(ctx, Handlers{
			Record: func(rec record.Record, _, _ int) {
				if halted {
					return
				}
				if !yield(rec, nil) {
					halted = true
					c.Stop()
				}
			},
		})
		if err != nil && !halted {
			yield(nil, err)
		}
	}
}
