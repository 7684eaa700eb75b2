package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for batch dispatching.
var (
	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "force_batch_items_total",
		Help: "Total batch items by result",
	}, []string{"result"})

	batchRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "force_batch_rejected_total",
		Help: "Total batches rejected before dispatch for exceeding the size limit",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "force_batch_duration_seconds",
		Help:    "Time until a batch produced its aggregate outcome",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// DefaultMaxItems matches the server-side guidance of ten concurrent calls.
const DefaultMaxItems = 10

// Limits bounds one dispatch.
type Limits struct {
	// MaxItems is the largest batch accepted. Larger batches fail before any
	// item runs.
	MaxItems int

	// MaxInFlight caps simultaneously running items. Zero means MaxItems,
	// so by default the batch size ceiling is also the parallelism ceiling.
	MaxInFlight int
}

// DefaultLimits returns limits with MaxItems = DefaultMaxItems.
func DefaultLimits() Limits {
	return Limits{MaxItems: DefaultMaxItems}
}

func (l Limits) normalize() Limits {
	if l.MaxItems <= 0 {
		l.MaxItems = DefaultMaxItems
	}
	if l.MaxInFlight <= 0 || l.MaxInFlight > l.MaxItems {
		l.MaxInFlight = l.MaxItems
	}
	return l
}

// Op processes one item. index is the item's position in the input.
type Op[In, Out any] func(ctx context.Context, index int, item In) (Out, error)

type outcome[Out any] struct {
	index int
	value Out
	err   error
}

// Dispatch runs op for every item concurrently and returns the results in
// input order.
//
// A batch larger than limits.MaxItems fails with *LimitExceededError before
// op runs for any item. Otherwise the first item error (by completion time)
// becomes the aggregate result immediately. Items already started keep
// running to completion; their outcomes are discarded.
func Dispatch[In, Out any](ctx context.Context, limits Limits, items []In, op Op[In, Out]) ([]Out, error) {
	limits = limits.normalize()
	if len(items) > limits.MaxItems {
		batchRejectedTotal.Inc()
		return nil, &LimitExceededError{Size: len(items), Max: limits.MaxItems}
	}

	results := make([]Out, len(items))
	if len(items) == 0 {
		return results, nil
	}

	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	// Buffered for every item so stragglers never block after an early return.
	outcomes := make(chan outcome[Out], len(items))
	sem := semaphore.NewWeighted(int64(limits.MaxInFlight))

	go func() {
		for i, item := range items {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes <- outcome[Out]{index: i, err: err}
				continue
			}
			go func(i int, item In) {
				defer sem.Release(1)
				value, err := op(ctx, i, item)
				outcomes <- outcome[Out]{index: i, value: value, err: err}
			}(i, item)
		}
	}()

	for received := 0; received < len(items); received++ {
		o := <-outcomes
		if o.err != nil {
			batchItemsTotal.WithLabelValues("error").Inc()
			log.Debug().
				Err(o.err).
				Int("index", o.index).
				Int("size", len(items)).
				Msg("Batch item failed, returning first error")
			return nil, o.err
		}
		batchItemsTotal.WithLabelValues("success").Inc()
		results[o.index] = o.value
	}

	return results, nil
}

// One runs op for a single item through the same path as Dispatch, so the
// single-item form behaves exactly like a batch of one.
func One[In, Out any](ctx context.Context, item In, op Op[In, Out]) (Out, error) {
	results, err := Dispatch(ctx, Limits{MaxItems: 1}, []In{item}, op)
	if err != nil {
		var zero Out
		return zero, err
	}
	return results[0], nil
}

// LimitExceededError reports a batch rejected for its size.
type LimitExceededError struct {
	Size int
	Max  int
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("exceeded max limit of concurrent call: %d items, max %d", e.Size, e.Max)
}
