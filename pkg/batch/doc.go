// Package batch fans a bulk record operation out into one call per item.
//
// The dispatcher enforces a size ceiling before anything is sent, bounds the
// number of simultaneously running items with a weighted semaphore, keeps
// results in input order and fails fast on the first item error.
//
// Example usage:
//
//	records, err := batch.Dispatch(ctx, batch.DefaultLimits(), ids,
//		func(ctx context.Context, i int, id string) (Record, error) {
//			return conn.retrieveOne(ctx, "Account", id)
//		})
//
// By default MaxInFlight equals MaxItems: a batch may hold as many items as
// may run at once. Set MaxInFlight lower to accept large batches while
// keeping the number of open requests small.
//
// There is no cancellation once a batch is running. After the first error
// the remaining items still complete; only their results are dropped.
package batch
