// Package worker implements the bounded-concurrency task runner used by every
// fan-out stage of the collection pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidConcurrency is returned when concurrency is below one.
var ErrInvalidConcurrency = errors.New("concurrency must be >= 1")

// Func processes one item. index is the item's position in the input.
type Func[I, O any] func(ctx context.Context, item I, index int) (O, error)

// ErrorFunc receives per-item failures. Calls are serialized.
type ErrorFunc[I any] func(item I, index int, err error)

// Run invokes fn on every item with at most concurrency invocations
// outstanding. Workers pull the next pending item as soon as they finish the
// previous one, so no worker idles while items remain.
//
// A failing item (error or panic) is reported to onError and contributes no
// entry to the result. Results are returned in input order with failed items
// omitted. Run returns only after every item has produced a result or been
// reported as failed.
//
// Once ctx is done, items that have not started are reported to onError with
// ctx.Err() instead of being invoked.
func Run[I, O any](
	ctx context.Context,
	items []I,
	concurrency int,
	fn Func[I, O],
	onError ErrorFunc[I],
) ([]O, error) {
	if concurrency < 1 {
		return nil, ErrInvalidConcurrency
	}
	if len(items) == 0 {
		return []O{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	workers := concurrency
	if workers > len(items) {
		workers = len(items)
	}

	var (
		cursor atomic.Int64
		errMu  sync.Mutex
		wg     sync.WaitGroup
	)
	slots := make([]O, len(items))
	ok := make([]bool, len(items))

	fail := func(idx int, err error) {
		if onError == nil {
			return
		}
		errMu.Lock()
		defer errMu.Unlock()
		onError(items[idx], idx, err)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= len(items) {
					return
				}
				if err := ctx.Err(); err != nil {
					fail(idx, err)
					continue
				}
				out, err := invoke(ctx, fn, items[idx], idx)
				if err != nil {
					fail(idx, err)
					continue
				}
				slots[idx] = out
				ok[idx] = true
			}
		}()
	}
	wg.Wait()

	results := make([]O, 0, len(items))
	for i := range slots {
		if ok[i] {
			results = append(results, slots[i])
		}
	}
	return results, nil
}

func invoke[I, O any](ctx context.Context, fn Func[I, O], item I, idx int) (out O, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()
	return fn(ctx, item, idx)
}
