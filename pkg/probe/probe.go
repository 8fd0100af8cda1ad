// Package probe runs a fixed set of independent operations concurrently and
// collects a value-or-error outcome per operation. A failure in one
// operation never cancels or corrupts the outcome of another.
package probe

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is the result of a single named operation: either a value or the
// error that produced it, never both.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Failed reports whether the operation ended in an error.
func (o Outcome[T]) Failed() bool { return o.Err != nil }

// Op is a single asynchronous operation run by Run.
type Op[T any] func(ctx context.Context) (T, error)

// Run launches every named operation in its own goroutine and waits for all
// of them to finish. The returned map contains exactly one Outcome per input
// name regardless of success or failure. Run imposes no aggregate timeout;
// each operation is expected to bound its own execution (typically through a
// breaker-enforced call timeout). A panicking operation is captured as a
// failed Outcome rather than taking down its siblings.
func Run[T any](ctx context.Context, ops map[string]Op[T]) map[string]Outcome[T] {
	results := make(map[string]Outcome[T], len(ops))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, op := range ops {
		wg.Add(1)
		go func(name string, op Op[T]) {
			defer wg.Done()
			out := runOne(ctx, name, op)
			mu.Lock()
			results[name] = out
			mu.Unlock()
		}(name, op)
	}
	wg.Wait()

	return results
}

func runOne[T any](ctx context.Context, name string, op Op[T]) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = Outcome[T]{Value: zero, Err: fmt.Errorf("probe %q panicked: %v", name, r)}
		}
	}()

	v, err := op(ctx)
	return Outcome[T]{Value: v, Err: err}
}
