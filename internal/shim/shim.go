// Package shim implements spec.md §4.8: lets the host engine's synchronous
// scalar-UDF invocation trait drive an async guest call by blocking the
// current goroutine on a channel with a ticked deadline.
//
// wazero's guest calls are themselves synchronous Go calls (unlike the
// Rust host's async runtime in original_source/host/src/lib.rs), so this
// shim's job narrows to enforcing the wall-clock deadline uniformly
// regardless of whether the underlying call could yield — it still must
// behave like the spec's blocking bridge so timeout semantics match
// exactly (spec.md §4.8, §5 "Timeouts").
package shim

import (
	"context"
	"errors"
	"runtime"
	"time"
)

// ErrSingleThreaded is returned when InPlaceBlocking's GOMAXPROCS guard
// trips, matching spec.md §4.8: "If the current scheduler is
// single-threaded, the call fails with 'in-place blocking only works for
// multi-thread runtimes'."
var ErrSingleThreaded = errors.New("in-place blocking only works for multi-thread runtimes")

// ErrDeadlineElapsed is returned on timeout, matching spec.md §4.8/§6 S6.
var ErrDeadlineElapsed = errors.New("deadline has elapsed")

// Deadline computes epoch_tick_time * inplace_blocking_max_ticks (spec.md §4.8).
func Deadline(tickTime time.Duration, maxTicks int) time.Duration {
	return tickTime * time.Duration(maxTicks)
}

// InPlaceBlocking runs fn to completion or until timeout elapses, whichever
// comes first, returning fn's result or ErrDeadlineElapsed/ErrSingleThreaded.
//
// Cancellation semantics (spec.md §4.8): a timeout cancels fn's context at
// the next suspension point inside the host; the guest itself is
// independently interrupted by the engine's own epoch/WithCloseOnContextDone
// mechanism, which preempts even a tight CPU loop in the guest.
func InPlaceBlocking[T any](parent context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if runtime.GOMAXPROCS(0) < 2 {
		return zero, ErrSingleThreaded
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ErrDeadlineElapsed
	}
}
