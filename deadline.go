package bridge

import (
	"context"
	"time"
)

// awaitWithTimeout bounds action by an overall deadline (when timeout > 0)
// composed with the caller's ctx, matching spec.md §4.2's "deferred with
// timeout" primitive. Go's context package already gives the "abort when
// any of {outer, timer} fires" composition spec.md §9 says a language
// without a native linked-abort primitive must build by hand — so this is a
// thin wrapper rather than a hand-rolled signal composer.
func awaitWithTimeout[T any](ctx context.Context, timeout time.Duration, action func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	composed := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		composed, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return action(composed)
}
