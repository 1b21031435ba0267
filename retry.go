package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxAttempts is the sentinel the Provider passes as RetryOptions.Attempts
// for (re)connect loops and sends, where spec.md says "failure means only
// cancellation" — i.e. retry forever until the context is done.
const MaxAttempts = 1<<31 - 1

// RetryOptions configures Do. It generalizes the fixed/exponential backoff
// the teacher's reconnector implements inline for its WS/SSE clients
// (realtime.go's reconnector.nextDelay) into a reusable primitive the
// Provider drives for both reconnection and sends.
type RetryOptions struct {
	Attempts    int           // defaults to 10
	DelayMs     time.Duration // defaults to 100ms; interpreted as a duration, not literal ms
	Exponential bool
	MaxDelayMs  time.Duration // 0 == unbounded
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Attempts <= 0 {
		o.Attempts = 10
	}
	if o.DelayMs <= 0 {
		o.DelayMs = 100 * time.Millisecond
	}
	return o
}

// Do runs fn up to opts.Attempts times, sleeping between failures according
// to opts (doubling the delay each time when Exponential is set, capped at
// MaxDelayMs). It returns fn's result as soon as fn succeeds. If ctx is
// cancelled between attempts or during the sleep, Do stops and returns a
// *BridgeError of KindCancelled. If every attempt fails, the last attempt's
// error is returned as-is (not wrapped), so callers can inspect it with
// errors.As.
func Do(ctx context.Context, fn func(context.Context) error, opts RetryOptions) error {
	opts = opts.withDefaults()

	delay := opts.DelayMs
	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewBridgeError(KindCancelled, "retry cancelled before attempt", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsCancelled(lastErr) {
			return lastErr
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      opts.Attempts,
		}).Debug("bridge: retry attempt failed")

		if attempt == opts.Attempts {
			break
		}

		if err := sleepCtx(ctx, delay); err != nil {
			return NewBridgeError(KindCancelled, "retry cancelled during backoff", err)
		}

		if opts.Exponential {
			delay *= 2
			if opts.MaxDelayMs > 0 && delay > opts.MaxDelayMs {
				delay = opts.MaxDelayMs
			}
		}
	}
	return lastErr
}
