package bridge

import (
	"context"
	"sync"
)

// Disposable is anything a resourceCell can own and later tear down.
type Disposable interface {
	Close() error
}

// resourceCell holds at most one owned resource of type T and guarantees
// at-most-one live instance under racing create calls, per spec.md §4.3.
// It is the thing standing between the Gateway and a bare `*sseSubscription`
// field: without it, a reconnect racing a slow in-flight connect attempt
// could leak a subscription or hand messages to a superseded listener.
type resourceCell[T Disposable] struct {
	mu      sync.Mutex
	current T
	hasCur  bool
	cancel  context.CancelFunc
	gen     uint64 // bumped on every create, used to detect supersession
}

func newResourceCell[T Disposable]() *resourceCell[T] {
	return &resourceCell[T]{}
}

// create aborts any prior in-flight creation and disposes the currently
// held resource, then awaits factory under a context chained to ctx. If a
// later create() has started by the time factory resolves, the just-built
// resource is disposed immediately and a KindResourceRace error is
// returned instead of installing it.
func (c *resourceCell[T]) create(ctx context.Context, factory func(context.Context) (T, error)) (T, error) {
	var zero T

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.hasCur {
		disposeQuietly(c.current)
		c.hasCur = false
		var z T
		c.current = z
	}
	c.gen++
	myGen := c.gen
	childCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	result, err := factory(childCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.gen == myGen {
			c.cancel = nil
		}
		return zero, err
	}

	if c.gen != myGen {
		// Superseded while factory was in flight: the caller that started
		// gen N+1 has already cleared our field; this instance never
		// becomes visible and must be disposed here.
		disposeQuietly(result)
		return zero, NewBridgeError(KindResourceRace, "create superseded by a newer creation", nil)
	}

	c.current = result
	c.hasCur = true
	return result, nil
}

// get returns the held instance, or the zero value and false if none.
func (c *resourceCell[T]) get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasCur
}

// dispose cancels any in-flight creation and disposes the current
// resource. Idempotent: disposing an already-empty cell is a no-op.
func (c *resourceCell[T]) dispose() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	hadCur := c.hasCur
	cur := c.current
	c.hasCur = false
	var zero T
	c.current = zero
	c.gen++
	c.mu.Unlock()

	if hadCur {
		disposeQuietly(cur)
	}
}

func disposeQuietly(d Disposable) {
	defer func() { _ = recover() }()
	_ = d.Close()
}
