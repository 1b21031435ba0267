package bridge

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeResource struct {
	mu     sync.Mutex
	closed bool
	name   string
}

func (f *fakeResource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeResource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestResourceCell_CreateAndGet(t *testing.T) {
	cell := newResourceCell[*fakeResource]()

	got, err := cell.create(context.Background(), func(context.Context) (*fakeResource, error) {
		return &fakeResource{name: "one"}, nil
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	current, ok := cell.get()
	if !ok || current != got {
		t.Fatal("get() did not return the just-created resource")
	}
}

func TestResourceCell_CreateDisposesPrevious(t *testing.T) {
	cell := newResourceCell[*fakeResource]()

	first, err := cell.create(context.Background(), func(context.Context) (*fakeResource, error) {
		return &fakeResource{name: "first"}, nil
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}

	_, err = cell.create(context.Background(), func(context.Context) (*fakeResource, error) {
		return &fakeResource{name: "second"}, nil
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if !first.isClosed() {
		t.Fatal("expected the first resource to be disposed once superseded")
	}
}

func TestResourceCell_Dispose(t *testing.T) {
	cell := newResourceCell[*fakeResource]()

	res, err := cell.create(context.Background(), func(context.Context) (*fakeResource, error) {
		return &fakeResource{}, nil
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cell.dispose()

	if !res.isClosed() {
		t.Fatal("expected dispose() to close the held resource")
	}
	if _, ok := cell.get(); ok {
		t.Fatal("expected get() to report nothing held after dispose")
	}

	// Idempotent.
	cell.dispose()
}

func TestResourceCell_RacingCreateSupersedesSlowFactory(t *testing.T) {
	cell := newResourceCell[*fakeResource]()
	release := make(chan struct{})

	slowDone := make(chan error, 1)
	go func() {
		_, err := cell.create(context.Background(), func(ctx context.Context) (*fakeResource, error) {
			<-release
			return &fakeResource{name: "slow"}, nil
		})
		slowDone <- err
	}()

	// Give the slow create a moment to register itself before racing it.
	time.Sleep(10 * time.Millisecond)

	fast, err := cell.create(context.Background(), func(context.Context) (*fakeResource, error) {
		return &fakeResource{name: "fast"}, nil
	})
	if err != nil {
		t.Fatalf("fast create: %v", err)
	}

	close(release)
	slowErr := <-slowDone
	if slowErr == nil {
		t.Fatal("expected the slow create to be rejected as superseded")
	}

	current, ok := cell.get()
	if !ok || current != fast {
		t.Fatal("expected the fast create to win and be the held resource")
	}
}

func TestResourceCell_FactoryError(t *testing.T) {
	cell := newResourceCell[*fakeResource]()

	wantErr := NewBridgeError(KindInternal, "boom", nil)
	_, err := cell.create(context.Background(), func(context.Context) (*fakeResource, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected factory error to propagate, got %v", err)
	}
	if _, ok := cell.get(); ok {
		t.Fatal("expected nothing held after a failed create")
	}
}
