package evaluator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
)

type countingLoader struct {
	calls int32
	held  []scope.HeldPermission
	delay time.Duration
}

func (l *countingLoader) LoadAssignments(ctx context.Context, permID string) ([]scope.HeldPermission, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	return l.held, nil
}

func TestSatisfies_CachesAfterFirstLoad(t *testing.T) {
	loader := &countingLoader{held: []scope.HeldPermission{scope.Scoped("manage-system", scope.Wildcard())}}
	e := New(loader)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := e.Satisfies(ctx, scope.Scoped("manage-system", scope.Concrete("sys-a")))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected wildcard scope to satisfy concrete probe")
		}
	}

	if got := atomic.LoadInt32(&loader.calls); got != 1 {
		t.Errorf("LoadAssignments called %d times, want 1", got)
	}
}

func TestSatisfies_EmptySetCachesNo(t *testing.T) {
	loader := &countingLoader{held: nil}
	e := New(loader)
	ctx := context.Background()

	ok, err := e.Satisfies(ctx, scope.Unscoped("view-logs"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected deny for empty held set")
	}
	if _, err := e.Satisfies(ctx, scope.Unscoped("view-logs")); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&loader.calls); got != 1 {
		t.Errorf("LoadAssignments called %d times, want 1 (cache miss should still cache the empty answer)", got)
	}
}

func TestSatisfies_ConcurrentProbesCollapseToOneLoad(t *testing.T) {
	loader := &countingLoader{
		held:  []scope.HeldPermission{scope.Unscoped("view-logs")},
		delay: 20 * time.Millisecond,
	}
	e := New(loader)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Satisfies(ctx, scope.Unscoped("view-logs"))
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&loader.calls); got != 1 {
		t.Errorf("LoadAssignments called %d times under concurrent probes, want 1", got)
	}
}

type erroringLoader struct {
	calls int32
	delay time.Duration
	err   error
}

func (l *erroringLoader) LoadAssignments(ctx context.Context, permID string) ([]scope.HeldPermission, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	return nil, l.err
}

func TestFetchAllRelated_ConcurrentWaitersObserveLoadError(t *testing.T) {
	wantErr := errors.New("db unavailable")
	loader := &erroringLoader{delay: 20 * time.Millisecond, err: wantErr}
	e := New(loader)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.fetchAllRelated(ctx, "view-logs")
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("waiter %d: got err %v, want %v", i, err, wantErr)
		}
	}
	if got := atomic.LoadInt32(&loader.calls); got != 1 {
		t.Errorf("LoadAssignments called %d times under concurrent probes, want 1", got)
	}

	// A later probe for the same key still observes the cached error rather
	// than silently treating the failure as "no permission held".
	if _, err := e.Satisfies(ctx, scope.Unscoped("view-logs")); !errors.Is(err, wantErr) {
		t.Errorf("Satisfies: got err %v, want %v", err, wantErr)
	}
}

func TestRequire_ReturnsForbiddenKey(t *testing.T) {
	e := New(&countingLoader{})
	err := e.Require(context.Background(), scope.Unscoped("manage-systems"), "group.forbidden")
	if err == nil {
		t.Fatal("expected error")
	}
	var he *hiveerr.Error
	if !errors.As(err, &he) || he.Key != "group.forbidden" {
		t.Fatalf("expected key group.forbidden, got %v", err)
	}
}
