// Package evaluator implements the per-request permissions evaluator: a
// cache keyed by permission id that loads every held permission sharing a
// probed key together, so a cache miss can definitively answer "no" without
// a second round-trip, and concurrent probes for the same key within one
// request collapse into a single load.
package evaluator

import (
	"context"
	"sync"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
	"github.com/datasektionen/hive-sub000/internal/hive/scope"
)

// Loader loads every held permission sharing permID for the caller this
// Evaluator is bound to (a username or an API token id — the binding lives
// in the concrete Loader implementation, not here).
type Loader interface {
	LoadAssignments(ctx context.Context, permID string) ([]scope.HeldPermission, error)
}

// Evaluator is a narrow, per-request capability: construct one per request
// via New, pass it by reference to whatever needs to probe permissions, and
// let it fall out of scope at the end of the request. It must never be
// hidden behind global state (§9).
type Evaluator struct {
	loader Loader

	mu      sync.Mutex
	cache   map[string][]scope.HeldPermission
	errs    map[string]error
	loading map[string]chan struct{}
}

// New binds an Evaluator to loader for the lifetime of one request.
func New(loader Loader) *Evaluator {
	return &Evaluator{
		loader:  loader,
		cache:   make(map[string][]scope.HeldPermission),
		errs:    make(map[string]error),
		loading: make(map[string]chan struct{}),
	}
}

// fetchAllRelated returns every held permission sharing permID, loading once
// per key even under concurrent callers within the same request. A load
// error is cached alongside a successful result: a waiter woken by the
// loading channel's close must see whichever the loader actually produced,
// not silently fall back to an empty/zero-value held set.
func (e *Evaluator) fetchAllRelated(ctx context.Context, permID string) ([]scope.HeldPermission, error) {
	e.mu.Lock()
	if held, ok := e.cache[permID]; ok {
		e.mu.Unlock()
		return held, nil
	}
	if err, ok := e.errs[permID]; ok {
		e.mu.Unlock()
		return nil, err
	}
	if ch, ok := e.loading[permID]; ok {
		e.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		e.mu.Lock()
		held, err := e.cache[permID], e.errs[permID]
		e.mu.Unlock()
		return held, err
	}

	ch := make(chan struct{})
	e.loading[permID] = ch
	e.mu.Unlock()

	held, err := e.loader.LoadAssignments(ctx, permID)

	e.mu.Lock()
	if err == nil {
		e.cache[permID] = held
	} else {
		e.errs[permID] = err
	}
	delete(e.loading, permID)
	close(ch)
	e.mu.Unlock()

	return held, err
}

// Satisfies reports whether the bound caller holds a permission satisfying
// required, loading required's permId's full held set on first probe.
func (e *Evaluator) Satisfies(ctx context.Context, required scope.HeldPermission) (bool, error) {
	held, err := e.fetchAllRelated(ctx, required.PermID)
	if err != nil {
		return false, err
	}
	for _, h := range held {
		if scope.Satisfies(h, required) {
			return true, nil
		}
	}
	return false, nil
}

// SatisfiesAnyOf reports whether the bound caller satisfies any of
// required.
func (e *Evaluator) SatisfiesAnyOf(ctx context.Context, required []scope.HeldPermission) (bool, error) {
	for _, r := range required {
		ok, err := e.Satisfies(ctx, r)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Require returns a forbidden error (the given key, e.g. hiveerr.KeyForbidden
// or hiveerr.KeyGroupForbidden) if the caller does not satisfy required.
func (e *Evaluator) Require(ctx context.Context, required scope.HeldPermission, forbiddenKey string) error {
	ok, err := e.Satisfies(ctx, required)
	if err != nil {
		return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
	}
	if !ok {
		return hiveerr.ForKey(forbiddenKey)
	}
	return nil
}

// RequireAnyOf returns a forbidden error unless the caller satisfies at
// least one of required.
func (e *Evaluator) RequireAnyOf(ctx context.Context, required []scope.HeldPermission, forbiddenKey string) error {
	ok, err := e.SatisfiesAnyOf(ctx, required)
	if err != nil {
		return hiveerr.Wrap(hiveerr.KeyDB, 500, err)
	}
	if !ok {
		return hiveerr.ForKey(forbiddenKey)
	}
	return nil
}

// AllScopesFor returns every scope the bound caller holds for permID (used
// to implement `GET …/permission/{p}/scopes`, property P5): it is exactly
// the set of held scopes currently cached or loaded for permID.
func (e *Evaluator) AllScopesFor(ctx context.Context, permID string) ([]scope.HeldPermission, error) {
	return e.fetchAllRelated(ctx, permID)
}
