package util

// Pool is a bounded free-list of reusable values of type T. Rent removes a value from the pool, creating one with
// the factory if the pool is empty. Return gives a value back to the pool if the returnIf predicate allows it and
// the pool has not reached its capacity; otherwise the value is discarded. Rent and Return are concurrency safe.
//
// Pool exists because T here is always large-ish, cyclically-used state (TaskExecution, HedgingExecutionContext)
// that would otherwise churn the allocator on every hedged call; a bounded channel-backed free-list keeps that
// churn out of the hot path while still being trivial to reason about and to drain in tests.
type Pool[T any] struct {
	factory  func() T
	returnIf func(T) bool
	free     chan T
}

// NewPool creates a Pool with the given capacity, factory, and return predicate. A nil returnIf always accepts
// returned values.
func NewPool[T any](capacity int, factory func() T, returnIf func(T) bool) *Pool[T] {
	Assert(capacity > 0, "capacity must be > 0")
	if returnIf == nil {
		returnIf = func(T) bool { return true }
	}
	return &Pool[T]{
		factory:  factory,
		returnIf: returnIf,
		free:     make(chan T, capacity),
	}
}

// Rent returns a value from the free-list, or a freshly constructed one if the free-list is empty.
func (p *Pool[T]) Rent() T {
	select {
	case v := <-p.free:
		return v
	default:
		return p.factory()
	}
}

// Return gives v back to the pool. If the pool is at capacity or returnIf rejects v, it is discarded.
func (p *Pool[T]) Return(v T) {
	if !p.returnIf(v) {
		return
	}
	select {
	case p.free <- v:
	default:
	}
}

// Len returns the number of values currently held in the free-list. Intended for tests.
func (p *Pool[T]) Len() int {
	return len(p.free)
}
