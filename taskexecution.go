package hedge

import (
	"context"
	"fmt"
	"sync"

	"github.com/hedge-go/hedge-go/common"
)

// ExecutionType distinguishes the primary attempt from its hedges, per spec §3's TaskExecution.Type.
type ExecutionType int

const (
	// Primary is attempt 0, the original (unhedged) call.
	Primary ExecutionType = iota
	// Secondary is any hedge attempt, numbered 1..N.
	Secondary
)

func (t ExecutionType) String() string {
	if t == Primary {
		return "Primary"
	}
	return "Secondary"
}

// Operation is the user-supplied callable a TaskExecution races: the primary operation for attempt 0, or one
// produced by a HedgingActionGenerator for later attempts.
type Operation[R any] func(ctx *ResilienceContext) (R, error)

// HedgingActionGeneratorArgs is passed to a HedgingActionGenerator when deciding whether to produce another hedge.
type HedgingActionGeneratorArgs[R any] struct {
	Attempt int
	Context *ResilienceContext
}

// HedgingActionGenerator produces the Operation for a secondary attempt, or returns nil to stop hedging. Per spec
// §4.1, a nil return before the attempt has started causes TaskExecution initialization to fail with "cannot
// load", which HedgingExecutionContext treats as generator exhaustion rather than an attempt failure.
type HedgingActionGenerator[R any] func(args HedgingActionGeneratorArgs[R]) Operation[R]

// ShouldHandleFunc classifies an Outcome as transient (true: worth racing against) or terminal (false: success,
// or a failure that should end the race outright).
type ShouldHandleFunc[R any] func(outcome common.Outcome[R]) bool

// TaskExecution is one racing attempt: it owns a child cancellation derived from the call's parent context, a
// property-bag/event-log clone isolated from sibling attempts, and the outcome of running its Operation. Per
// spec §3, it is created (or rented from a pool), initialized, run, observed, and then either accepted (the
// winner) or reset and returned to the pool (a loser).
type TaskExecution[R any] struct {
	Type          ExecutionType
	AttemptNumber int
	Outcome       common.Outcome[R]
	IsHandled     bool
	IsAccepted    bool
	Properties    *PropertyBag
	Events        *EventLog

	// OnReset is a test hook invoked with this TaskExecution just before it is cleared and returned to the pool.
	OnReset func(*TaskExecution[R])

	childContext *ResilienceContext
	cancel       context.CancelFunc
	done         chan struct{}
	finishOnce   sync.Once
}

// newTaskExecution constructs a zero-value TaskExecution, used as the Pool's factory.
func newTaskExecution[R any]() *TaskExecution[R] {
	return &TaskExecution[R]{}
}

// Start initializes this slot for one attempt and begins running its Operation in a new goroutine. It returns
// false without starting anything if typ is Secondary and generator returns nil (spec §4.1's "cannot load").
//
// The started goroutine never panics out: any panic raised by op is recovered and captured as a failure Outcome.
func (t *TaskExecution[R]) Start(
	snapshot *ContextSnapshot,
	attemptNumber int,
	typ ExecutionType,
	primary Operation[R],
	generator HedgingActionGenerator[R],
	shouldHandle ShouldHandleFunc[R],
) bool {
	t.Type = typ
	t.AttemptNumber = attemptNumber
	t.Properties = snapshot.OriginalProperties.Clone()
	t.Events = NewEventLog()

	childCtx, cancel := context.WithCancel(snapshot.OriginalContext.Context)
	t.childContext = &ResilienceContext{
		Context:                   childCtx,
		Properties:                t.Properties,
		Events:                    t.Events,
		ContinueOnCapturedContext: snapshot.ContinueOnCapturedContext,
	}
	t.cancel = cancel

	var op Operation[R]
	if typ == Primary {
		op = primary
	} else {
		op = generator(HedgingActionGeneratorArgs[R]{Attempt: attemptNumber, Context: t.childContext})
		if op == nil {
			cancel()
			return false
		}
	}

	t.done = make(chan struct{})
	childContext := t.childContext
	go func() {
		result, err := runSafely(op, childContext)
		outcome := common.Outcome[R]{Result: result, Err: err}
		t.finish(outcome, shouldHandle(outcome))
	}()
	return true
}

// finish records the attempt's Outcome and closes done, exactly once. It is only ever called by the goroutine
// started in Start; HedgingExecutionContext must never call it or otherwise mutate a live TaskExecution when
// reacting to the caller's context being cancelled mid-wait, since that task's own goroutine may still be
// running and would race any outside write. A cancelled wait instead produces its own standalone Outcome rather
// than forcing one into this slot.
func (t *TaskExecution[R]) finish(outcome common.Outcome[R], handled bool) {
	t.finishOnce.Do(func() {
		t.Outcome = outcome
		t.IsHandled = handled
		close(t.done)
	})
}

// runSafely invokes op, converting any panic into a failure so ExecutionTask never faults, per spec §4.1.
func runSafely[R any](op Operation[R], ctx *ResilienceContext) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hedge: attempt panicked: %v", r)
		}
	}()
	return op(ctx)
}

// Done returns a channel that is closed when this attempt's ExecutionTask resolves.
func (t *TaskExecution[R]) Done() <-chan struct{} {
	return t.done
}

// IsDone returns whether this attempt has already completed, without blocking.
func (t *TaskExecution[R]) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// AcceptOutcome marks this task as the race's winner. No other side effect.
func (t *TaskExecution[R]) AcceptOutcome() {
	t.IsAccepted = true
}

// Cancel triggers this attempt's child cancellation, signalling its Operation to stop.
func (t *TaskExecution[R]) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// awaitDone blocks until the attempt's ExecutionTask has resolved. It is always called after Cancel for losers,
// so it returns promptly once the cancelled Operation observes ctx.Done().
func (t *TaskExecution[R]) awaitDone() {
	<-t.done
}

// reset clears all fields, invoking OnReset first so tests can observe the drain before state disappears. The
// caller is responsible for returning the (now-zeroed) TaskExecution to its pool.
func (t *TaskExecution[R]) reset() {
	if t.OnReset != nil {
		t.OnReset(t)
	}
	onReset := t.OnReset
	t.cancel = nil
	*t = TaskExecution[R]{OnReset: onReset}
}
