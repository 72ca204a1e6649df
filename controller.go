package hedge

import (
	"github.com/hedge-go/hedge-go/internal/util"
)

// defaultPoolCapacity bounds each per-strategy free-list. A hedging strategy rarely has more than a handful of
// calls racing concurrently; this only needs to be large enough to absorb bursts without forcing allocation.
const defaultPoolCapacity = 32

// HedgingController is the per-strategy factory described in spec §4.3: it owns the pool of
// HedgingExecutionContexts and the pool of TaskExecutions they rent from, and mediates GetContext /
// disposal so that Complete always runs exactly once per call.
type HedgingController[R any] struct {
	contextPool *util.Pool[*HedgingExecutionContext[R]]
	taskPool    *util.Pool[*TaskExecution[R]]
	clock       util.Clock

	maxAttempts  int
	generator    HedgingActionGenerator[R]
	shouldHandle ShouldHandleFunc[R]

	onContextReset func(*HedgingExecutionContext[R])
	onTaskReset    func(*TaskExecution[R])
}

// NewHedgingController constructs a controller for one Strategy configuration. maxAttempts is TotalAttempts
// (primary + MaxHedgedAttempts); generator and shouldHandle are the user-supplied handler bundle from spec §9.
func NewHedgingController[R any](
	maxAttempts int,
	generator HedgingActionGenerator[R],
	shouldHandle ShouldHandleFunc[R],
	clock util.Clock,
) *HedgingController[R] {
	if clock == nil {
		clock = util.NewClock()
	}
	c := &HedgingController[R]{
		clock:        clock,
		maxAttempts:  maxAttempts,
		generator:    generator,
		shouldHandle: shouldHandle,
	}
	c.taskPool = util.NewPool[*TaskExecution[R]](defaultPoolCapacity, newTaskExecution[R], nil)
	c.contextPool = util.NewPool[*HedgingExecutionContext[R]](defaultPoolCapacity, func() *HedgingExecutionContext[R] {
		return newHedgingExecutionContext[R](c.taskPool, c.clock)
	}, nil)
	return c
}

// GetContext rents a HedgingExecutionContext, initializes it against parent and primary, and returns it ready for
// the strategy loop to drive. Callers must eventually call Release to dispose of it.
func (c *HedgingController[R]) GetContext(parent *ResilienceContext, primary Operation[R]) *HedgingExecutionContext[R] {
	ctx := c.contextPool.Rent()
	ctx.OnReset = c.onContextReset
	ctx.taskOnReset = c.onTaskReset
	ctx.Initialize(parent, c.maxAttempts, primary, c.generator, c.shouldHandle)
	return ctx
}

// Release disposes of ctx: Complete drains every loser and merges the winner back, then ctx is returned to the
// pool. Per spec §4.3, this always runs, success or failure, so callers invoke it via defer.
func (c *HedgingController[R]) Release(ctx *HedgingExecutionContext[R]) error {
	err := ctx.Complete()
	c.contextPool.Return(ctx)
	return err
}

// OnTaskReset installs a test hook invoked just before any TaskExecution rented by this controller is reset.
func (c *HedgingController[R]) OnTaskReset(hook func(*TaskExecution[R])) {
	c.onTaskReset = hook
}

// OnContextReset installs a test hook invoked just before any HedgingExecutionContext rented by this controller
// completes and resets.
func (c *HedgingController[R]) OnContextReset(hook func(*HedgingExecutionContext[R])) {
	c.onContextReset = hook
}
