package hedge

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/hedge-go/hedge-go/common"
	"github.com/hedge-go/hedge-go/internal/util"
)

// Infinite, passed as a delay to TryWaitForCompletedExecutionAsync, waits until some task completes with no
// timeout. Any negative duration is treated the same way, per spec §4.2.
const Infinite time.Duration = -1

// LoadResult is returned by LoadExecutionAsync. At most one of Execution or Outcome is set, and both are nil when
// nothing could be loaded and no sibling has completed yet: Loaded is true only when Execution was actually
// started this call.
type LoadResult[R any] struct {
	Execution *TaskExecution[R]
	Outcome   *common.Outcome[R] // set when no attempt can be loaded but a sibling has already completed
	Loaded    bool
}

// HedgingExecutionContext is the per-call coordinator described in spec §4.2: it owns the set of live
// TaskExecutions for one hedged call, dispatches new attempts, and implements the "wait for any completion with
// timeout" primitive the strategy loop drives.
type HedgingExecutionContext[R any] struct {
	Snapshot    *ContextSnapshot
	Tasks       []*TaskExecution[R]
	LoadedTasks int
	MaxAttempts int

	taskPool *util.Pool[*TaskExecution[R]]
	clock    util.Clock

	primary      Operation[R]
	generator    HedgingActionGenerator[R]
	shouldHandle ShouldHandleFunc[R]

	completedBits *bitset.BitSet
	reportedBits  *bitset.BitSet
	mu            sync.Mutex
	signal        chan struct{} // closed and replaced each time a task completes, per spec §9's single signal + timer
	watchers      sync.WaitGroup // tracks the watch goroutine spawned for every loaded task, see appendTask

	// OnReset is a test hook invoked just before Complete clears this context's state.
	OnReset func(*HedgingExecutionContext[R])

	// taskOnReset, when set, is attached to every TaskExecution this context rents so tests can observe per-task
	// drain, mirroring OnReset one level down.
	taskOnReset func(*TaskExecution[R])

	initialized bool
}

// newHedgingExecutionContext constructs a zero-value HedgingExecutionContext, used as a Pool's factory.
func newHedgingExecutionContext[R any](taskPool *util.Pool[*TaskExecution[R]], clock util.Clock) *HedgingExecutionContext[R] {
	return &HedgingExecutionContext[R]{taskPool: taskPool, clock: clock}
}

// Initialize captures Snapshot from parent, isolates parent's property bag behind a fresh clone (spec §4.2), and
// readies this context to load its primary task. maxAttempts, primary, generator, and shouldHandle configure the
// call being hedged; they are supplied here rather than at construction so a pooled context can be reused for
// different Strategy instances.
func (c *HedgingExecutionContext[R]) Initialize(
	parent *ResilienceContext,
	maxAttempts int,
	primary Operation[R],
	generator HedgingActionGenerator[R],
	shouldHandle ShouldHandleFunc[R],
) {
	originalProperties := parent.Properties
	c.Snapshot = &ContextSnapshot{
		OriginalContext:           parent,
		OriginalProperties:        originalProperties,
		ContinueOnCapturedContext: parent.ContinueOnCapturedContext,
	}
	parent.Properties = originalProperties.Clone()

	c.MaxAttempts = maxAttempts
	c.primary = primary
	c.generator = generator
	c.shouldHandle = shouldHandle
	c.completedBits = bitset.New(uint(maxAttempts))
	c.reportedBits = bitset.New(uint(maxAttempts))
	c.signal = make(chan struct{})
	c.initialized = true
}

// IsInitialized reports whether Initialize has been called since the last Complete.
func (c *HedgingExecutionContext[R]) IsInitialized() bool {
	return c.initialized
}

// LoadExecutionAsync implements spec §4.2's central dispatch. It either starts the primary (the call's first
// invocation), starts a secondary produced by the HedgingActionGenerator, or reports that no further attempt can
// be loaded — surfacing an already-completed sibling's Outcome when one exists, so the caller can short-circuit
// instead of waiting on a generator that has nothing left to offer.
func (c *HedgingExecutionContext[R]) LoadExecutionAsync() (LoadResult[R], error) {
	if c.MaxAttempts <= 0 {
		return LoadResult[R]{}, ErrInvalidMaxAttempts
	}

	if c.LoadedTasks == 0 {
		task := c.taskPool.Rent()
		task.OnReset = c.taskOnReset
		task.Start(c.Snapshot, 0, Primary, c.primary, c.generator, c.shouldHandle)
		c.appendTask(task)
		return LoadResult[R]{Execution: task, Loaded: true}, nil
	}

	if c.LoadedTasks >= c.MaxAttempts {
		return LoadResult[R]{Outcome: c.earliestCompletedOutcome()}, nil
	}

	task := c.taskPool.Rent()
	task.OnReset = c.taskOnReset
	attempt := c.LoadedTasks
	if !task.Start(c.Snapshot, attempt, Secondary, c.primary, c.generator, c.shouldHandle) {
		task.reset()
		c.taskPool.Return(task)
		return LoadResult[R]{Outcome: c.earliestCompletedOutcome()}, nil
	}
	c.appendTask(task)
	return LoadResult[R]{Execution: task, Loaded: true}, nil
}

// appendTask records task as loaded and watches it so TryWaitForCompletedExecutionAsync learns of its completion.
// The watcher is tracked in c.watchers so Complete can wait for it to finish its bookkeeping before tearing down
// this call's state (see Complete).
func (c *HedgingExecutionContext[R]) appendTask(task *TaskExecution[R]) {
	c.Tasks = append(c.Tasks, task)
	c.LoadedTasks = len(c.Tasks)
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		c.watch(task)
	}()
}

// watch waits for task to finish and then broadcasts completion by closing and replacing signal, waking every
// goroutine currently parked in TryWaitForCompletedExecutionAsync.
func (c *HedgingExecutionContext[R]) watch(task *TaskExecution[R]) {
	<-task.Done()
	c.mu.Lock()
	c.completedBits.Set(uint(task.AttemptNumber))
	old := c.signal
	c.signal = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// earliestCompletedOutcome returns the Outcome of the lowest-numbered completed task, if any, regardless of
// whether it was already reported by TryWaitForCompletedExecutionAsync. Used when LoadExecutionAsync cannot load
// any further attempt (generator exhaustion or MaxAttempts reached) and must fall back to whatever has finished.
func (c *HedgingExecutionContext[R]) earliestCompletedOutcome() *common.Outcome[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range c.Tasks {
		if task.IsDone() {
			outcome := task.Outcome
			return &outcome
		}
	}
	return nil
}

// earliestUnreportedCompletedLocked returns the lowest-numbered task that has completed but not yet been
// returned by TryWaitForCompletedExecutionAsync, marking it reported as a side effect. A handled winner stays in
// Tasks for later draining by Complete, but must not be handed back out as a "new" completion on the next wait
// call — without this bookkeeping the strategy loop would observe the same handled failure forever instead of
// waiting for the next hedge to finish. Callers must hold c.mu.
func (c *HedgingExecutionContext[R]) earliestUnreportedCompletedLocked() *TaskExecution[R] {
	for _, task := range c.Tasks {
		attempt := uint(task.AttemptNumber)
		if c.completedBits.Test(attempt) && !c.reportedBits.Test(attempt) {
			c.reportedBits.Set(attempt)
			return task
		}
	}
	return nil
}

// earliestUnreportedCompleted is earliestUnreportedCompletedLocked with its own locking, for callers that are not
// already inside a critical section.
func (c *HedgingExecutionContext[R]) earliestUnreportedCompleted() *TaskExecution[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.earliestUnreportedCompletedLocked()
}

// TryWaitForCompletedExecutionAsync implements spec §4.2's wait primitive: it returns immediately if a task has
// already completed, otherwise waits up to delay for the next completion. A zero delay polls once; Infinite (or
// any negative duration) waits with no timeout. If ctx is cancelled while waiting, it returns with cancelled
// true and no task — per the design decision recorded in DESIGN.md, the caller materializes the cancelled
// outcome itself rather than this method mutating a TaskExecution that may still have a goroutine running.
//
// The completion check and the signal capture happen inside the same critical section: watch also takes c.mu
// before it sets a bit and swaps c.signal, so either its completion is already reflected in the check above, or
// it has not happened yet and will close exactly the channel captured below. Checking and capturing separately
// would leave a gap where a completion lands between the two and closes a channel nobody is listening on,
// which on the Infinite path (the last hedge, or the generator-exhaustion wait) hangs forever instead of just
// costing a spurious timeout.
func (c *HedgingExecutionContext[R]) TryWaitForCompletedExecutionAsync(ctx *ResilienceContext, delay time.Duration) (task *TaskExecution[R], cancelled bool) {
	c.mu.Lock()
	t := c.earliestUnreportedCompletedLocked()
	signal := c.signal
	c.mu.Unlock()
	if t != nil {
		return t, false
	}

	if delay == 0 {
		select {
		case <-signal:
			return c.earliestUnreportedCompleted(), false
		default:
			return nil, false
		}
	}

	var timerC <-chan time.Time
	if delay > 0 {
		timer := c.clock.NewTimer(delay)
		defer timer.Stop()
		timerC = timer.C()
	}

	select {
	case <-signal:
		return c.earliestUnreportedCompleted(), false
	case <-timerC:
		return nil, false
	case <-ctx.Context.Done():
		return nil, true
	}
}

// Complete implements spec §4.2: it merges the accepted task's property bag and event log back into the
// original context (preserving its identity), drains every other task concurrently via errgroup, and resets all
// per-call state. Calling Complete on an uninitialized context is a no-op, satisfying the round-trip property in
// spec §8.
//
// Every loaded task has a watch goroutine (see appendTask) parked on its Done() that writes completedBits and
// replaces signal the instant that task finishes. Cancelling and awaiting a task here only guarantees its
// Done() channel is closed, not that its watcher has already run — so resetting tasks and clearing this context's
// bitsets is deferred until c.watchers.Wait() returns, and the clearing itself happens under c.mu. Without
// that wait a watcher can still be mid-flight when this context is returned to the pool and re-Initialized for a
// different call, and would then set bits or close a signal that belongs to that later call.
func (c *HedgingExecutionContext[R]) Complete() error {
	if !c.initialized {
		return nil
	}
	if c.OnReset != nil {
		c.OnReset(c)
	}

	var accepted *TaskExecution[R]
	var losers []*TaskExecution[R]
	for _, task := range c.Tasks {
		if task.IsAccepted && accepted == nil {
			accepted = task
		} else {
			losers = append(losers, task)
		}
	}

	if accepted != nil {
		accepted.Cancel()
		accepted.awaitDone()
	}
	if err := drainLosers(losers); err != nil {
		return err
	}

	c.watchers.Wait()

	if accepted != nil {
		c.Snapshot.OriginalContext.Properties.replaceWith(accepted.Properties)
		c.Snapshot.OriginalContext.Events.appendAll(accepted.Events)
		accepted.reset()
		c.taskPool.Return(accepted)
	}
	c.Snapshot.OriginalContext.Properties = c.Snapshot.OriginalProperties

	for _, task := range losers {
		task.reset()
		c.taskPool.Return(task)
	}

	c.mu.Lock()
	c.Tasks = nil
	c.LoadedTasks = 0
	c.Snapshot = nil
	c.completedBits = nil
	c.reportedBits = nil
	c.initialized = false
	c.mu.Unlock()
	return nil
}

// drainLosers cancels and awaits every loser concurrently, so one slow-to-cancel loser does not hold up draining
// the rest. It does not reset them: Complete resets each loser itself, one after another, once every watcher has
// finished.
func drainLosers[R any](losers []*TaskExecution[R]) error {
	var g errgroup.Group
	for _, task := range losers {
		task := task
		g.Go(func() error {
			task.Cancel()
			task.awaitDone()
			return nil
		})
	}
	return g.Wait()
}
