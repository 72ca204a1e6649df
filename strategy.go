package hedge

import (
	"time"

	"github.com/hedge-go/hedge-go/common"
	"github.com/hedge-go/hedge-go/internal/util"
	"github.com/hedge-go/hedge-go/policy"
)

// DefaultHedgingDelay is used when a Builder is not given an explicit delay, matching the teacher's 100ms
// default for hedge policies built without WithDelay.
const DefaultHedgingDelay = 100 * time.Millisecond

// DelayArgs is passed to a DelayGenerator.
type DelayArgs struct {
	Context *ResilienceContext
	Attempt int // equals HedgingExecutionContext.LoadedTasks at the time of the call, per spec §4.4
}

// DelayGenerator computes the delay before the next hedge. Returning Infinite (or any negative duration) means
// "do not launch another hedge; wait for the current set to finish" (spec §4.4).
type DelayGenerator[R any] func(args DelayArgs) time.Duration

// Strategy is the public entry point: a configured hedging algorithm for operations returning R. A single
// Strategy may be reused concurrently across calls; each call gets its own HedgingExecutionContext from the
// shared HedgingController.
type Strategy[R any] struct {
	totalAttempts  int
	delayGenerator DelayGenerator[R]
	onHedging      OnHedgingFunc[R]
	generator      HedgingActionGenerator[R]
	shouldHandle   ShouldHandleFunc[R]
	listener       TelemetryListener[R]
	clock          util.Clock

	controller *HedgingController[R]
}

// Execute runs op, racing it against hedges per the Strategy's configuration, and returns the first accepted
// Outcome. It implements the algorithm in spec §4.4.
func (s *Strategy[R]) Execute(resCtx *ResilienceContext, op Operation[R]) common.Outcome[R] {
	capturedCtx := resCtx.Context

	ctx := s.controller.GetContext(resCtx, op)
	defer func() {
		_ = s.controller.Release(ctx)
	}()

	attempt := -1
	for {
		attempt++
		startStamp := s.clock.Now()

		if err := capturedCtx.Err(); err != nil {
			return common.Failure[R](err)
		}

		loaded, err := ctx.LoadExecutionAsync()
		if err != nil {
			return common.Failure[R](err)
		}
		if loaded.Outcome != nil {
			return *loaded.Outcome
		}

		// canHedgeAgain is false once this call's attempt has exhausted either the generator or MaxAttempts, in
		// which case there is no next hedge to announce: the loop just keeps waiting on what is already running
		// until LoadExecutionAsync's Outcome branch above returns the last known result. This keeps OnHedging
		// dispatches bounded at TotalAttempts - 1, one per hedge actually launched.
		canHedgeAgain := loaded.Loaded && ctx.LoadedTasks < ctx.MaxAttempts
		delay := Infinite
		if canHedgeAgain {
			delay = s.computeDelay(resCtx, ctx.LoadedTasks)
		}

		winner, cancelled := ctx.TryWaitForCompletedExecutionAsync(resCtx, delay)
		if cancelled {
			return common.Failure[R](capturedCtx.Err())
		}

		if winner == nil {
			if canHedgeAgain {
				s.dispatchHedging(resCtx, nil, attempt, delay)
			}
			continue
		}

		if !winner.IsHandled {
			winner.AcceptOutcome()
			return winner.Outcome
		}

		if canHedgeAgain {
			s.dispatchHedging(resCtx, &winner.Outcome, attempt, s.clock.Since(startStamp))
		}
	}
}

// computeDelay applies DelayGenerator if configured, else the fixed HedgingDelay captured at Build time via
// delayGenerator's default branch (see Builder.Build).
func (s *Strategy[R]) computeDelay(resCtx *ResilienceContext, loadedTasks int) time.Duration {
	return s.delayGenerator(DelayArgs{Context: resCtx, Attempt: loadedTasks})
}

// dispatchHedging invokes the user's OnHedging callback, if any, and the telemetry listener. Per spec §7, a
// failure from OnHedging is not attached to any attempt and is allowed to propagate out of Execute.
func (s *Strategy[R]) dispatchHedging(resCtx *ResilienceContext, outcome *common.Outcome[R], attempt int, duration time.Duration) {
	event := OnHedgingEvent[R]{Context: resCtx, Outcome: outcome, Attempt: attempt, Duration: duration}
	if s.onHedging != nil {
		s.onHedging(event)
	}
	if s.listener != nil {
		s.listener.OnHedging(SeverityWarning, "OnHedging", event)
	}
}

// Builder configures and constructs a Strategy for execution result type R, mirroring the teacher's
// hedgepolicy.Builder shape: a chain of With* configuration methods terminated by Build. It embeds both of the
// teacher's two policy base types: BaseHandlePolicy supplies ShouldHandle/HandleErrors/HandleIf/HandleResult,
// BaseDelayablePolicy supplies WithDelay/WithDelayFunc/ComputeDelay, the same split the teacher's retrypolicy and
// circuitbreaker builders use.
type Builder[R any] struct {
	policy.BaseHandlePolicy[*Builder[R], R]
	policy.BaseDelayablePolicy[*Builder[R], R]

	maxHedgedAttempts int
	delayGenerator    DelayGenerator[R]
	onHedging         OnHedgingFunc[R]
	generator         HedgingActionGenerator[R]
	listener          TelemetryListener[R]
	clock             util.Clock
}

// NewBuilder returns a Builder with a 1-hedge, DefaultHedgingDelay configuration: HandleErrors by default (any
// error is handled, per BaseHandlePolicy.ShouldHandle), matching the teacher's zero-value hedge policy builder.
// Self is set on both embedded base policies explicitly since they share that field name and promotion would
// otherwise be ambiguous.
func NewBuilder[R any]() *Builder[R] {
	b := &Builder[R]{maxHedgedAttempts: 1}
	b.BaseHandlePolicy.Self = b
	b.BaseDelayablePolicy.Self = b
	b.BaseDelayablePolicy.Delay = DefaultHedgingDelay
	return b
}

// WithMaxHedgedAttempts sets the number of additional attempts beyond the primary; TotalAttempts = n + 1.
func (b *Builder[R]) WithMaxHedgedAttempts(n int) *Builder[R] {
	util.Assert(n >= 0, "maxHedgedAttempts must be >= 0")
	b.maxHedgedAttempts = n
	return b
}

// WithDelayGenerator sets a DelayGenerator receiving the full DelayArgs, per spec §6. It takes priority over
// whatever BaseDelayablePolicy's WithDelay/WithDelayFunc configured, since it alone has access to *ResilienceContext.
func (b *Builder[R]) WithDelayGenerator(generator DelayGenerator[R]) *Builder[R] {
	b.delayGenerator = generator
	return b
}

// WithActionGenerator sets the HedgingActionGenerator used to produce secondary attempts (spec §4.1).
func (b *Builder[R]) WithActionGenerator(generator HedgingActionGenerator[R]) *Builder[R] {
	b.generator = generator
	return b
}

// OnHedging registers a callback invoked whenever the strategy launches, or considers launching, another hedge.
func (b *Builder[R]) OnHedging(fn OnHedgingFunc[R]) *Builder[R] {
	b.onHedging = fn
	return b
}

// WithTelemetryListener registers a TelemetryListener for OnHedging events. If none is set, Build attaches a
// NoopTelemetryListener.
func (b *Builder[R]) WithTelemetryListener(listener TelemetryListener[R]) *Builder[R] {
	b.listener = listener
	return b
}

// WithClock overrides the time source, for deterministic tests.
func (b *Builder[R]) WithClock(clock util.Clock) *Builder[R] {
	b.clock = clock
	return b
}

// Build returns a Strategy from the Builder's configuration.
func (b *Builder[R]) Build() *Strategy[R] {
	generator := b.generator
	if generator == nil {
		generator = func(HedgingActionGeneratorArgs[R]) Operation[R] { return nil }
	}

	listener := b.listener
	if listener == nil {
		listener = NoopTelemetryListener[R]{}
	}

	delayGenerator := b.delayGenerator
	if delayGenerator == nil {
		delayFunc := b.DelayFunc
		fixedDelay := b.Delay
		delayGenerator = func(args DelayArgs) time.Duration {
			if delayFunc != nil {
				return delayFunc(args.Attempt)
			}
			return fixedDelay
		}
	}

	clock := b.clock
	if clock == nil {
		clock = util.NewClock()
	}

	totalAttempts := b.maxHedgedAttempts + 1
	controller := NewHedgingController[R](totalAttempts, generator, b.ShouldHandle, clock)

	return &Strategy[R]{
		totalAttempts:  totalAttempts,
		delayGenerator: delayGenerator,
		onHedging:      b.onHedging,
		generator:      generator,
		shouldHandle:   b.ShouldHandle,
		listener:       listener,
		clock:          clock,
		controller:     controller,
	}
}
