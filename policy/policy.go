// Package policy provides small base types shared by the hedging strategy's Builder, mirroring the teacher's
// policy package that underpins all of failsafe-go's policy builders.
package policy

import (
	"errors"
	"reflect"
	"time"

	"github.com/hedge-go/hedge-go/common"
)

// BaseHandlePolicy provides a base for implementing a ShouldHandle classifier from a set of conditions, the way
// the teacher's BaseFailurePolicy builds IsFailure from failureConditions. Here "handle" means "this outcome is
// transient and worth racing against" (spec §4.1's IsHandled), not "this is a failure" — a handled outcome may
// also be a slow success that a faster hedge could still beat, per HandleResult.
type BaseHandlePolicy[S any, R any] struct {
	Self S
	// Whether any error-checking condition was configured
	errorsChecked bool
	// Conditions that determine whether an outcome should be handled (hedged against)
	handleConditions []func(common.Outcome[R]) bool
}

// HandleErrors configures the policy to treat any outcome whose error matches errs (via errors.Is) as handled.
func (p *BaseHandlePolicy[S, R]) HandleErrors(errs ...error) S {
	for _, target := range errs {
		t := target
		p.handleConditions = append(p.handleConditions, func(o common.Outcome[R]) bool {
			return errors.Is(o.Err, t)
		})
	}
	p.errorsChecked = true
	return p.Self
}

// HandleResult configures the policy to treat any successful outcome whose result matches result (via
// reflect.DeepEqual) as handled. Failed outcomes are not matched by this condition.
func (p *BaseHandlePolicy[S, R]) HandleResult(result R) S {
	p.handleConditions = append(p.handleConditions, func(o common.Outcome[R]) bool {
		return o.Err == nil && reflect.DeepEqual(o.Result, result)
	})
	return p.Self
}

// HandleIf configures the policy to treat any outcome matching predicate as handled.
func (p *BaseHandlePolicy[S, R]) HandleIf(predicate func(common.Outcome[R]) bool) S {
	p.handleConditions = append(p.handleConditions, predicate)
	p.errorsChecked = true
	return p.Self
}

// ShouldHandle returns whether outcome should be treated as transient and raced against, per spec §4.1's
// IsHandled classification. With no conditions configured, any error is handled by default.
func (p *BaseHandlePolicy[S, R]) ShouldHandle(outcome common.Outcome[R]) bool {
	if len(p.handleConditions) == 0 {
		return outcome.Err != nil
	}
	for _, condition := range p.handleConditions {
		if condition(outcome) {
			return true
		}
	}
	// Handle by default if an error exists and was not checked by a condition
	return outcome.Err != nil && !p.errorsChecked
}

// DelayFunc computes the delay before the next hedge, given the attempt number (spec §4.4: attempt = LoadedTasks).
type DelayFunc[R any] func(attempt int) time.Duration

// BaseDelayablePolicy provides a base for implementing a hedging delay, either fixed or computed per attempt.
type BaseDelayablePolicy[S any, R any] struct {
	Self      S
	Delay     time.Duration
	DelayFunc DelayFunc[R]
}

// WithDelay sets a fixed delay between attempts.
func (d *BaseDelayablePolicy[S, R]) WithDelay(delay time.Duration) S {
	d.Delay = delay
	d.DelayFunc = nil
	return d.Self
}

// WithDelayFunc sets a function that computes the delay for each attempt.
func (d *BaseDelayablePolicy[S, R]) WithDelayFunc(delayFunc DelayFunc[R]) S {
	d.DelayFunc = delayFunc
	return d.Self
}

// ComputeDelay returns the configured delay for the given attempt number.
func (d *BaseDelayablePolicy[S, R]) ComputeDelay(attempt int) time.Duration {
	if d.DelayFunc != nil {
		return d.DelayFunc(attempt)
	}
	return d.Delay
}
