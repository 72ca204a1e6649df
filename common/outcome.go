// Package common holds small value types shared across the hedging core, mirroring the teacher's
// common package that held ExecutionResult.
package common

import "github.com/goccy/go-json"

// Outcome is a tagged value produced by one execution attempt: either a successful Result of type R, or a
// failure carrying an error. It is a plain value type with no mutating methods, so a copy is never affected by
// later changes to another.
//
// R is the execution result type.
type Outcome[R any] struct {
	Result R
	Err    error
}

// Success returns a successful Outcome.
func Success[R any](result R) Outcome[R] {
	return Outcome[R]{Result: result}
}

// Failure returns a failed Outcome.
func Failure[R any](err error) Outcome[R] {
	return Outcome[R]{Err: err}
}

// IsSuccess returns whether the outcome is not a failure.
func (o Outcome[R]) IsSuccess() bool {
	return o.Err == nil
}

// jsonOutcome is the wire shape used by MarshalJSON; R may not itself be json-tagged.
type jsonOutcome[R any] struct {
	Success bool   `json:"success"`
	Result  R      `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MarshalJSON encodes the outcome for telemetry payloads, using goccy/go-json.
func (o Outcome[R]) MarshalJSON() ([]byte, error) {
	jo := jsonOutcome[R]{Success: o.IsSuccess(), Result: o.Result}
	if o.Err != nil {
		jo.Error = o.Err.Error()
	}
	return json.Marshal(jo)
}
