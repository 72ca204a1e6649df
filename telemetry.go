package hedge

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/hedge-go/hedge-go/common"
)

// Severity mirrors spec §6's telemetry severity levels; OnHedging events are always Warning.
type Severity string

const (
	SeverityWarning Severity = "Warning"
)

// OnHedgingEvent is the payload passed to OnHedging and to any registered TelemetryListener, per spec §6: "One
// event per OnHedging invocation: severity = Warning, name = OnHedging, payload = the arguments record."
type OnHedgingEvent[R any] struct {
	Context  *ResilienceContext
	Outcome  *common.Outcome[R] // nil when no attempt had completed yet (a bare timeout-driven hedge)
	Attempt  int
	Duration time.Duration
}

// OnHedgingFunc is a user callback invoked each time the strategy decides to launch, or considers launching,
// another hedge. It does not attach to any attempt; a panic or error from it propagates to the caller of the
// strategy rather than being captured as an attempt's Outcome (spec §7).
type OnHedgingFunc[R any] func(event OnHedgingEvent[R])

// TelemetryListener is a fire-and-forget sink for hedging telemetry events. Implementations must not block the
// caller for long; the strategy invokes listeners synchronously on its own goroutine.
type TelemetryListener[R any] interface {
	OnHedging(severity Severity, name string, event OnHedgingEvent[R])
}

// jsonEvent is the wire shape written by JSONTelemetryListener.
type jsonEvent[R any] struct {
	Severity Severity         `json:"severity"`
	Name     string           `json:"name"`
	Attempt  int              `json:"attempt"`
	Duration string           `json:"duration"`
	Outcome  *common.Outcome[R] `json:"outcome,omitempty"`
}

// JSONTelemetryListener writes one JSON line per event to W, using goccy/go-json. A Builder attaches
// NoopTelemetryListener when none is configured; callers that want structured output wire this in explicitly via
// WithTelemetryListener, matching the teacher's habit of logging policy events with fmt.Printf in its test
// helpers, but structured rather than free text.
type JSONTelemetryListener[R any] struct {
	W io.Writer
}

// NewJSONTelemetryListener returns a TelemetryListener that writes newline-delimited JSON to w.
func NewJSONTelemetryListener[R any](w io.Writer) *JSONTelemetryListener[R] {
	return &JSONTelemetryListener[R]{W: w}
}

func (l *JSONTelemetryListener[R]) OnHedging(severity Severity, name string, event OnHedgingEvent[R]) {
	payload := jsonEvent[R]{
		Severity: severity,
		Name:     name,
		Attempt:  event.Attempt,
		Duration: event.Duration.String(),
		Outcome:  event.Outcome,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(l.W, `{"severity":"Warning","name":%q,"marshalError":%q}`+"\n", name, err.Error())
		return
	}
	l.W.Write(encoded)
	l.W.Write([]byte("\n"))
}

// NoopTelemetryListener discards every event. Useful in tests that only care about OnHedging callback ordering.
type NoopTelemetryListener[R any] struct{}

func (NoopTelemetryListener[R]) OnHedging(Severity, string, OnHedgingEvent[R]) {}
