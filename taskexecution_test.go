package hedge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hedge-go/hedge-go/common"
)

func newTestSnapshot(ctx context.Context) *ContextSnapshot {
	rc := NewResilienceContext(ctx)
	return &ContextSnapshot{
		OriginalContext:           rc,
		OriginalProperties:        rc.Properties,
		ContinueOnCapturedContext: true,
	}
}

func alwaysHandleErrors(o common.Outcome[int]) bool {
	return o.Err != nil
}

func TestTaskExecutionStartPrimary(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	op := func(rc *ResilienceContext) (int, error) { return 7, nil }
	started := task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)
	assert.True(t, started)

	<-task.Done()
	assert.Equal(t, 7, task.Outcome.Result)
	assert.NoError(t, task.Outcome.Err)
	assert.False(t, task.IsHandled)
	assert.Equal(t, Primary, task.Type)
	assert.Equal(t, 0, task.AttemptNumber)
}

func TestTaskExecutionSecondaryGeneratorNil(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	generator := func(HedgingActionGeneratorArgs[int]) Operation[int] { return nil }
	started := task.Start(snapshot, 1, Secondary, nil, generator, alwaysHandleErrors)

	assert.False(t, started)
}

func TestTaskExecutionCapturesPanic(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	op := func(rc *ResilienceContext) (int, error) { panic("boom") }
	task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)
	<-task.Done()

	assert.Error(t, task.Outcome.Err)
	assert.Contains(t, task.Outcome.Err.Error(), "boom")
	assert.True(t, task.IsHandled)
}

func TestTaskExecutionCancelSignalsOperation(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	op := func(rc *ResilienceContext) (int, error) {
		<-rc.Context.Done()
		return 0, rc.Context.Err()
	}
	task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)

	task.Cancel()
	task.awaitDone()

	assert.ErrorIs(t, task.Outcome.Err, context.Canceled)
}

func TestTaskExecutionAcceptOutcome(t *testing.T) {
	task := newTaskExecution[int]()
	assert.False(t, task.IsAccepted)
	task.AcceptOutcome()
	assert.True(t, task.IsAccepted)
}

func TestTaskExecutionResetClearsState(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	resetSeen := false
	task.OnReset = func(*TaskExecution[int]) { resetSeen = true }

	op := func(rc *ResilienceContext) (int, error) { return 1, nil }
	task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)
	<-task.Done()
	task.AcceptOutcome()

	task.reset()

	assert.True(t, resetSeen)
	assert.Equal(t, 0, task.Outcome.Result)
	assert.Nil(t, task.Outcome.Err)
	assert.False(t, task.IsAccepted)
	assert.Nil(t, task.Properties)
	assert.Nil(t, task.Events)
}

func TestTaskExecutionPropertiesIsolatedFromSnapshot(t *testing.T) {
	snapshot := newTestSnapshot(context.Background())
	snapshot.OriginalProperties.Set("k", "original")

	task := newTaskExecution[int]()
	op := func(rc *ResilienceContext) (int, error) {
		rc.Properties.Set("k", "mutated")
		return 0, nil
	}
	task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)
	<-task.Done()

	v, _ := snapshot.OriginalProperties.Get("k")
	assert.Equal(t, "original", v)
	tv, _ := task.Properties.Get("k")
	assert.Equal(t, "mutated", tv)
}

func TestTaskExecutionIsDoneNonBlocking(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	block := make(chan struct{})
	op := func(rc *ResilienceContext) (int, error) {
		<-block
		return 0, nil
	}
	task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)

	assert.False(t, task.IsDone())
	close(block)
	<-task.Done()
	assert.True(t, task.IsDone())
}

func TestTaskExecutionFinishOnlyAppliesOnce(t *testing.T) {
	task := newTaskExecution[int]()
	task.done = make(chan struct{})

	task.finish(common.Success(1), false)
	assert.NotPanics(t, func() {
		task.finish(common.Failure[int](errors.New("ignored")), true)
	})

	assert.Equal(t, 1, task.Outcome.Result)
	assert.False(t, task.IsHandled)
}

func TestTaskExecutionHandledClassification(t *testing.T) {
	task := newTaskExecution[int]()
	snapshot := newTestSnapshot(context.Background())

	op := func(rc *ResilienceContext) (int, error) { return 0, errors.New("transient") }
	shouldHandle := func(o common.Outcome[int]) bool { return o.Err != nil }

	task.Start(snapshot, 0, Primary, op, nil, shouldHandle)
	<-task.Done()

	assert.True(t, task.IsHandled)
}

func TestExecutionTypeString(t *testing.T) {
	assert.Equal(t, "Primary", Primary.String())
	assert.Equal(t, "Secondary", Secondary.String())
}

func TestTaskExecutionChildContextDerivesFromParent(t *testing.T) {
	parentCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snapshot := newTestSnapshot(parentCtx)

	task := newTaskExecution[int]()
	block := make(chan struct{})
	op := func(rc *ResilienceContext) (int, error) {
		<-rc.Context.Done()
		close(block)
		return 0, rc.Context.Err()
	}
	task.Start(snapshot, 0, Primary, op, nil, alwaysHandleErrors)

	cancel()
	select {
	case <-block:
	case <-time.After(time.Second):
		t.Fatal("child context was not cancelled when parent was")
	}
}
