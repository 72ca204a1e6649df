package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hedge-go/hedge-go/common"
)

var errInvalidState = errors.New("invalid state")
var errInvalidArgument = errors.New("invalid argument")

func TestShouldHandleDefaultsToAnyError(t *testing.T) {
	p := &BaseHandlePolicy[any, int]{}

	assert.False(t, p.ShouldHandle(common.Success(0)))
	assert.True(t, p.ShouldHandle(common.Failure[int](errors.New("test"))))
	assert.True(t, p.ShouldHandle(common.Failure[int](errInvalidState)))
}

func TestShouldHandleForErrors(t *testing.T) {
	p := &BaseHandlePolicy[*BaseHandlePolicy[any, int], int]{}
	p.Self = p
	p.HandleErrors(errInvalidArgument)

	assert.True(t, p.ShouldHandle(common.Failure[int](errInvalidArgument)))
	assert.False(t, p.ShouldHandle(common.Failure[int](errors.New("test"))))
}

func TestShouldHandleForResult(t *testing.T) {
	p := &BaseHandlePolicy[*BaseHandlePolicy[any, int], int]{}
	p.Self = p
	p.HandleResult(10)

	assert.True(t, p.ShouldHandle(common.Success(10)))
	assert.False(t, p.ShouldHandle(common.Success(5)))
}

func TestShouldHandleForPredicate(t *testing.T) {
	p := &BaseHandlePolicy[*BaseHandlePolicy[any, int], int]{}
	p.Self = p
	p.HandleIf(func(o common.Outcome[int]) bool {
		return o.Result == 7
	})

	assert.True(t, p.ShouldHandle(common.Success(7)))
	assert.False(t, p.ShouldHandle(common.Success(0)))
	assert.False(t, p.ShouldHandle(common.Failure[int](errInvalidArgument)))
}

func TestComputeDelayFixed(t *testing.T) {
	d := &BaseDelayablePolicy[any, int]{}
	d.WithDelay(5 * time.Millisecond)

	assert.Equal(t, 5*time.Millisecond, d.ComputeDelay(3))
}

func TestComputeDelayFunc(t *testing.T) {
	d := &BaseDelayablePolicy[*BaseDelayablePolicy[any, int], int]{}
	d.Self = d
	d.WithDelayFunc(func(attempt int) time.Duration {
		return time.Duration(attempt) * time.Millisecond
	})

	assert.Equal(t, 4*time.Millisecond, d.ComputeDelay(4))
}

func TestWithDelayClearsDelayFunc(t *testing.T) {
	d := &BaseDelayablePolicy[*BaseDelayablePolicy[any, int], int]{}
	d.Self = d
	d.WithDelayFunc(func(int) time.Duration { return time.Second })
	d.WithDelay(time.Millisecond)

	assert.Equal(t, time.Millisecond, d.ComputeDelay(1))
}
