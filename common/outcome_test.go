package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuccess(t *testing.T) {
	o := Success(42)
	assert.True(t, o.IsSuccess())
	assert.Equal(t, 42, o.Result)
	assert.Nil(t, o.Err)
}

func TestFailure(t *testing.T) {
	err := errors.New("boom")
	o := Failure[int](err)
	assert.False(t, o.IsSuccess())
	assert.Equal(t, err, o.Err)
}

func TestMarshalJSONSuccess(t *testing.T) {
	encoded, err := Success("ok").MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"result":"ok"}`, string(encoded))
}

func TestMarshalJSONFailure(t *testing.T) {
	encoded, err := Failure[string](errors.New("boom")).MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, string(encoded))
}
