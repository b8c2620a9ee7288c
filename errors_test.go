package dynarow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError("no such field", WithCode(ErrInvalidSchemaField))
	assert.Equal(t, "[InvalidSchemaField] no such field", err.Error())

	bare := NewError("plain failure")
	assert.Equal(t, "plain failure", bare.Error())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError("store call failed", WithCode(ErrRuntime), WithCause(cause),
		WithContext(map[string]any{"table": "books"}))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "books", err.Context["table"])
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrArgument, CodeOf(NewArgError("bad input")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("foreign")))
	assert.True(t, IsCode(NewArgError("bad input"), ErrArgument))
}

func TestIsConditionFailed(t *testing.T) {
	require.True(t, IsConditionFailed(NewError("x", WithCode(ErrConditionFailed))))
	require.True(t, IsConditionFailed(NewError("x", WithCode(ErrHashKeyExists))))
	require.False(t, IsConditionFailed(NewError("x", WithCode(ErrValidation))))
	require.False(t, IsConditionFailed(errors.New("foreign")))
}
