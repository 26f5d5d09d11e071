package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("direct error", func(t *testing.T) {
		err := New(CodeInvalidState, "escrow is settled")
		assert.True(t, HasCode(err, CodeInvalidState))
		assert.False(t, HasCode(err, CodeValidation))
	})

	t.Run("wrapped by fmt", func(t *testing.T) {
		err := fmt.Errorf("settle: %w", New(CodeForbidden, "not payer"))
		assert.True(t, HasCode(err, CodeForbidden))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})

	t.Run("outermost code wins", func(t *testing.T) {
		inner := New(CodeValidation, "shares do not sum")
		err := Wrap(inner, CodeArithmetic, "compute")
		assert.True(t, HasCode(err, CodeArithmetic))
		assert.False(t, HasCode(err, CodeValidation))
		assert.True(t, Is(err, CodeValidation))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "load escrow")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "load escrow: connection reset", err.Error())
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestSentinelIdentitySurvivesWrap(t *testing.T) {
	sentinel := New(CodeResourceExhausted, "release cap reached")
	err := Wrap(sentinel, CodeResourceExhausted, "partial release")

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
}
