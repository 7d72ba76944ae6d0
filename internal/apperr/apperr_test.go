package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Conflict("driver is not available")
	wrapped := fmt.Errorf("accept trip: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.Equal(t, "driver is not available", Message(wrapped, "fallback"))
	assert.True(t, errors.Is(wrapped, base))
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("connection reset")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err, "internal error"))
	assert.False(t, Is(nil, KindInternal))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("535 authentication failed")
	err := Wrap(KindUpstream, "verification service unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "535")
	assert.Equal(t, "upstream", err.Kind.String())
}
