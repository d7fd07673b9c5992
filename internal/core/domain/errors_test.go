package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("dial: %w", NewCallError(KindQuotaExceeded, "Monthly quota exceeded", nil))

	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
	assert.Equal(t, KindQuotaExceeded, ErrorKindOf(err))
	assert.Equal(t, "Monthly quota exceeded", Describe(err))
}

func TestDescribeDefaults(t *testing.T) {
	assert.Equal(t, "Call failed", Describe(errors.New("boom")))
	assert.Equal(t, "Microphone unavailable", Describe(NewCallError(KindMediaUnavailable, "", nil)))
	assert.Equal(t, KindUnknown, ErrorKindOf(errors.New("boom")))
}

func TestCallErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewCallError(KindBackendUnavailable, "", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "BackendUnavailable: connection refused", err.Error())
	assert.False(t, KindMediaUnavailable.Recoverable())
	assert.True(t, KindBackendUnavailable.Recoverable())
}
