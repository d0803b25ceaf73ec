package errkind_test

import (
	"errors"
	"fmt"
	"testing"

	"recplay/internal/errkind"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageFormatting(t *testing.T) {
	assert.Equal(t, "E_NOT_RECORDING", errkind.ErrNotRecording.Error())

	err := errkind.ErrInvalidSpeed.WithMessagef("speed must be > 0, got %v", -1.5)
	assert.Equal(t, "E_INVALID_SPEED: speed must be > 0, got -1.5", err.Error())
	assert.Empty(t, errkind.ErrInvalidSpeed.Message, "sentinel must stay unchanged")
}

func TestError_IsMatchesOnCode(t *testing.T) {
	err := errkind.ErrAlreadyRecording.WithMessage("recording started 3s ago")
	require.True(t, errors.Is(err, errkind.ErrAlreadyRecording))
	require.False(t, errors.Is(err, errkind.ErrNotRecording))

	wrapped := fmt.Errorf("start: %w", err)
	require.True(t, errors.Is(wrapped, errkind.ErrAlreadyRecording))
}

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("replay: %w", errkind.ErrReplayInProgress.WithMessage("busy"))
	assert.Equal(t, "E_REPLAY_IN_PROGRESS", errkind.Code(wrapped))
	assert.Equal(t, "", errkind.Code(errors.New("plain")))
	assert.Equal(t, "", errkind.Code(nil))
}
