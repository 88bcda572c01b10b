package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeError(t *testing.T) {
	cause := errors.New("connection refused")
	err := exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to backend", cause)

	var coded *exitCodeError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, coded.code)
	assert.Equal(t, "Failed to connect to backend: connection refused", coded.Error())
	assert.ErrorIs(t, err, cause)

	// The code survives further wrapping.
	wrapped := fmt.Errorf("generate: %w", err)
	coded = nil
	require.True(t, errors.As(wrapped, &coded))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, coded.code)
}

func TestExitCodeErrorWithoutCause(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", nil)

	var coded *exitCodeError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, "Invalid manifest", coded.Error())
	assert.Nil(t, coded.Unwrap())
}
