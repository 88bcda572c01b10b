package errors

import (
	"context"
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalServiceError(t *testing.T) {
	plain := NewExternalServiceError("backend unreachable")
	assert.Equal(t, "backend unreachable", plain.Error())
	assert.Nil(t, plain.Unwrap())

	wrapped := WrapExternalService(io.ErrUnexpectedEOF, "upload failed")
	assert.Equal(t, "upload failed: unexpected EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)

	var esErr *ExternalServiceError
	assert.True(t, stderrors.As(error(wrapped), &esErr))
}

func TestWrapInternalRecordsCancellation(t *testing.T) {
	cause := stderrors.New("boom")

	live := WrapInternal(context.Background(), cause, "report write")
	assert.False(t, live.Cancelled)
	assert.Equal(t, "report write: boom", live.Error())
	assert.ErrorIs(t, live, cause)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := WrapInternal(ctx, cause, "report write")
	assert.True(t, cancelled.Cancelled)
}
