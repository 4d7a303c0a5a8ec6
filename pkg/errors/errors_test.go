package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	cloned := Clone(ErrNotLockHolder, "center Mahi is locked by someone else")

	assert.True(t, errors.Is(cloned, ErrNotLockHolder))
	assert.False(t, errors.Is(cloned, ErrAlreadyLocked))
	assert.Equal(t, "center Mahi is locked by someone else", cloned.Message)
	assert.Equal(t, "center is not locked by this user", ErrNotLockHolder.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("query: %w", sql.ErrConnDone))

	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)
}

func TestRetryable(t *testing.T) {
	wrapped := Wrap(errors.New("timeout"), ErrFetchFailure.Code, ErrFetchFailure.Status, "fetch courses")

	assert.True(t, Retryable(wrapped))
	assert.True(t, Retryable(fmt.Errorf("refresh: %w", wrapped)))
	assert.False(t, Retryable(ErrLineNotFound))
	assert.False(t, Retryable(nil))
}
