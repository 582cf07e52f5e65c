package persistence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradecapture/ingress/internal/persistence"
)

func TestIsDataError(t *testing.T) {
	base := errors.New("unique violation")
	wrapped := &persistence.DataError{Err: base}
	assert.True(t, persistence.IsDataError(wrapped))
	assert.False(t, persistence.IsSystemError(wrapped))
	assert.ErrorIs(t, wrapped, base)
}

func TestIsSystemError(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := &persistence.SystemError{Err: base}
	assert.True(t, persistence.IsSystemError(wrapped))
	assert.False(t, persistence.IsDataError(wrapped))
}

func TestIsDataError_UnrelatedError(t *testing.T) {
	assert.False(t, persistence.IsDataError(errors.New("plain")))
	assert.False(t, persistence.IsSystemError(errors.New("plain")))
}
