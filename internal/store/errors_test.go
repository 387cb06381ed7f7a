package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"wrapped ErrNotFound", fmt.Errorf("failed to do something: %w", ErrNotFound), true},
		{"ErrLocalEchoNotFound", ErrLocalEchoNotFound, true},
		{"store error wrapping not found", NewStoreError("local_echo", "get", "missing", ErrLocalEchoNotFound), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	assert.True(t, IsDuplicateError(ErrLocalEchoExists))
	assert.True(t, IsDuplicateError(fmt.Errorf("save: %w", ErrDuplicate)))
	assert.False(t, IsDuplicateError(ErrNotFound))
	assert.False(t, IsDuplicateError(nil))
}

func TestStoreError(t *testing.T) {
	inner := errors.New("disk full")
	err := NewStoreError("snapshot", "put", "write failed", inner)

	assert.Equal(t, "put operation on snapshot failed: write failed: disk full", err.Error())
	assert.ErrorIs(t, err, inner)

	bare := NewStoreError("snapshot", "get", "closed", nil)
	assert.Equal(t, "get operation on snapshot failed: closed", bare.Error())
}
