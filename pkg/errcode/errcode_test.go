package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	assert.Equal(t, Success, Of(nil))
	assert.Equal(t, Unknown, Of(errors.New("boom")))
	assert.Equal(t, InvalidAddress, Of(InvalidAddress))

	wrapped := fmt.Errorf("read memory at %#x: %w", 0x1000, InvalidAddress)
	assert.Equal(t, InvalidAddress, Of(wrapped))
	assert.True(t, errors.Is(wrapped, InvalidAddress))
	assert.Equal(t, NotFound, Of(fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", NotFound))))
}

func TestErrno(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{NoPermission, 1},
		{NotFound, 2},
		{ProcessNotFound, 3},
		{InvalidHandle, 9},
		{NoMemory, 12},
		{InvalidAddress, 14},
		{Busy, 16},
		{AlreadyExist, 17},
		{InvalidArgument, 22},
		{Unsupported, 95},
		{Unknown, 255},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.Errno(), tt.code.Error())
	}
}

func TestError(t *testing.T) {
	assert.Equal(t, "invalid address", InvalidAddress.Error())
	assert.Equal(t, "error code 99", Code(99).Error())
}
