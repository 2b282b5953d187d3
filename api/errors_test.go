package api_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := api.Wrap(api.ErrConnectFailure, "connect", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, api.ErrConnectFailure)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, api.ErrBindFailure)

	wrapped := fmt.Errorf("dial: %w", err)
	assert.ErrorIs(t, wrapped, api.ErrConnectFailure)
	assert.Equal(t, api.ErrCodeConnectFailure, api.CodeOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	err := api.NewError(api.ErrCodeInvalidArgument, "bind")
	assert.Equal(t, "bind: invalid argument", err.Error())

	err = api.Wrap(api.ErrChannelClosed, "write", errors.New("boom")).WithContext("channel", "abc")
	assert.Contains(t, err.Error(), "write: channel closed: boom")
	assert.Contains(t, err.Error(), "channel:abc")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(nil))
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(io.EOF))
	assert.Equal(t, api.ErrCodeTimeout, api.CodeOf(api.ErrTimeout))
	assert.Equal(t, "operation timed out", api.ErrCodeTimeout.String())
}

func TestWithContextAccumulates(t *testing.T) {
	err := api.NewError(api.ErrCodeUnderflow, "readByte").
		WithContext("readerIndex", 4).
		WithContext("writerIndex", 4)
	require.Len(t, err.Context, 2)
	assert.Equal(t, 4, err.Context["readerIndex"])
}
