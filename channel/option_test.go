package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
)

func TestConfigDefaultsAndTypes(t *testing.T) {
	c := channel.NewConfig()
	assert.Equal(t, 128, c.Int(channel.SoBacklog))
	assert.Equal(t, 2048, c.Int(channel.ReadBufferSize))
	assert.Equal(t, 16, c.Int(channel.WriteSpinCount))
	assert.False(t, c.Bool(channel.AllowHalfClosure))
	assert.False(t, c.IsSet(channel.SoBacklog))

	require.NoError(t, c.Set(channel.SoKeepAlive, true))
	require.NoError(t, c.Set(channel.ConnectTimeout, 50*time.Millisecond))
	require.NoError(t, c.Set(channel.SoBacklog, 16))
	assert.True(t, c.Bool(channel.SoKeepAlive))
	assert.Equal(t, 50*time.Millisecond, c.Duration(channel.ConnectTimeout))
	assert.Equal(t, []channel.Option{channel.ConnectTimeout, channel.SoBacklog, channel.SoKeepAlive}, c.Options())

	for _, tc := range []struct {
		opt channel.Option
		val any
	}{
		{channel.SoKeepAlive, 1},
		{channel.SoBacklog, "128"},
		{channel.SoBacklog, 0},
		{channel.ReadBufferSize, -1},
		{channel.ConnectTimeout, 5},
		{channel.SoLinger, -time.Second},
		{channel.Option("NOPE"), true},
	} {
		assert.ErrorIs(t, c.Set(tc.opt, tc.val), api.ErrInvalidArgument, "%s=%v", tc.opt, tc.val)
	}
	assert.Equal(t, 16, c.Int(channel.SoBacklog))

	dst := channel.NewConfig()
	dst.SetAll(c)
	assert.True(t, dst.Bool(channel.SoKeepAlive))
}

func TestAttributes(t *testing.T) {
	a := channel.NewAttributes()
	key := channel.NewAttributeKey[int]("count")
	_, ok := channel.Attr(a, key)
	assert.False(t, ok)

	channel.SetAttr(a, key, 3)
	v, ok := channel.Attr(a, key)
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	got, existed := a.SetIfAbsent("count", 9)
	assert.True(t, existed)
	assert.Equal(t, 3, got)

	a.Set("name", "x")
	assert.Equal(t, []string{"count", "name"}, a.Keys())

	b := channel.NewAttributes()
	a.CopyTo(b)
	a.Delete("name")
	_, ok = a.Get("name")
	assert.False(t, ok)
	_, ok = b.Get("name")
	assert.True(t, ok)

	a.Set("count", "not an int")
	_, ok = channel.Attr(a, key)
	assert.False(t, ok)
}

func TestIDs(t *testing.T) {
	a, b := channel.NewID(), channel.NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.Short(), 8)
	assert.Equal(t, a.String()[:8], a.Short())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", channel.StateActive.String())
	assert.Equal(t, "closed", channel.StateClosed.String())
}
