package mcopts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/mcperf/mcerrors"
)

func TestResolveDefaults(t *testing.T) {
	o, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), o)
	assert.Equal(t, DefaultTTL, o.TTL)
	assert.Equal(t, time.Second, o.ReceiveTimeout)
}

func TestResolveLaterWins(t *testing.T) {
	o, err := Resolve(
		TTL(4),
		MaxRate(8400),
		TTL(8),
		Subscribe([]byte("A")),
		Subscribe([]byte("B")),
		Loop(false),
		Interface("lo"),
		FragmentSize(8192),
		SocketBuffer(1<<20),
		ReceiveTimeout(250*time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, 8, o.TTL)
	assert.EqualValues(t, 8400, o.MaxRateKbps)
	assert.Equal(t, [][]byte{[]byte("A"), []byte("B")}, o.Topics)
	assert.False(t, o.Loop)
	assert.Equal(t, "lo", o.Interface)
	assert.Equal(t, 8192, o.FragmentSize)
	assert.Equal(t, 1<<20, o.SocketBuffer)
	assert.Equal(t, 250*time.Millisecond, o.ReceiveTimeout)
}

func TestResolveInvalid(t *testing.T) {
	for _, opt := range []Option{
		TTL(-1),
		TTL(256),
		MaxRate(-1),
		ReceiveTimeout(0),
		FragmentSize(10),
		FragmentSize(70000),
		SocketBuffer(-1),
	} {
		_, err := Resolve(opt)
		require.Error(t, err, opt.Type().String())
		assert.True(t, mcerrors.IsConfig(err), opt.Type().String())
	}
}

func TestMatches(t *testing.T) {
	o, err := Resolve(Subscribe([]byte("MCPERF")))
	require.NoError(t, err)

	assert.True(t, o.Matches([]byte("MCPERFaaaa")))
	assert.True(t, o.Matches([]byte("MCPERF")))
	assert.False(t, o.Matches([]byte("MCPER")))
	assert.False(t, o.Matches([]byte("other")))

	all, err := Resolve(Subscribe(nil))
	require.NoError(t, err)
	assert.True(t, all.Matches(nil))
	assert.True(t, all.Matches([]byte("anything")))

	none, err := Resolve()
	require.NoError(t, err)
	assert.False(t, none.Matches([]byte("anything")))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "publish", ModePublish.String())
	assert.Equal(t, "subscribe", ModeSubscribe.String())
}
