package mcperf

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/mcperf/mcerrors"
)

func TestEffectiveRate(t *testing.T) {
	assert.Equal(t, 7980.0, EffectiveRate(8400))
	assert.Equal(t, 0.95, EffectiveRate(1))
	assert.Equal(t, 95000.0, EffectiveRate(100_000))
}

func TestPacingDelay(t *testing.T) {
	// 1 MiB at 8400 kbit/s: 8388608 bits / 7980 kbit/s.
	assert.Equal(t, 1_051_204*time.Microsecond, PacingDelay(1<<20, 8400))

	// 1 byte at 100 Gbit/s would be well under a microsecond.
	assert.Equal(t, time.Microsecond, PacingDelay(1, 100_000_000))

	// 1000 bytes at 8000 kbit/s: 8000 bits / 7600 kbit/s = 1052.63us.
	assert.Equal(t, 1052*time.Microsecond, PacingDelay(1000, 8000))

	assert.Equal(t, time.Microsecond, PacingDelay(0, 8000))
	assert.Equal(t, time.Microsecond, PacingDelay(1000, 0))
}

func TestPacingDelayLongRunRate(t *testing.T) {
	for _, tc := range []struct {
		size int
		kbps int64
	}{
		{1 << 20, 8400},
		{1400, 1000},
		{64, 10},
		{8192, 1_000_000},
	} {
		d := PacingDelay(tc.size, tc.kbps)
		achieved := float64(tc.size*8) / float64(d.Microseconds()) * 1000
		assert.GreaterOrEqual(t, achieved, EffectiveRate(tc.kbps)*0.999, "size=%d rate=%d", tc.size, tc.kbps)
		assert.LessOrEqual(t, achieved, float64(tc.kbps), "size=%d rate=%d", tc.size, tc.kbps)
	}
}

func TestNewPacerRejectsBadConfig(t *testing.T) {
	s := newFakeSession()

	_, err := NewPacer(s, PacerConfig{PayloadSize: -1, RateKbps: 8400}, nil)
	assert.True(t, mcerrors.IsConfig(err))

	_, err = NewPacer(s, PacerConfig{PayloadSize: 1024, RateKbps: 0}, nil)
	assert.True(t, mcerrors.IsConfig(err))

	_, err = NewPacer(s, PacerConfig{PayloadSize: 1024, RateKbps: -1}, nil)
	assert.True(t, mcerrors.IsConfig(err))
}

func newTestPacer(t *testing.T, s *fakeSession, cfg PacerConfig, r Reporter) (*Pacer, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	s.clock = clock

	p, err := NewPacer(s, cfg, r)
	require.NoError(t, err)
	p.clock = clock
	return p, clock
}

func TestPacerSendsAtDelay(t *testing.T) {
	s := newFakeSession()
	rep := &recordingReporter{}
	p, _ := newTestPacer(t, s, PacerConfig{
		PayloadSize: 1 << 20,
		RateKbps:    8400,
		Topic:       []byte(DefaultTopic),
		Count:       4,
	}, rep)

	require.NoError(t, p.Run())
	require.Len(t, s.sendAt, 4)

	for i := 1; i < len(s.sendAt); i++ {
		assert.Equal(t, 1_051_204*time.Microsecond, s.sendAt[i].Sub(s.sendAt[i-1]))
	}
	assert.Equal(t, uint64(4), p.Sends())
	assert.Equal(t, uint64(0), p.Misses())

	require.Len(t, rep.sent, 4)
	for i, r := range rep.sent {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.Equal(t, 1<<20, r.Bytes)
		assert.False(t, r.Missed)
	}
	assert.Equal(t, DefaultTopic, string(p.Payload()[:len(DefaultTopic)]))
}

func TestPacerEmptyPayload(t *testing.T) {
	s := newFakeSession()
	p, _ := newTestPacer(t, s, PacerConfig{PayloadSize: 0, RateKbps: 8400, Count: 4}, nil)

	assert.Equal(t, time.Microsecond, p.Delay())
	assert.Empty(t, p.Payload())

	require.NoError(t, p.Run())
	require.Len(t, s.sendAt, 4)
	for i := 1; i < len(s.sendAt); i++ {
		assert.Equal(t, time.Microsecond, s.sendAt[i].Sub(s.sendAt[i-1]))
	}
	assert.Equal(t, uint64(4), p.Sends())
}

func TestPacerDelayStartsAfterSendReturns(t *testing.T) {
	s := newFakeSession()
	s.cost = 3 * time.Millisecond
	p, _ := newTestPacer(t, s, PacerConfig{
		PayloadSize: 1000,
		RateKbps:    8000,
		Count:       3,
	}, nil)

	require.NoError(t, p.Run())
	require.Len(t, s.sendAt, 3)

	for i := 1; i < len(s.sendAt); i++ {
		assert.Equal(t, p.Delay()+s.cost, s.sendAt[i].Sub(s.sendAt[i-1]))
	}
}

func TestPacerCountsTransientMisses(t *testing.T) {
	s := newFakeSession()
	s.sendFn = func(seq int) error {
		switch seq {
		case 2:
			return mcerrors.ErrNoBufferSpaceAvailable
		case 3:
			return mcerrors.ErrWouldBlock
		}
		return nil
	}
	rep := &recordingReporter{}
	p, _ := newTestPacer(t, s, PacerConfig{PayloadSize: 100, RateKbps: 1000, Count: 5}, rep)

	require.NoError(t, p.Run())

	assert.Len(t, s.sendAt, 5)
	assert.Equal(t, uint64(5), p.Sends())
	assert.Equal(t, uint64(2), p.Misses())
	require.Len(t, rep.sent, 5)
	assert.True(t, rep.sent[1].Missed)
	assert.True(t, rep.sent[2].Missed)
	assert.Equal(t, uint64(2), rep.sent[4].Misses)
}

func TestPacerStopsOnTermination(t *testing.T) {
	s := newFakeSession()
	s.sendFn = func(seq int) error {
		if seq == 3 {
			return mcerrors.ErrTerminated
		}
		return nil
	}
	p, _ := newTestPacer(t, s, PacerConfig{PayloadSize: 100, RateKbps: 1000}, nil)

	assert.NoError(t, p.Run())
	assert.Len(t, s.sendAt, 3)
	assert.Equal(t, uint64(2), p.Sends())
}

func TestPacerFailsOnHardError(t *testing.T) {
	boom := errors.New("boom")
	s := newFakeSession()
	s.sendFn = func(seq int) error {
		if seq == 2 {
			return boom
		}
		return nil
	}
	p, _ := newTestPacer(t, s, PacerConfig{PayloadSize: 100, RateKbps: 1000}, nil)

	err := p.Run()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), p.Sends())
}

func TestPacerWakesOnCloseWhileWaiting(t *testing.T) {
	s := newFakeSession()
	p, clock := newTestPacer(t, s, PacerConfig{PayloadSize: 1 << 20, RateKbps: 1}, nil)
	clock.block = true

	errc := make(chan error, 1)
	go func() {
		errc <- p.Run()
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sendAt) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pacer did not return after close")
	}
	assert.Equal(t, uint64(1), p.Sends())
}

func TestPacerSummary(t *testing.T) {
	s := newFakeSession()
	p, _ := newTestPacer(t, s, PacerConfig{PayloadSize: 100, RateKbps: 1000, Count: 2}, nil)
	require.NoError(t, p.Run())
	assert.Contains(t, p.Summary(), "sent 2 messages (0 missed, 200 bytes)")
	assert.Contains(t, p.Summary(), "of 950 kbit/s")
}
