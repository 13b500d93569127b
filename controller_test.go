package mcperf

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/mcperf/mcerrors"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func runController(t *testing.T, c *Controller) <-chan error {
	t.Helper()

	errc := make(chan error, 1)
	go func() {
		errc <- c.Run()
	}()
	return errc
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()

	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not return")
		return nil
	}
}

func TestControllerStopsConsumerOnShutdown(t *testing.T) {
	s := newFakeSession()
	sd := NewShutdown()

	var consumer *Consumer
	started := make(chan struct{})
	c := &Controller{
		Open: func() (Session, error) { return s, nil },
		Worker: func(session Session) (Worker, error) {
			consumer = NewConsumer(session, ConsumerConfig{}, nil)
			return WorkerFunc(func() error {
				close(started)
				return consumer.Run()
			}), nil
		},
		Shutdown: sd,
		Logger:   discard,
	}

	errc := runController(t, c)
	<-started

	assert.True(t, sd.Trigger("test"))
	assert.False(t, sd.Trigger("again"))

	require.NoError(t, waitRun(t, errc))
	assert.Equal(t, 1, s.Closes())
	assert.Equal(t, uint64(0), consumer.Samples())
}

func TestControllerStopsPacerOnShutdown(t *testing.T) {
	s := newFakeSession()
	sd := NewShutdown()

	var pacer *Pacer
	c := &Controller{
		Open: func() (Session, error) { return s, nil },
		Worker: func(session Session) (Worker, error) {
			var err error
			pacer, err = NewPacer(session, PacerConfig{PayloadSize: 1 << 20, RateKbps: 1}, nil)
			return pacer, err
		},
		Shutdown: sd,
		Logger:   discard,
	}

	errc := runController(t, c)
	time.Sleep(10 * time.Millisecond)
	sd.Trigger("test")

	require.NoError(t, waitRun(t, errc))
	assert.Equal(t, 1, s.Closes())
	assert.LessOrEqual(t, pacer.Sends(), uint64(1))
}

func TestControllerWorkerFinishesFirst(t *testing.T) {
	s := newFakeSession()
	sd := NewShutdown()
	c := &Controller{
		Open: func() (Session, error) { return s, nil },
		Worker: func(Session) (Worker, error) {
			return WorkerFunc(func() error { return nil }), nil
		},
		Shutdown: sd,
		Logger:   discard,
	}

	require.NoError(t, waitRun(t, runController(t, c)))
	assert.Equal(t, 1, s.Closes())
	assert.True(t, sd.Stopped())
	assert.Equal(t, "worker returned", sd.Reason())
}

func TestControllerWorkerFails(t *testing.T) {
	boom := errors.New("boom")
	s := newFakeSession()
	c := &Controller{
		Open: func() (Session, error) { return s, nil },
		Worker: func(Session) (Worker, error) {
			return WorkerFunc(func() error { return boom }), nil
		},
		Logger: discard,
	}

	err := waitRun(t, runController(t, c))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.Closes())
}

func TestControllerSwallowsTermination(t *testing.T) {
	s := newFakeSession()
	c := &Controller{
		Open: func() (Session, error) { return s, nil },
		Worker: func(Session) (Worker, error) {
			return WorkerFunc(func() error { return mcerrors.ErrTerminated }), nil
		},
		Logger: discard,
	}

	assert.NoError(t, waitRun(t, runController(t, c)))
}

func TestControllerOpenFails(t *testing.T) {
	boom := errors.New("no route")
	built := false
	c := &Controller{
		Open: func() (Session, error) { return nil, boom },
		Worker: func(Session) (Worker, error) {
			built = true
			return nil, nil
		},
		Logger: discard,
	}

	err := c.Run()
	assert.ErrorIs(t, err, boom)
	assert.False(t, built)
}

func TestControllerWorkerConstructionFails(t *testing.T) {
	s := newFakeSession()
	c := &Controller{
		Open: func() (Session, error) { return s, nil },
		Worker: func(session Session) (Worker, error) {
			p, err := NewPacer(session, PacerConfig{PayloadSize: 1024, RateKbps: 0}, nil)
			return p, err
		},
		Logger: discard,
	}

	err := c.Run()
	assert.True(t, mcerrors.IsConfig(err))
	assert.Equal(t, 1, s.Closes())
}

func TestPinnedNegativeCPU(t *testing.T) {
	ran := false
	w := WorkerFunc(func() error {
		ran = true
		return nil
	})

	require.NoError(t, Pinned(-1, w).Run())
	assert.True(t, ran)
}

func TestPinnedRunsWorker(t *testing.T) {
	ran := false
	w := WorkerFunc(func() error {
		ran = true
		return nil
	})

	if err := Pinned(0, w).Run(); err != nil {
		t.Skipf("cannot pin to cpu 0: %v", err)
	}
	assert.True(t, ran)
}
