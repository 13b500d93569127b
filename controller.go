package mcperf

import (
	"fmt"
	"log/slog"

	"github.com/talostrading/mcperf/mcerrors"
	"github.com/talostrading/mcperf/util"
)

// Worker is a loop running against a session until the session is closed.
type Worker interface {
	Run() error
}

type WorkerFunc func() error

func (f WorkerFunc) Run() error { return f() }

// Pinned runs w on a goroutine locked to an OS thread bound to cpu. A negative
// cpu runs w as is.
func Pinned(cpu int, w Worker) Worker {
	if cpu < 0 {
		return w
	}
	return WorkerFunc(func() error {
		unpin, err := util.PinWorker(cpu)
		if err != nil {
			return fmt.Errorf("pin worker cpu=%d: %w", cpu, err)
		}
		defer unpin()
		return w.Run()
	})
}

// Controller owns a session for the lifetime of one run: it opens the session,
// runs the worker on its own goroutine, closes the session once on shutdown and
// waits for the worker to return.
type Controller struct {
	// Open creates the session. It is called once, before anything else.
	Open func() (Session, error)

	// Worker builds the loop to run on the open session.
	Worker func(Session) (Worker, error)

	Shutdown *Shutdown
	Logger   *slog.Logger
}

// Run returns nil when the worker stopped because the session was closed or
// because it finished on its own. Open and worker construction errors are
// returned before any goroutine starts.
func (c *Controller) Run() error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c.Shutdown == nil {
		c.Shutdown = NewShutdown()
	}

	session, err := c.Open()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	worker, err := c.Worker(session)
	if err != nil {
		_ = session.Close()
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- worker.Run()
	}()

	logger.Info("running, press ^C (Control + C) to stop...")

	var (
		werr   error
		joined bool
	)
	select {
	case <-c.Shutdown.Done():
		logger.Info("exiting", "reason", c.Shutdown.Reason())
	case werr = <-errc:
		joined = true
		c.Shutdown.Trigger("worker returned")
		if werr != nil {
			logger.Error("worker failed", "err", werr)
		} else {
			logger.Info("worker finished")
		}
	}

	if err := session.Close(); err != nil {
		logger.Warn("could not close session", "err", err)
	}
	if !joined {
		werr = <-errc
	}

	if werr != nil && !mcerrors.IsTerminated(werr) {
		return fmt.Errorf("worker: %w", werr)
	}
	return nil
}
