package mcperf

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Shutdown is a one-way switch from running to stopping. It can be triggered
// any number of times from any goroutine, including a signal watcher; only the
// first trigger has an effect.
type Shutdown struct {
	once   sync.Once
	done   chan struct{}
	reason string
}

func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Trigger requests a stop and reports whether this call is the one that did it.
func (s *Shutdown) Trigger(reason string) bool {
	fired := false
	s.once.Do(func() {
		s.reason = reason
		close(s.done)
		fired = true
	})
	return fired
}

// Done is closed once the Shutdown is triggered.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the Shutdown is triggered.
func (s *Shutdown) Wait() {
	<-s.done
}

func (s *Shutdown) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason is the reason given to the first Trigger, or "" before that.
func (s *Shutdown) Reason() string {
	if !s.Stopped() {
		return ""
	}
	return s.reason
}

// WatchSignals triggers the Shutdown on any of sigs, SIGINT and SIGTERM if none
// are given. Signals arriving after the first are swallowed so that a repeated
// interrupt does not kill the process half-way through its teardown. The
// returned func stops watching and waits for the watcher to exit.
func (s *Shutdown) WatchSignals(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case sig := <-ch:
				s.Trigger("signal " + sig.String())
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
			wg.Wait()
		})
	}
}
