// Package mcperf paces and measures traffic over a best-effort publish/subscribe
// channel.
//
// A Pacer publishes a fixed-size payload at a target bit-rate, a Consumer
// receives it and reports instantaneous and average throughput through a
// ThroughputMeter. A Controller owns the Session both run on and stops them by
// closing it once the Shutdown fires.
package mcperf

import (
	"time"

	"github.com/talostrading/mcperf/mcerrors"
	"github.com/talostrading/mcperf/mcopts"
	"github.com/talostrading/mcperf/multicast"
	"github.com/talostrading/mcperf/zmq"
)

// DefaultTopic marks every payload and is the default subscription.
const DefaultTopic = "MCPERF"

// Publisher is the part of a Session a Pacer needs.
type Publisher interface {
	// Send blocks until b is handed to the transport. Closing the session makes
	// it fail with mcerrors.ErrTerminated.
	Send(b []byte) (int, error)

	// Done is closed when the session is closed.
	Done() <-chan struct{}
}

// Subscriber is the part of a Session a Consumer needs.
type Subscriber interface {
	// Receive blocks until a message arrives, the transport's polling timeout
	// elapses (mcerrors.ErrTimeout) or the session is closed
	// (mcerrors.ErrTerminated).
	Receive() ([]byte, error)
}

// Session is a bound or connected endpoint. Only its owner may Close it; Close
// must be safe to call while another goroutine is blocked in Send or Receive.
type Session interface {
	Publisher
	Subscriber
	Close() error
}

var (
	_ Session = (*multicast.Session)(nil)
	_ Session = (*zmq.Session)(nil)
)

// Open picks the transport from the address scheme: udp://, epgm:// and pgm://
// go over IP multicast, tcp://, ipc:// and inproc:// over ZeroMQ.
func Open(mode mcopts.Mode, address string, opts ...mcopts.Option) (Session, error) {
	switch {
	case multicast.Supported(address):
		s, err := multicast.Open(mode, address, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case zmq.Supported(address):
		s, err := zmq.Open(mode, address, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, mcerrors.NewConfigError("address", "unsupported scheme in %q", address)
	}
}

// NewPayload returns a buffer of size bytes starting with topic (truncated if it
// does not fit) and filled with a repeating alphabet.
func NewPayload(size int, topic []byte) []byte {
	b := make([]byte, size)
	n := copy(b, topic)
	for i := n; i < size; i++ {
		b[i] = byte('a' + (i-n)%26)
	}
	return b
}

// Clock is the time source of the worker loops.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock with its monotonic reading.
var SystemClock Clock = systemClock{}
