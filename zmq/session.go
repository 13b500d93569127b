// Package zmq implements the publish/subscribe session on top of ZeroMQ PUB/SUB
// sockets (github.com/go-zeromq/zmq4), for tcp:// and ipc:// endpoints where
// IP multicast is not available.
package zmq

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/talostrading/mcperf/mcerrors"
	"github.com/talostrading/mcperf/mcopts"
	"golang.org/x/time/rate"
)

var schemes = []string{"tcp://", "ipc://", "inproc://"}

// The subscriber redials until the publisher binds or the session closes.
const (
	dialRetry      = 250 * time.Millisecond
	dialMaxRetries = -1
)

func Supported(address string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(address, s) {
			return true
		}
	}
	return false
}

type result struct {
	msg []byte
	err error
}

type Session struct {
	mode     mcopts.Mode
	opts     mcopts.Options
	endpoint string

	sock    zmq4.Socket
	limiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	// Filled by the receive pump, closed when the pump exits.
	msgs chan result
}

// Open binds a PUB socket (publish) or starts connecting a SUB socket
// (subscribe) to endpoint. As with ZeroMQ, the publisher is the stable end of
// the pair and the subscriber may be started first.
func Open(mode mcopts.Mode, endpoint string, opts ...mcopts.Option) (*Session, error) {
	o, err := mcopts.Resolve(opts...)
	if err != nil {
		return nil, err
	}
	if !Supported(endpoint) {
		return nil, fmt.Errorf("endpoint=%s has no supported scheme %v", endpoint, schemes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		mode:     mode,
		opts:     o,
		endpoint: endpoint,
		ctx:      ctx,
		cancel:   cancel,
	}

	switch mode {
	case mcopts.ModePublish:
		s.sock = zmq4.NewPub(ctx)
		if err = s.sock.Listen(endpoint); err != nil {
			err = fmt.Errorf("could not bind endpoint=%s err=%w", endpoint, err)
		}
		if o.MaxRateKbps > 0 {
			bytesPerSecond := o.MaxRateKbps * 1000 / 8
			s.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
		}
	case mcopts.ModeSubscribe:
		s.sock = zmq4.NewSub(ctx,
			zmq4.WithDialerRetry(dialRetry),
			zmq4.WithDialerMaxRetries(dialMaxRetries),
		)
		s.msgs = make(chan result)
		go s.pump()
	default:
		err = fmt.Errorf("unknown session mode=%d", mode)
	}
	if err != nil {
		cancel()
		if s.sock != nil {
			_ = s.sock.Close()
		}
		return nil, err
	}
	return s, nil
}

// connect dials the publisher and subscribes. Subscriptions are only sent on
// live connections, so they must follow the dial.
func (s *Session) connect() error {
	if err := s.sock.Dial(s.endpoint); err != nil {
		return fmt.Errorf("could not connect to endpoint=%s err=%w", s.endpoint, err)
	}
	for _, topic := range s.opts.Topics {
		if err := s.sock.SetOption(zmq4.OptionSubscribe, string(topic)); err != nil {
			return fmt.Errorf("could not subscribe topic=%q err=%w", topic, err)
		}
	}
	return nil
}

// pump connects, then turns the socket's blocking Recv into a channel so
// Receive can apply a timeout and observe Close. Receive times out while the
// publisher is not up yet.
func (s *Session) pump() {
	defer close(s.msgs)

	if err := s.connect(); err != nil {
		select {
		case s.msgs <- result{err: err}:
		case <-s.ctx.Done():
		}
		return
	}

	for {
		msg, err := s.sock.Recv()
		r := result{err: err}
		if err == nil {
			if len(msg.Frames) == 1 {
				r.msg = msg.Frames[0]
			} else {
				r.msg = bytes.Join(msg.Frames, nil)
			}
		}

		select {
		case s.msgs <- r:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) Send(b []byte) (int, error) {
	if s.mode != mcopts.ModePublish {
		return 0, fmt.Errorf("cannot send on a %s session", s.mode)
	}
	if s.ctx.Err() != nil {
		return 0, mcerrors.ErrTerminated
	}
	if s.limiter != nil {
		// WaitN rejects n above the burst, so large messages are charged in
		// burst-sized chunks.
		for n := len(b); n > 0; {
			chunk := min(n, s.limiter.Burst())
			if err := s.limiter.WaitN(s.ctx, chunk); err != nil {
				return 0, s.mapErr("send", err)
			}
			n -= chunk
		}
	}
	if err := s.sock.Send(zmq4.NewMsg(b)); err != nil {
		return 0, s.mapErr("send", err)
	}
	return len(b), nil
}

func (s *Session) Receive() ([]byte, error) {
	if s.mode != mcopts.ModeSubscribe {
		return nil, fmt.Errorf("cannot receive on a %s session", s.mode)
	}

	timer := time.NewTimer(s.opts.ReceiveTimeout)
	defer timer.Stop()

	select {
	case r, ok := <-s.msgs:
		if !ok {
			return nil, mcerrors.ErrTerminated
		}
		if r.err != nil {
			return nil, s.mapErr("receive", r.err)
		}
		return r.msg, nil
	case <-timer.C:
		return nil, mcerrors.ErrTimeout
	case <-s.ctx.Done():
		return nil, mcerrors.ErrTerminated
	}
}

func (s *Session) mapErr(op string, err error) error {
	if s.ctx.Err() != nil {
		return mcerrors.ErrTerminated
	}
	return fmt.Errorf("%s endpoint=%s err=%w", op, s.endpoint, err)
}

// Close cancels the socket context and closes the socket, which unblocks any
// pending Send or Receive with mcerrors.ErrTerminated. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.sock.Close()
	})
	return s.closeErr
}

func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) Endpoint() string {
	return s.endpoint
}

func (s *Session) Options() mcopts.Options {
	return s.opts
}
