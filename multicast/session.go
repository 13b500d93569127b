// Package multicast implements a best-effort publish/subscribe session over IPv4
// UDP multicast. Messages larger than one datagram are fragmented and
// reassembled; lost fragments lose the whole message.
package multicast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talostrading/mcperf/internal/sockopt"
	"github.com/talostrading/mcperf/mcerrors"
	"github.com/talostrading/mcperf/mcopts"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/time/rate"
)

const (
	maxDatagramSize = 65535

	// Messages a publisher holds while the writer paces earlier ones out.
	sendQueueDepth = 8
)

type Session struct {
	mode  mcopts.Mode
	opts  mcopts.Options
	group netip.AddrPort
	iff   *net.Interface

	conn  *net.UDPConn
	pconn *ipv4.PacketConn

	limiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	// send side, fragments are written by writeLoop
	seq        uint32
	frame      []byte
	queue      chan *bytebufferpool.ByteBuffer
	bufs       bytebufferpool.Pool
	writerDone chan struct{}
	writeErr   atomic.Pointer[error]

	// receive side
	rbuf []byte
	asm  *assembler

	stats Stats
}

// Open creates a publishing or subscribing session on the group named by address
// (see ParseAddress). An interface given in the address takes precedence over
// the Interface option.
func Open(mode mcopts.Mode, address string, opts ...mcopts.Option) (*Session, error) {
	o, err := mcopts.Resolve(opts...)
	if err != nil {
		return nil, err
	}

	ifaceName, group, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if ifaceName == "" {
		ifaceName = o.Interface
	}
	iff, err := resolveInterface(ifaceName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		mode:   mode,
		opts:   o,
		group:  group,
		iff:    iff,
		ctx:    ctx,
		cancel: cancel,
	}

	switch mode {
	case mcopts.ModePublish:
		err = s.openPublisher()
	case mcopts.ModeSubscribe:
		err = s.openSubscriber()
	default:
		err = fmt.Errorf("unknown session mode=%d", mode)
	}
	if err != nil {
		cancel()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) openPublisher() error {
	d := net.Dialer{
		Control: sockopt.Control(sockopt.SendBuffer(s.opts.SocketBuffer)),
	}
	conn, err := d.DialContext(s.ctx, "udp4", s.group.String())
	if err != nil {
		return fmt.Errorf("could not connect to group=%s err=%w", s.group, err)
	}
	s.conn = conn.(*net.UDPConn)
	s.pconn = ipv4.NewPacketConn(s.conn)

	if err := s.pconn.SetMulticastTTL(s.opts.TTL); err != nil {
		return fmt.Errorf("cannot set multicast ttl=%d err=%w", s.opts.TTL, err)
	}
	if err := s.pconn.SetMulticastLoopback(s.opts.Loop); err != nil {
		return fmt.Errorf("cannot set multicast loop=%v err=%w", s.opts.Loop, err)
	}
	if s.iff != nil {
		if err := s.pconn.SetMulticastInterface(s.iff); err != nil {
			return fmt.Errorf("cannot set outbound interface=%s err=%w", s.iff.Name, err)
		}
	}

	s.frame = make([]byte, HeaderSize+s.opts.FragmentSize)
	if s.opts.MaxRateKbps > 0 {
		s.limiter = newLimiter(s.opts.MaxRateKbps, len(s.frame))
	}

	s.queue = make(chan *bytebufferpool.ByteBuffer, sendQueueDepth)
	s.writerDone = make(chan struct{})
	go s.writeLoop()
	return nil
}

func (s *Session) openSubscriber() error {
	lc := net.ListenConfig{
		Control: sockopt.Control(
			sockopt.ReuseAddr(true),
			sockopt.ReusePort(true),
			sockopt.RecvBuffer(s.opts.SocketBuffer),
		),
	}

	// Bound to the group, not INADDR_ANY: other groups on this port stay out.
	conn, err := lc.ListenPacket(s.ctx, "udp4", s.group.String())
	if err != nil {
		return fmt.Errorf("cannot bind socket to addr=%s err=%w", s.group, err)
	}
	s.conn = conn.(*net.UDPConn)
	s.pconn = ipv4.NewPacketConn(s.conn)

	if err := s.pconn.JoinGroup(s.iff, &net.UDPAddr{IP: s.group.Addr().AsSlice()}); err != nil {
		return fmt.Errorf("cannot join group=%s err=%w", s.group.Addr(), err)
	}

	s.rbuf = make([]byte, maxDatagramSize)
	s.asm = newAssembler(func() { s.stats.Incomplete.Add(1) })
	return nil
}

// newLimiter builds a byte token bucket for the given cap. The bucket holds
// 5ms of traffic, at least one datagram, so fragments of a large message leave
// spread at the cap instead of in one burst.
func newLimiter(kbps int64, datagram int) *rate.Limiter {
	bytesPerSecond := kbps * 1000 / 8
	burst := max(int(bytesPerSecond/200), datagram)
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Send queues a copy of b for publishing and returns len(b). The fragments are
// written by a background writer, paced by the rate cap. A full queue returns
// mcerrors.ErrWouldBlock and drops the message. An unrecoverable write error is
// returned by the next Send.
func (s *Session) Send(b []byte) (int, error) {
	if s.mode != mcopts.ModePublish {
		return 0, fmt.Errorf("cannot send on a %s session", s.mode)
	}
	if len(b) > MaxMessageSize {
		return 0, fmt.Errorf("message size=%d max=%d: %w", len(b), MaxMessageSize, mcerrors.ErrMessageTooLarge)
	}
	if s.ctx.Err() != nil {
		return 0, mcerrors.ErrTerminated
	}
	if err := s.writeErr.Load(); err != nil {
		return 0, *err
	}

	buf := s.bufs.Get()
	buf.Set(b)
	select {
	case s.queue <- buf:
		return len(b), nil
	default:
		s.bufs.Put(buf)
		s.stats.Dropped.Add(1)
		return 0, fmt.Errorf("send queue full depth=%d: %w", sendQueueDepth, mcerrors.ErrWouldBlock)
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case buf := <-s.queue:
			err := s.write(buf.B)
			s.bufs.Put(buf)

			switch {
			case err == nil:
			case mcerrors.IsTerminated(err):
				return
			case mcerrors.IsTransient(err):
				s.stats.Dropped.Add(1)
			default:
				s.writeErr.Store(&err)
				return
			}
		}
	}
}

// write fragments b onto the wire. A write that fails part-way returns
// mcerrors.ErrIncomplete; the receivers will drop the message.
func (s *Session) write(b []byte) error {
	s.seq++
	h := header{seq: s.seq, total: uint32(len(b))}
	fragmentSize := s.opts.FragmentSize

	sent := 0
	for i, n := 0, fragments(len(b), fragmentSize); i < n; i++ {
		chunk := b[sent:min(sent+fragmentSize, len(b))]
		h.offset = uint32(sent)
		h.encode(s.frame)
		frame := s.frame[:HeaderSize+copy(s.frame[HeaderSize:], chunk)]

		if s.limiter != nil {
			if err := s.limiter.WaitN(s.ctx, len(frame)); err != nil {
				return s.mapErr("send", err)
			}
		}

		if _, err := s.conn.Write(frame); err != nil {
			err = s.mapErr("send", err)
			if sent > 0 && mcerrors.IsTransient(err) {
				err = fmt.Errorf("sent=%d of %d: %w", sent, len(b), mcerrors.ErrIncomplete)
			}
			return err
		}
		sent += len(chunk)

		s.stats.DatagramsSent.Add(1)
		s.stats.BytesSent.Add(uint64(len(frame)))
	}
	s.stats.MessagesSent.Add(1)
	return nil
}

// Receive blocks until a whole message matching the topic filters arrives, the
// receive timeout elapses (mcerrors.ErrTimeout) or the session is closed
// (mcerrors.ErrTerminated). The returned slice is only valid until the next
// call to Receive.
func (s *Session) Receive() ([]byte, error) {
	if s.mode != mcopts.ModeSubscribe {
		return nil, fmt.Errorf("cannot receive on a %s session", s.mode)
	}

	msg, err := s.receive()
	if mcerrors.IsTerminated(err) {
		// Partial messages are owned by the receiving goroutine.
		s.asm.release()
	}
	return msg, err
}

func (s *Session) receive() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.ReceiveTimeout)); err != nil {
		return nil, s.mapErr("receive", err)
	}

	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(s.rbuf)
		if err != nil {
			return nil, s.mapErr("receive", err)
		}
		s.stats.DatagramsReceived.Add(1)
		s.stats.BytesReceived.Add(uint64(n))

		h, payload, ok := decodeHeader(s.rbuf[:n])
		if !ok {
			s.stats.Malformed.Add(1)
			continue
		}

		msg, complete := s.asm.add(from, h, payload)
		if !complete {
			continue
		}
		if !s.opts.Matches(msg) {
			s.stats.Filtered.Add(1)
			continue
		}
		s.stats.MessagesReceived.Add(1)
		return msg, nil
	}
}

func (s *Session) mapErr(op string, err error) error {
	switch {
	case s.ctx.Err() != nil:
		return mcerrors.ErrTerminated
	case errors.Is(err, net.ErrClosed):
		return mcerrors.ErrTerminated
	case errors.Is(err, os.ErrDeadlineExceeded):
		return mcerrors.ErrTimeout
	case errors.Is(err, unix.ENOBUFS):
		return fmt.Errorf("%s group=%s: %w", op, s.group, mcerrors.ErrNoBufferSpaceAvailable)
	case errors.Is(err, unix.EAGAIN):
		return fmt.Errorf("%s group=%s: %w", op, s.group, mcerrors.ErrWouldBlock)
	default:
		return fmt.Errorf("%s group=%s err=%w", op, s.group, err)
	}
}

// Close tears the session down. Queued messages not yet written are discarded.
// Any Receive blocked in another goroutine returns mcerrors.ErrTerminated and
// hands the partially reassembled messages back to the pool. Close is
// idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		switch s.mode {
		case mcopts.ModePublish:
			<-s.writerDone
		case mcopts.ModeSubscribe:
			_ = s.pconn.LeaveGroup(s.iff, &net.UDPAddr{IP: s.group.Addr().AsSlice()})
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Done is closed once Close has been called.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) Closed() bool {
	return s.ctx.Err() != nil
}

func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Session) Group() netip.AddrPort {
	return s.group
}

// Outbound returns the explicitly selected interface, nil if the OS picks.
func (s *Session) Outbound() *net.Interface {
	return s.iff
}

func (s *Session) Options() mcopts.Options {
	return s.opts
}

func (s *Session) Stats() *Stats {
	return &s.stats
}

// TTL reads the hop limit back from the socket.
func (s *Session) TTL() (int, error) {
	return s.pconn.MulticastTTL()
}

func (s *Session) Loop() (bool, error) {
	return s.pconn.MulticastLoopback()
}
