// Package mcopts holds the options a transport session is configured with:
// rate cap, TTL, topic filters and the polling knobs of the blocking calls.
package mcopts

import (
	"fmt"
	"time"

	"github.com/talostrading/mcperf/mcerrors"
)

type Mode uint8

const (
	// ModePublish sessions emit messages to the group.
	ModePublish Mode = iota
	// ModeSubscribe sessions consume messages matching their topic filters.
	ModeSubscribe
)

func (m Mode) String() string {
	switch m {
	case ModePublish:
		return "publish"
	case ModeSubscribe:
		return "subscribe"
	default:
		return "mode_unknown"
	}
}

type OptionType uint8

const (
	TypeMaxRate OptionType = iota
	TypeTTL
	TypeSubscribe
	TypeLoop
	TypeInterface
	TypeReceiveTimeout
	TypeFragmentSize
	TypeSocketBuffer
	MaxOption
)

func (t OptionType) String() string {
	switch t {
	case TypeMaxRate:
		return "max_rate"
	case TypeTTL:
		return "ttl"
	case TypeSubscribe:
		return "subscribe"
	case TypeLoop:
		return "loop"
	case TypeInterface:
		return "interface"
	case TypeReceiveTimeout:
		return "receive_timeout"
	case TypeFragmentSize:
		return "fragment_size"
	case TypeSocketBuffer:
		return "socket_buffer"
	default:
		return "option_unknown"
	}
}

type Option interface {
	Type() OptionType
	Value() interface{}
}

type option struct {
	t OptionType
	v interface{}
}

func (o option) Type() OptionType { return o.t }
func (o option) Value() interface{} { return o.v }

// MaxRate caps the session's emission rate in kilobits per second. 0 disables the cap.
func MaxRate(kbps int64) Option { return option{TypeMaxRate, kbps} }

// TTL sets the multicast hop limit of outgoing packets.
func TTL(hops int) Option { return option{TypeTTL, hops} }

// Subscribe adds a topic prefix filter. An empty topic matches every message.
// Can be given more than once.
func Subscribe(topic []byte) Option { return option{TypeSubscribe, topic} }

// Loop controls whether outgoing multicast is looped back to local sockets.
func Loop(v bool) Option { return option{TypeLoop, v} }

// Interface selects the network interface used for multicast by name.
func Interface(name string) Option { return option{TypeInterface, name} }

// ReceiveTimeout bounds a single blocking receive so the caller gets control back
// periodically on an idle channel.
func ReceiveTimeout(d time.Duration) Option { return option{TypeReceiveTimeout, d} }

// FragmentSize is the largest datagram payload a message is split into.
func FragmentSize(n int) Option { return option{TypeFragmentSize, n} }

// SocketBuffer sets SO_SNDBUF/SO_RCVBUF in bytes. 0 keeps the OS default.
func SocketBuffer(n int) Option { return option{TypeSocketBuffer, n} }

const (
	DefaultTTL            = 1
	DefaultReceiveTimeout = time.Second
	DefaultFragmentSize   = 1400

	MaxFragmentSize = 65507 - 16
	MinFragmentSize = 64
)

// Options is the resolved form of a list of Option.
type Options struct {
	MaxRateKbps    int64
	TTL            int
	Topics         [][]byte
	Loop           bool
	Interface      string
	ReceiveTimeout time.Duration
	FragmentSize   int
	SocketBuffer   int
}

func Defaults() Options {
	return Options{
		TTL:            DefaultTTL,
		Loop:           true,
		ReceiveTimeout: DefaultReceiveTimeout,
		FragmentSize:   DefaultFragmentSize,
	}
}

// Resolve folds opts over the defaults, later options winning, and validates
// the result.
func Resolve(opts ...Option) (Options, error) {
	o := Defaults()
	for _, opt := range opts {
		switch t := opt.Type(); t {
		case TypeMaxRate:
			o.MaxRateKbps = opt.Value().(int64)
		case TypeTTL:
			o.TTL = opt.Value().(int)
		case TypeSubscribe:
			o.Topics = append(o.Topics, opt.Value().([]byte))
		case TypeLoop:
			o.Loop = opt.Value().(bool)
		case TypeInterface:
			o.Interface = opt.Value().(string)
		case TypeReceiveTimeout:
			o.ReceiveTimeout = opt.Value().(time.Duration)
		case TypeFragmentSize:
			o.FragmentSize = opt.Value().(int)
		case TypeSocketBuffer:
			o.SocketBuffer = opt.Value().(int)
		default:
			return Options{}, fmt.Errorf("unknown option type=%d", t)
		}
	}
	return o, o.validate()
}

func (o Options) validate() error {
	if o.MaxRateKbps < 0 {
		return mcerrors.NewConfigError(TypeMaxRate.String(), "must be >= 0, got %d", o.MaxRateKbps)
	}
	if o.TTL < 0 || o.TTL > 255 {
		return mcerrors.NewConfigError(TypeTTL.String(), "must be in [0, 255], got %d", o.TTL)
	}
	if o.ReceiveTimeout <= 0 {
		return mcerrors.NewConfigError(TypeReceiveTimeout.String(), "must be > 0, got %s", o.ReceiveTimeout)
	}
	if o.FragmentSize < MinFragmentSize || o.FragmentSize > MaxFragmentSize {
		return mcerrors.NewConfigError(TypeFragmentSize.String(),
			"must be in [%d, %d], got %d", MinFragmentSize, MaxFragmentSize, o.FragmentSize)
	}
	if o.SocketBuffer < 0 {
		return mcerrors.NewConfigError(TypeSocketBuffer.String(), "must be >= 0, got %d", o.SocketBuffer)
	}
	return nil
}

// Matches reports whether msg passes the topic filters. With no filter
// configured nothing matches, as with an unsubscribed ZeroMQ SUB socket.
func (o Options) Matches(msg []byte) bool {
	for _, topic := range o.Topics {
		if len(msg) >= len(topic) && string(msg[:len(topic)]) == string(topic) {
			return true
		}
	}
	return false
}
