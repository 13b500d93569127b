// Package config holds the settings of mcsend and mcrecv. Values come from the
// defaults, then an optional YAML file, then command-line flags, then the
// positional address.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/pflag"
	"github.com/talostrading/mcperf"
	"github.com/talostrading/mcperf/mcerrors"
	"github.com/talostrading/mcperf/mcopts"
	"github.com/talostrading/mcperf/multicast"
	"github.com/talostrading/mcperf/telemetry"
	"github.com/talostrading/mcperf/zmq"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress     = "epgm://239.192.2.3:5556"
	DefaultMessageSize = 1024 * 1024
	DefaultRate        = Rate(8400)
	DefaultWorkers     = 1
	DefaultLogLevel    = "trace"

	// Room for a few default-size messages in the kernel queue.
	DefaultSocketBuffer = 4 << 20
)

// Common settings of both tools.
type Common struct {
	Address      string `yaml:"address"`
	Topic        string `yaml:"topic"`
	Interface    string `yaml:"interface"`
	Rate         Rate   `yaml:"rate"`
	Workers      int    `yaml:"workers"`
	SocketBuffer int    `yaml:"socket_buffer"`
	HTTPAddr     string `yaml:"http_addr"`
	CPU          int    `yaml:"cpu"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

type Sender struct {
	Common `yaml:",inline"`

	MessageSize  int    `yaml:"message_size"`
	TTL          int    `yaml:"ttl"`
	Loop         bool   `yaml:"loop"`
	Count        uint64 `yaml:"count"`
	FragmentSize int    `yaml:"fragment_size"`
}

type Receiver struct {
	Common `yaml:",inline"`

	ReceiveTimeout Duration `yaml:"receive_timeout"`
	Histogram      bool     `yaml:"histogram"`
}

func defaultCommon() Common {
	return Common{
		Address:      DefaultAddress,
		Topic:        mcperf.DefaultTopic,
		Rate:         DefaultRate,
		Workers:      DefaultWorkers,
		SocketBuffer: DefaultSocketBuffer,
		CPU:          -1,
		LogLevel:     DefaultLogLevel,
		LogFormat:    telemetry.FormatAuto,
	}
}

func DefaultSender() Sender {
	return Sender{
		Common:       defaultCommon(),
		MessageSize:  DefaultMessageSize,
		TTL:          mcopts.DefaultTTL,
		Loop:         true,
		FragmentSize: mcopts.DefaultFragmentSize,
	}
}

func DefaultReceiver() Receiver {
	return Receiver{
		Common:         defaultCommon(),
		ReceiveTimeout: Duration(mcopts.DefaultReceiveTimeout),
		Histogram:      true,
	}
}

func (c *Common) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Address, "multicast-address", "m", c.Address, "address to publish on or subscribe to (udp://, epgm://, pgm://, tcp://, ipc://, inproc://)")
	fs.StringVar(&c.Topic, "topic", c.Topic, "topic marker at the head of every message")
	fs.StringVarP(&c.Interface, "interface", "i", c.Interface, "network interface for multicast traffic")
	fs.VarP(&c.Rate, "upload-rate", "R", "maximum data rate, kbit/s or with a unit (8.4mbit, 500k)")
	fs.IntVarP(&c.Workers, "worker-threads", "W", c.Workers, "minimum number of OS threads running Go code")
	fs.IntVar(&c.SocketBuffer, "socket-buffer", c.SocketBuffer, "socket buffer size in bytes, 0 keeps the OS default")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "address of the telemetry and profiling server, empty to disable")
	fs.IntVar(&c.CPU, "cpu", c.CPU, "pin the worker to this CPU, -1 to disable")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "trace, debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "auto, text or json")
}

func (s *Sender) bind(fs *pflag.FlagSet) {
	s.Common.bind(fs)
	fs.IntVarP(&s.MessageSize, "message-size", "S", s.MessageSize, "size of a message in bytes")
	fs.IntVarP(&s.TTL, "ttl", "T", s.TTL, "multicast packet TTL (maximum number of hops between networks)")
	fs.BoolVar(&s.Loop, "loop", s.Loop, "deliver multicast to listeners on this host")
	fs.Uint64VarP(&s.Count, "count", "c", s.Count, "stop after this many messages, 0 runs until interrupted")
	fs.IntVar(&s.FragmentSize, "fragment-size", s.FragmentSize, "largest datagram payload in bytes")
}

func (r *Receiver) bind(fs *pflag.FlagSet) {
	r.Common.bind(fs)
	fs.Var(&r.ReceiveTimeout, "receive-timeout", "how long a receive waits before polling again")
	fs.BoolVar(&r.Histogram, "histogram", r.Histogram, "print the rate distribution on exit")
}

// LoadSender parses args (without the program name) into a validated Sender.
// It returns pflag.ErrHelp, after printing usage to out, when help was asked for.
func LoadSender(args []string, out io.Writer) (Sender, error) {
	cfg := DefaultSender()
	if err := load("mcsend", args, out, &cfg, DefaultSender); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadReceiver is LoadSender for mcrecv.
func LoadReceiver(args []string, out io.Writer) (Receiver, error) {
	cfg := DefaultReceiver()
	if err := load("mcrecv", args, out, &cfg, DefaultReceiver); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (s *Sender) common() *Common   { return &s.Common }
func (r *Receiver) common() *Common { return &r.Common }

type settings[T any] interface {
	*T
	bind(fs *pflag.FlagSet)
	common() *Common
}

// load binds flags to cfg and parses args. When a config file is named, cfg is
// rebuilt from the defaults and the file, and the flags given on the command
// line are applied again on top.
func load[T any, P settings[T]](name string, args []string, out io.Writer, cfg P, defaults func() T) error {
	var path string
	newFlags := func(c P) *pflag.FlagSet {
		fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
		fs.SetOutput(out)
		fs.StringVar(&path, "config", path, "YAML file with settings; flags override it")
		c.bind(fs)
		return fs
	}

	fs := newFlags(cfg)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [flags] [address]\n", name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if path != "" {
		fromFile := defaults()
		if err := loadFile(path, &fromFile); err != nil {
			return err
		}
		again := newFlags(P(&fromFile))
		var setErr error
		fs.Visit(func(f *pflag.Flag) {
			if setErr == nil && f.Name != "config" {
				setErr = again.Set(f.Name, f.Value.String())
			}
		})
		if setErr != nil {
			return setErr
		}
		*cfg = fromFile
	}

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.common().Address = fs.Arg(0)
	default:
		return mcerrors.NewConfigError("address", "expected at most one positional address, got %d", fs.NArg())
	}
	return nil
}

func loadFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config path=%s: %w", path, err)
	}
	return nil
}

func (c Common) validate() error {
	if c.Address == "" {
		return mcerrors.NewConfigError("address", "must not be empty")
	}
	if !multicast.Supported(c.Address) && !zmq.Supported(c.Address) {
		return mcerrors.NewConfigError("address", "unsupported scheme in %q", c.Address)
	}
	if c.Rate <= 0 {
		return mcerrors.NewConfigError("rate", "must be positive, got %d kbit/s", c.Rate)
	}
	if c.Workers < 1 {
		return mcerrors.NewConfigError("workers", "must be at least 1, got %d", c.Workers)
	}
	if c.SocketBuffer < 0 {
		return mcerrors.NewConfigError("socket_buffer", "must be >= 0, got %d", c.SocketBuffer)
	}
	if c.CPU < -1 || c.CPU >= runtime.NumCPU() {
		return mcerrors.NewConfigError("cpu", "must be -1 or in [0, %d), got %d", runtime.NumCPU(), c.CPU)
	}
	if _, err := telemetry.ParseLevel(c.LogLevel); err != nil {
		return mcerrors.NewConfigError("log_level", "%v", err)
	}
	switch c.LogFormat {
	case "", telemetry.FormatAuto, telemetry.FormatText, telemetry.FormatJSON:
	default:
		return mcerrors.NewConfigError("log_format", "unknown format %q", c.LogFormat)
	}
	return nil
}

func (s Sender) Validate() error {
	if err := s.Common.validate(); err != nil {
		return err
	}
	if s.MessageSize <= 0 || s.MessageSize > multicast.MaxMessageSize {
		return mcerrors.NewConfigError("message_size", "must be in [1, %d], got %d", multicast.MaxMessageSize, s.MessageSize)
	}
	if s.TTL < 1 || s.TTL > 255 {
		return mcerrors.NewConfigError("ttl", "must be in [1, 255], got %d", s.TTL)
	}
	if s.FragmentSize < mcopts.MinFragmentSize || s.FragmentSize > mcopts.MaxFragmentSize {
		return mcerrors.NewConfigError("fragment_size",
			"must be in [%d, %d], got %d", mcopts.MinFragmentSize, mcopts.MaxFragmentSize, s.FragmentSize)
	}
	return nil
}

func (r Receiver) Validate() error {
	if err := r.Common.validate(); err != nil {
		return err
	}
	if r.ReceiveTimeout <= 0 {
		return mcerrors.NewConfigError("receive_timeout", "must be positive, got %s", r.ReceiveTimeout)
	}
	return nil
}

// ApplyRuntime raises GOMAXPROCS to Workers when it is lower.
func (c Common) ApplyRuntime() {
	if runtime.GOMAXPROCS(0) < c.Workers {
		runtime.GOMAXPROCS(c.Workers)
	}
}

func (c Common) commonOptions() []mcopts.Option {
	opts := []mcopts.Option{
		mcopts.MaxRate(c.Rate.Kbps()),
		mcopts.SocketBuffer(c.SocketBuffer),
	}
	if c.Interface != "" {
		opts = append(opts, mcopts.Interface(c.Interface))
	}
	return opts
}

// Options are the session options of the sender.
func (s Sender) Options() []mcopts.Option {
	return append(s.commonOptions(),
		mcopts.TTL(s.TTL),
		mcopts.Loop(s.Loop),
		mcopts.FragmentSize(s.FragmentSize),
	)
}

// Options are the session options of the receiver. It subscribes to its topic.
func (r Receiver) Options() []mcopts.Option {
	return append(r.commonOptions(),
		mcopts.Subscribe([]byte(r.Topic)),
		mcopts.ReceiveTimeout(r.ReceiveTimeout.Duration()),
	)
}
