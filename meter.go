package mcperf

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/talostrading/mcperf/mcerrors"
	"github.com/talostrading/mcperf/util"
)

// Rates is what a ThroughputMeter derives from a single message.
type Rates struct {
	Bytes       int           `json:"bytes"`
	InstantKbps uint64        `json:"current_kbps"`
	AverageKbps uint64        `json:"average_kbps"`
	TotalBytes  uint64        `json:"total_bytes"`
	Samples     uint64        `json:"samples"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// ThroughputMeter turns message sizes and arrival times into kbit/s. Intervals
// are counted in whole microseconds and never below one.
type ThroughputMeter struct {
	start   time.Time
	last    time.Time
	total   uint64
	samples uint64
}

func NewThroughputMeter(start time.Time) *ThroughputMeter {
	return &ThroughputMeter{start: start, last: start}
}

// Observe accounts for n bytes arriving at at. The instantaneous rate covers
// the interval since the previous arrival (or since start), the average rate
// the interval since start.
func (m *ThroughputMeter) Observe(n int, at time.Time) Rates {
	if n < 0 {
		n = 0
	}
	m.total += uint64(n)
	m.samples++

	instant := micros(at.Sub(m.last))
	elapsed := micros(at.Sub(m.start))
	m.last = at

	// bytes*8 bits over us microseconds is bytes*8*1000/us bit/ms, i.e. kbit/s.
	return Rates{
		Bytes:       n,
		InstantKbps: uint64(n) * 8 * 1000 / instant,
		AverageKbps: m.total * 8 * 1000 / elapsed,
		TotalBytes:  m.total,
		Samples:     m.samples,
		Elapsed:     at.Sub(m.start),
	}
}

func (m *ThroughputMeter) TotalBytes() uint64 { return m.total }
func (m *ThroughputMeter) Samples() uint64    { return m.samples }

func micros(d time.Duration) uint64 {
	us := d.Microseconds()
	if us < 1 {
		return 1
	}
	return uint64(us)
}

type ConsumerConfig struct {
	// Marker is the prefix the benchmark payload starts with. Messages without
	// it are still measured but counted as foreign.
	Marker []byte
}

// Consumer receives until its session is closed, feeding every message into a
// ThroughputMeter and a rate histogram.
type Consumer struct {
	sub      Subscriber
	reporter Reporter
	clock    Clock
	marker   []byte

	meter   *ThroughputMeter
	hist    *util.RateHist
	idle    uint64
	foreign uint64
}

func NewConsumer(sub Subscriber, cfg ConsumerConfig, reporter Reporter) *Consumer {
	if reporter == nil {
		reporter = MultiReporter(nil)
	}
	return &Consumer{
		sub:      sub,
		reporter: reporter,
		clock:    SystemClock,
		marker:   cfg.Marker,
		hist:     util.NewRateHist(util.DefaultRateHistOpts("current rate (kbit/s)")),
	}
}

// Run starts the meter and receives until the session is closed. Receive
// timeouts only keep the loop responsive; they are not failures.
func (c *Consumer) Run() error {
	c.meter = NewThroughputMeter(c.clock.Now())
	for {
		msg, err := c.sub.Receive()
		switch {
		case err == nil:
		case mcerrors.IsTimeout(err):
			c.idle++
			c.reporter.Idle()
			continue
		case mcerrors.IsTerminated(err):
			return nil
		default:
			return fmt.Errorf("consumer receive: %w", err)
		}

		rates := c.meter.Observe(len(msg), c.clock.Now())
		if len(c.marker) > 0 && !bytes.HasPrefix(msg, c.marker) {
			c.foreign++
		}
		c.hist.Add(rates.InstantKbps)
		c.reporter.Received(rates)
	}
}

func (c *Consumer) Foreign() uint64 { return c.foreign }
func (c *Consumer) Idle() uint64    { return c.idle }

func (c *Consumer) Samples() uint64 {
	if c.meter == nil {
		return 0
	}
	return c.meter.Samples()
}

// Report writes the run totals and the distribution of instantaneous rates.
// It must not be called while Run is in progress.
func (c *Consumer) Report(w io.Writer) {
	if c.meter == nil || c.meter.Samples() == 0 {
		fmt.Fprintf(w, "received nothing (%d idle polls)\n", c.idle)
		return
	}
	elapsed := micros(c.meter.last.Sub(c.meter.start))
	avg := c.meter.total * 8 * 1000 / elapsed
	fmt.Fprintf(w, "received %d messages, %s in %s, average %s (%d foreign, %d idle polls)\n",
		c.meter.samples,
		util.ByteCountSI(int64(c.meter.total)),
		c.meter.last.Sub(c.meter.start).Round(time.Millisecond),
		util.BitRateSI(float64(avg)),
		c.foreign,
		c.idle,
	)
	c.hist.Report(w)
}
