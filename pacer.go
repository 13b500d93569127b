package mcperf

import (
	"fmt"
	"time"

	"github.com/mxk/go-flowrate/flowrate"
	"github.com/talostrading/mcperf/mcerrors"
)

// RateMarginPercent is taken off the configured rate to leave room for
// transport framing.
const RateMarginPercent = 5

// EffectiveRate is the rate in kbit/s a Pacer actually aims for.
func EffectiveRate(targetKbps int64) float64 {
	return float64(targetKbps) * (100 - RateMarginPercent) / 100
}

// PacingDelay is the interval between two sends of payloadSize bytes at the
// effective rate of targetKbps, truncated to whole microseconds and never
// below one microsecond.
func PacingDelay(payloadSize int, targetKbps int64) time.Duration {
	if payloadSize <= 0 || targetKbps <= 0 {
		return time.Microsecond
	}
	// bits*1000/effective == bytes*8*1000*100 / (rate*(100-margin))
	us := uint64(payloadSize) * 8 * 1000 * 100 / (uint64(targetKbps) * (100 - RateMarginPercent))
	if us == 0 {
		us = 1
	}
	return time.Duration(us) * time.Microsecond
}

type PacerConfig struct {
	// PayloadSize may be zero, which sends empty messages at the 1µs floor.
	PayloadSize int
	RateKbps    int64
	Topic       []byte

	// Count stops the Pacer after that many send attempts. Zero runs until the
	// session is closed.
	Count uint64
}

func (c PacerConfig) validate() error {
	if c.PayloadSize < 0 {
		return mcerrors.NewConfigError("size", "payload size must not be negative, got %d", c.PayloadSize)
	}
	if c.RateKbps <= 0 {
		return mcerrors.NewConfigError("rate", "rate must be positive, got %d kbit/s", c.RateKbps)
	}
	return nil
}

// Pacer publishes the same payload over and over so that the long-run bit-rate
// matches EffectiveRate. It is meant to run on a single goroutine.
type Pacer struct {
	pub      Publisher
	reporter Reporter
	clock    Clock

	payload []byte
	rate    int64
	delay   time.Duration
	count   uint64

	monitor *flowrate.Monitor

	sends  uint64
	misses uint64
	bytes  uint64
}

func NewPacer(pub Publisher, cfg PacerConfig, reporter Reporter) (*Pacer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = MultiReporter(nil)
	}
	return &Pacer{
		pub:      pub,
		reporter: reporter,
		clock:    SystemClock,
		payload:  NewPayload(cfg.PayloadSize, cfg.Topic),
		rate:     cfg.RateKbps,
		delay:    PacingDelay(cfg.PayloadSize, cfg.RateKbps),
		count:    cfg.Count,
		monitor:  flowrate.New(time.Second, 10*time.Second),
	}, nil
}

func (p *Pacer) Delay() time.Duration { return p.delay }
func (p *Pacer) Payload() []byte      { return p.payload }
func (p *Pacer) Sends() uint64        { return p.sends }
func (p *Pacer) Misses() uint64       { return p.misses }

// Run sends until the session is closed, the configured count is reached or the
// transport fails hard. Closing the session is a clean exit.
//
// The next deadline is taken after each send returns, so time spent inside the
// transport lengthens the period instead of being made up by a burst.
func (p *Pacer) Run() error {
	defer p.monitor.Done()

	next := p.clock.Now()
	for {
		if wait := next.Sub(p.clock.Now()); wait > 0 {
			select {
			case <-p.clock.After(wait):
			case <-p.pub.Done():
				return nil
			}
		}

		n, err := p.pub.Send(p.payload)
		next = p.clock.Now().Add(p.delay)

		missed := false
		switch {
		case err == nil:
		case mcerrors.IsTerminated(err):
			return nil
		case mcerrors.IsTransient(err):
			missed = true
			p.misses++
		default:
			return fmt.Errorf("pacer send: %w", err)
		}

		p.sends++
		p.bytes += uint64(n)
		p.monitor.Update(n)
		p.reporter.Sent(SendReport{
			Bytes:        n,
			Seq:          p.sends,
			Missed:       missed,
			Misses:       p.misses,
			Delay:        p.delay,
			AchievedKbps: p.AchievedKbps(),
		})

		if p.count > 0 && p.sends >= p.count {
			return nil
		}
	}
}

// AchievedKbps is the average rate measured over the sliding window.
func (p *Pacer) AchievedKbps() uint64 {
	st := p.monitor.Status()
	if st.AvgRate <= 0 {
		return 0
	}
	return uint64(st.AvgRate) * 8 / 1000
}

// Summary is a one-line account of the run, valid once Run returned.
func (p *Pacer) Summary() string {
	return fmt.Sprintf("sent %d messages (%d missed, %d bytes), achieved %d kbit/s of %.0f kbit/s",
		p.sends, p.misses, p.bytes, p.AchievedKbps(), EffectiveRate(p.rate))
}
