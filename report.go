package mcperf

import (
	"context"
	"log/slog"
	"time"

	"github.com/talostrading/mcperf/multicast"
)

// LevelTrace sits below slog.LevelDebug and carries one record per message.
const LevelTrace = slog.LevelDebug - 4

// Startup describes a run once its session is open.
type Startup struct {
	RunID         string  `json:"run_id"`
	Role          string  `json:"role"`
	Address       string  `json:"address"`
	PayloadSize   int     `json:"payload_size,omitempty"`
	RateKbps      int64   `json:"rate_kbps,omitempty"`
	EffectiveKbps float64 `json:"effective_kbps,omitempty"`
	Delay         int64   `json:"delay_us,omitempty"`
	TTL           int     `json:"ttl,omitempty"`
	Topic         string  `json:"topic"`
}

// SendReport is emitted after every send attempt of a Pacer.
type SendReport struct {
	Bytes        int           `json:"bytes"`
	Seq          uint64        `json:"seq"`
	Missed       bool          `json:"missed,omitempty"`
	Misses       uint64        `json:"misses"`
	Delay        time.Duration `json:"delay_ns"`
	AchievedKbps uint64        `json:"achieved_kbps"`
}

// Reporter observes the worker loops. Calls come from the worker goroutine.
type Reporter interface {
	Started(Startup)
	Sent(SendReport)
	Received(Rates)
	Idle()
}

// MultiReporter fans every call out to all of its members in order.
type MultiReporter []Reporter

func (m MultiReporter) Started(s Startup) {
	for _, r := range m {
		r.Started(s)
	}
}

func (m MultiReporter) Sent(s SendReport) {
	for _, r := range m {
		r.Sent(s)
	}
}

func (m MultiReporter) Received(rates Rates) {
	for _, r := range m {
		r.Received(rates)
	}
}

func (m MultiReporter) Idle() {
	for _, r := range m {
		r.Idle()
	}
}

// LogReporter writes startup parameters at info level and per-message records
// at LevelTrace.
type LogReporter struct {
	Logger *slog.Logger
}

var _ Reporter = LogReporter{}

func (r LogReporter) Started(s Startup) {
	attrs := []any{
		"run_id", s.RunID,
		"role", s.Role,
		"address", s.Address,
		"topic", s.Topic,
		"rate_kbps", s.RateKbps,
	}
	if s.Role == RoleSender {
		attrs = append(attrs,
			"payload_bytes", s.PayloadSize,
			"effective_kbps", s.EffectiveKbps,
			"delay_us", s.Delay,
			"ttl", s.TTL,
		)
	}
	r.Logger.Info("session open", attrs...)
}

func (r LogReporter) Sent(s SendReport) {
	if !r.Logger.Enabled(context.Background(), LevelTrace) {
		return
	}
	r.Logger.Log(context.Background(), LevelTrace, "sent",
		"bytes", s.Bytes,
		"seq", s.Seq,
		"missed", s.Missed,
		"achieved_kbps", s.AchievedKbps,
	)
}

func (r LogReporter) Received(rates Rates) {
	if !r.Logger.Enabled(context.Background(), LevelTrace) {
		return
	}
	r.Logger.Log(context.Background(), LevelTrace, "received",
		"bytes", rates.Bytes,
		"current_kbps", rates.InstantKbps,
		"average_kbps", rates.AverageKbps,
	)
}

func (r LogReporter) Idle() {
	r.Logger.Log(context.Background(), LevelTrace, "receive timed out")
}

// LogSessionStats logs the transport counters of sessions that keep them, the
// UDP multicast one. Other sessions log nothing.
func LogSessionStats(logger *slog.Logger, s Session) {
	c, ok := s.(interface{ Stats() *multicast.Stats })
	if !ok {
		return
	}
	logger.Info("session stats", "transport", c.Stats().Snapshot())
}

const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)
