package multicast

import (
	"log/slog"
	"sync/atomic"
)

// Stats counts session activity. Counters are updated by the goroutine driving
// the session and may be read from any goroutine.
type Stats struct {
	DatagramsSent atomic.Uint64
	BytesSent     atomic.Uint64
	MessagesSent  atomic.Uint64
	// Messages not written: send queue full or a transient write error.
	Dropped atomic.Uint64

	DatagramsReceived atomic.Uint64
	BytesReceived     atomic.Uint64
	MessagesReceived  atomic.Uint64

	// Messages abandoned because a fragment was lost or reordered.
	Incomplete atomic.Uint64
	// Messages that did not match any subscribed topic.
	Filtered atomic.Uint64
	// Datagrams without a valid fragment header.
	Malformed atomic.Uint64
}

type StatsSnapshot struct {
	DatagramsSent     uint64
	BytesSent         uint64
	MessagesSent      uint64
	Dropped           uint64
	DatagramsReceived uint64
	BytesReceived     uint64
	MessagesReceived  uint64
	Incomplete        uint64
	Filtered          uint64
	Malformed         uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		DatagramsSent:     s.DatagramsSent.Load(),
		BytesSent:         s.BytesSent.Load(),
		MessagesSent:      s.MessagesSent.Load(),
		Dropped:           s.Dropped.Load(),
		DatagramsReceived: s.DatagramsReceived.Load(),
		BytesReceived:     s.BytesReceived.Load(),
		MessagesReceived:  s.MessagesReceived.Load(),
		Incomplete:        s.Incomplete.Load(),
		Filtered:          s.Filtered.Load(),
		Malformed:         s.Malformed.Load(),
	}
}

// LogValue logs the counters as a group, skipping the side of the session that
// saw no traffic.
func (s StatsSnapshot) LogValue() slog.Value {
	var attrs []slog.Attr
	if s.DatagramsSent > 0 || s.Dropped > 0 {
		attrs = append(attrs,
			slog.Uint64("datagrams_sent", s.DatagramsSent),
			slog.Uint64("bytes_sent", s.BytesSent),
			slog.Uint64("messages_sent", s.MessagesSent),
			slog.Uint64("dropped", s.Dropped),
		)
	}
	if s.DatagramsReceived > 0 {
		attrs = append(attrs,
			slog.Uint64("datagrams_received", s.DatagramsReceived),
			slog.Uint64("bytes_received", s.BytesReceived),
			slog.Uint64("messages_received", s.MessagesReceived),
			slog.Uint64("incomplete", s.Incomplete),
			slog.Uint64("filtered", s.Filtered),
			slog.Uint64("malformed", s.Malformed),
		)
	}
	return slog.GroupValue(attrs...)
}
