package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/talostrading/mcperf"
)

const (
	wsWriteWait    = 5 * time.Second
	wsPongWait     = 30 * time.Second
	wsPingInterval = 10 * time.Second

	clientQueue = 64
)

const (
	EventStarted  = "started"
	EventSent     = "sent"
	EventReceived = "received"
	EventIdle     = "idle"
)

// Event is one message of the telemetry feed.
type Event struct {
	Type    string             `json:"type"`
	Time    int64              `json:"ts_ms"`
	Startup *mcperf.Startup    `json:"startup,omitempty"`
	Send    *mcperf.SendReport `json:"send,omitempty"`
	Rates   *mcperf.Rates      `json:"rates,omitempty"`
}

// Hub broadcasts worker events to websocket clients. Events are dropped rather
// than queued when a client or the hub falls behind, so a slow viewer never
// slows down the worker loop. A client joining late first gets the Started
// event of the run.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]struct{}
	startup   []byte
	broadcast chan Event
	logger    *slog.Logger
	done      <-chan struct{}
}

type client struct {
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

var _ mcperf.Reporter = (*Hub)(nil)

// NewHub starts the broadcaster. It stops and disconnects every client when ctx
// is done.
func NewHub(ctx context.Context, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Event, 1024),
		logger:    logger,
		done:      ctx.Done(),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			return
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("could not encode telemetry event", "type", ev.Type, "err", err)
				continue
			}
			h.mu.Lock()
			if ev.Type == EventStarted {
				h.startup = data
			}
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}

	h.clients[c] = struct{}{}
	if h.startup != nil {
		c.send <- h.startup
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Clients is the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) publish(ev Event) {
	ev.Time = time.Now().UnixMilli()
	select {
	case h.broadcast <- ev:
	default:
	}
}

func (h *Hub) Started(s mcperf.Startup) {
	// Waits for room in the queue, late joiners depend on it.
	select {
	case h.broadcast <- Event{Type: EventStarted, Time: time.Now().UnixMilli(), Startup: &s}:
	case <-h.done:
	}
}

func (h *Hub) Sent(s mcperf.SendReport) { h.publish(Event{Type: EventSent, Send: &s}) }
func (h *Hub) Received(r mcperf.Rates)  { h.publish(Event{Type: EventReceived, Rates: &r}) }
func (h *Hub) Idle()                    { h.publish(Event{Type: EventIdle}) }

// ServeHTTP upgrades the request and streams events until either side goes
// away. Messages from the client are read only to notice that it left.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("telemetry upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{send: make(chan []byte, clientQueue)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("telemetry client connected", "remote", r.RemoteAddr)

	var cleanupOnce sync.Once
	done := make(chan struct{})
	cleanup := func() {
		cleanupOnce.Do(func() {
			close(done)
			h.unregister(c)
			_ = conn.Close()
			h.logger.Debug("telemetry client gone", "remote", r.RemoteAddr)
		})
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go func() {
		defer cleanup()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-c.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
						time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
