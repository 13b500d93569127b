package telemetry

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/mcperf"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubStreamsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ctx, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Started(mcperf.Startup{Role: mcperf.RoleReceiver, Address: "epgm://239.192.2.3:5556"})
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return hub.startup != nil
	}, time.Second, time.Millisecond)

	conn := dialHub(t, srv)

	ev := readEvent(t, conn)
	assert.Equal(t, EventStarted, ev.Type)
	require.NotNil(t, ev.Startup)
	assert.Equal(t, mcperf.RoleReceiver, ev.Startup.Role)
	assert.Equal(t, 1, hub.Clients())

	hub.Received(mcperf.Rates{Bytes: 4096, InstantKbps: 4096, AverageKbps: 4096})
	ev = readEvent(t, conn)
	assert.Equal(t, EventReceived, ev.Type)
	require.NotNil(t, ev.Rates)
	assert.Equal(t, uint64(4096), ev.Rates.AverageKbps)

	hub.Sent(mcperf.SendReport{Bytes: 10, Seq: 3})
	ev = readEvent(t, conn)
	assert.Equal(t, EventSent, ev.Type)
	require.NotNil(t, ev.Send)
	assert.Equal(t, uint64(3), ev.Send.Seq)
}

func TestHubDisconnectsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(ctx, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err=%v", err)
	assert.Equal(t, 0, hub.Clients())

	// Reporting after the hub stopped must not block.
	hub.Started(mcperf.Startup{})
	hub.Idle()
}

func TestHubDropsUnregisteredClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ctx, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, time.Millisecond)
}
