package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/devlink/pkg/link"
)

func dialFeed(t *testing.T, f *Feed) (*websocket.Conn, func()) {
	srv := httptest.NewServer(f.Handler())
	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", srv.URL)
	require.NoError(t, err)
	deadline := time.Now().Add(2 * time.Second)
	for f.Clients() == 0 {
		require.True(t, time.Now().Before(deadline), "client not registered")
		time.Sleep(5 * time.Millisecond)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func receive(t *testing.T, conn *websocket.Conn) Event {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, websocket.JSON.Receive(conn, &ev))
	return ev
}

func TestFeedEvents(t *testing.T) {
	f := NewFeed()
	conn, cleanup := dialFeed(t, f)
	defer cleanup()

	f.OnConnect(link.ChannelBluetooth)
	ev := receive(t, conn)
	require.Equal(t, "bluetooth", ev.Channel)
	require.Equal(t, EventConnect, ev.Type)
	require.False(t, ev.Time.IsZero())

	raw := link.NewMessage(link.KindSettings, 0x00).Encode()
	f.OnMessageSent(link.ChannelUSB, raw, 2)
	ev = receive(t, conn)
	require.Equal(t, EventSent, ev.Type)
	require.Equal(t, "Settings", ev.Kind)
	require.Equal(t, raw, ev.Data)
	require.Equal(t, 2, ev.Remaining)

	f.OnAvailableDevicesChanged(link.ChannelUSB, []link.Descriptor{link.SerialPort{Name: "COM1"}})
	ev = receive(t, conn)
	require.Equal(t, EventDevices, ev.Type)
	require.Equal(t, []string{"COM1"}, ev.Devices)
}

func TestFeedSentEmptyQueue(t *testing.T) {
	f := NewFeed()
	conn, cleanup := dialFeed(t, f)
	defer cleanup()

	f.OnMessageSent(link.ChannelUSB, link.NewMessage(link.KindSettings, 0x00).Encode(), 0)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(conn, &msg))
	require.Contains(t, msg, `"remaining":0`)
}

func TestFeedClose(t *testing.T) {
	f := NewFeed()
	conn, cleanup := dialFeed(t, f)
	defer cleanup()

	require.NoError(t, f.Close())
	require.Equal(t, 0, f.Clients())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.Error(t, websocket.JSON.Receive(conn, &ev))
	f.OnConnect(link.ChannelUSB)
}
