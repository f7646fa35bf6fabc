// Package websocket serves link events as a JSON feed over WebSocket.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/devlink/pkg/framework"
	"github.com/robotalks/devlink/pkg/link"
)

// Event types.
const (
	EventConnecting = "connecting"
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventReceived   = "received"
	EventSent       = "sent"
	EventDropped    = "dropped"
	EventDevices    = "devices"
)

// clientBacklog is how many events a slow client may lag behind before
// events are dropped for it.
const clientBacklog = 64

// Event is one JSON document on the feed.
type Event struct {
	Channel   string    `json:"channel"`
	Type      string    `json:"type"`
	Kind      string    `json:"kind,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	Remaining int       `json:"remaining"`
	Attempts  int       `json:"attempts,omitempty"`
	Devices   []string  `json:"devices,omitempty"`
	Time      time.Time `json:"time"`
}

// Feed fans out session and scanner events to WebSocket clients.
type Feed struct {
	lock    sync.Mutex
	clients map[chan Event]struct{}
	closed  bool
}

// NewFeed creates a Feed.
func NewFeed() *Feed {
	return &Feed{clients: make(map[chan Event]struct{})}
}

// Watch registers the feed on a session.
func (f *Feed) Watch(s *link.Session) {
	s.Register(f)
}

// WatchScanner registers the feed on a scanner.
func (f *Feed) WatchScanner(s *link.Scanner) {
	s.Register(f)
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.clients)
}

// Handler returns the WebSocket handler streaming events.
func (f *Feed) Handler() http.Handler {
	return websocket.Handler(f.serve)
}

// Close disconnects all clients.
func (f *Feed) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.closed {
		f.closed = true
		for ch := range f.clients {
			close(ch)
		}
		f.clients = nil
	}
	return nil
}

func (f *Feed) serve(conn *websocket.Conn) {
	defer conn.Close()
	ch := make(chan Event, clientBacklog)
	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		return
	}
	f.clients[ch] = struct{}{}
	f.lock.Unlock()
	glog.V(2).Infof("feed client %s connected", conn.Request().RemoteAddr)

	// the client never sends anything meaningful, a read only detects hangup
	hangup := make(chan struct{})
	go func() {
		var discard []byte
		for websocket.Message.Receive(conn, &discard) == nil {
		}
		close(hangup)
	}()

	defer f.remove(ch)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, ev); err != nil {
				glog.V(2).Infof("feed client %s: %v", conn.Request().RemoteAddr, err)
				return
			}
		case <-hangup:
			return
		}
	}
}

func (f *Feed) remove(ch chan Event) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, ok := f.clients[ch]; ok {
		delete(f.clients, ch)
		close(ch)
	}
}

func (f *Feed) broadcast(ev Event) {
	ev.Time = time.Now()
	f.lock.Lock()
	defer f.lock.Unlock()
	for ch := range f.clients {
		select {
		case ch <- ev:
		default:
			glog.V(2).Infof("feed client lagging, %s event dropped", ev.Type)
		}
	}
}

func messageEvent(ch link.Channel, typ string, raw []byte) Event {
	ev := Event{Channel: ch.String(), Type: typ, Data: raw}
	if env, err := link.Decode(raw); err == nil {
		ev.Kind = env.Message.Kind.Name
	}
	return ev
}

// OnConnecting implements link.Listener.
func (f *Feed) OnConnecting(ch link.Channel) {
	f.broadcast(Event{Channel: ch.String(), Type: EventConnecting})
}

// OnConnect implements link.Listener.
func (f *Feed) OnConnect(ch link.Channel) {
	f.broadcast(Event{Channel: ch.String(), Type: EventConnect})
}

// OnDisconnect implements link.Listener.
func (f *Feed) OnDisconnect(ch link.Channel) {
	f.broadcast(Event{Channel: ch.String(), Type: EventDisconnect})
}

// OnMessageReceived implements link.Listener.
func (f *Feed) OnMessageReceived(ch link.Channel, raw []byte) {
	f.broadcast(messageEvent(ch, EventReceived, raw))
}

// OnMessageSent implements link.Listener.
func (f *Feed) OnMessageSent(ch link.Channel, raw []byte, remaining int) {
	ev := messageEvent(ch, EventSent, raw)
	ev.Remaining = remaining
	f.broadcast(ev)
}

// OnMessageDropped implements link.DropListener.
func (f *Feed) OnMessageDropped(ch link.Channel, raw []byte, attempts int) {
	ev := messageEvent(ch, EventDropped, raw)
	ev.Attempts = attempts
	f.broadcast(ev)
}

// OnAvailableDevicesChanged implements link.ScanListener.
func (f *Feed) OnAvailableDevicesChanged(ch link.Channel, devices []link.Descriptor) {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.String())
	}
	f.broadcast(Event{Channel: ch.String(), Type: EventDevices, Devices: names})
}

// Server serves the feed at /events.
type Server struct {
	Addr string
	Feed *Feed
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "websocket"
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/events", s.Feed.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux}
	glog.Infof("event feed at ws://%s/events", s.Addr)
	err := framework.RunWithContextCancel(ctx, func() {
		s.Feed.Close()
		srv.Close()
	}, srv.ListenAndServe)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
