package link

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/devlink/pkg/framework"
)

// State is the connection state of a Session.
type State int

// States.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

var stateNames = [...]string{"disconnected", "connecting", "connected"}

// String implements fmt.Stringer.
func (s State) String() string {
	return stateNames[s]
}

// Default intervals of a Session.
const (
	DefaultReconnectDelay = 10 * time.Second
	DefaultPingInterval   = 10 * time.Second
)

// Opener opens a transport to a device.
// Open must return when ctx is canceled.
type Opener interface {
	Open(ctx context.Context, d Descriptor) (io.ReadWriteCloser, error)
}

// OpenFunc is the func form of Opener.
type OpenFunc func(ctx context.Context, d Descriptor) (io.ReadWriteCloser, error)

// Open implements Opener.
func (f OpenFunc) Open(ctx context.Context, d Descriptor) (io.ReadWriteCloser, error) {
	return f(ctx, d)
}

// Options configures a Session.
type Options struct {
	// AutoReconnect keeps retrying to open the transport, and reopens it
	// right away after a link failure.
	AutoReconnect bool
	// ReconnectDelay is the pause after a failed open.
	ReconnectDelay time.Duration
	// Heartbeat enables idle keep-alive messages every PingInterval.
	Heartbeat    bool
	PingInterval time.Duration
	Retry        RetryPolicy
	Framing      Framing
	// MaxPacketSize is the largest encoded inner message.
	MaxPacketSize int
}

// DefaultOptions returns the options for a channel.
func DefaultOptions(ch Channel) Options {
	opts := Options{
		ReconnectDelay: DefaultReconnectDelay,
		PingInterval:   DefaultPingInterval,
		Retry:          DefaultRetryPolicy,
	}
	if ch == ChannelBluetooth {
		opts.AutoReconnect = true
		opts.Heartbeat = true
		opts.Framing = FramingDatagram
		opts.MaxPacketSize = BluetoothMaxPacketSize
	} else {
		opts.Framing = FramingStream
		opts.MaxPacketSize = USBMaxPacketSize
	}
	return opts
}

type linkRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is the connection to one device over a channel.
type Session struct {
	channel Channel
	opener  Opener
	opts    Options
	framer  Framer
	engine  *DeliveryEngine

	listeners listenerSet
	events    *dispatcher

	ops    sync.Mutex // serializes Connect, Disconnect and Shutdown
	lock   sync.Mutex
	state  State
	desc   Descriptor
	run    *linkRun
	closed bool

	stopHeartbeat context.CancelFunc
	heartbeatDone chan struct{}
}

// NewSession creates a Session.
func NewSession(ch Channel, opener Opener, opts Options) *Session {
	defaults := DefaultOptions(ch)
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaults.ReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = defaults.MaxPacketSize
	}
	s := &Session{
		channel: ch,
		opener:  opener,
		opts:    opts,
		framer:  opts.Framing.NewFramer(opts.MaxPacketSize),
		engine:  NewDeliveryEngine(opts.Retry),
		events:  newDispatcher(),
	}
	s.engine.OnSent = func(raw []byte, remaining int) {
		s.emit(func(l Listener) { l.OnMessageSent(s.channel, raw, remaining) })
	}
	s.engine.OnDropped = func(raw []byte, attempts int) {
		s.emit(func(l Listener) {
			if dl, ok := l.(DropListener); ok {
				dl.OnMessageDropped(s.channel, raw, attempts)
			}
		})
	}
	if opts.Heartbeat {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopHeartbeat, s.heartbeatDone = cancel, make(chan struct{})
		go s.heartbeat(ctx)
	}
	return s
}

// Channel returns the channel of the session.
func (s *Session) Channel() Channel {
	return s.channel
}

// Options returns the effective options.
func (s *Session) Options() Options {
	return s.opts
}

// State returns the current state.
func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Descriptor returns the device of the current or last connection.
func (s *Session) Descriptor() Descriptor {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.desc
}

// Pending returns the outbound queue depth.
func (s *Session) Pending() int {
	return s.engine.Pending()
}

// Register adds a listener.
func (s *Session) Register(l Listener) {
	s.listeners.add(l)
}

// Unregister removes a listener.
func (s *Session) Unregister(l Listener) {
	s.listeners.remove(l)
}

// Connect starts connecting to a device and returns false if d is invalid,
// or the session is already connecting or connected to d. An existing
// connection to another device is torn down first.
func (s *Session) Connect(d Descriptor) bool {
	if d == nil {
		return false
	}
	if err := d.Validate(); err != nil {
		glog.Warningf("%s: connect rejected: %v", s.channel, err)
		return false
	}
	if d.Channel() != s.channel {
		glog.Warningf("%s: connect rejected: %s is a %s device", s.channel, d, d.Channel())
		return false
	}

	s.ops.Lock()
	defer s.ops.Unlock()

	s.lock.Lock()
	if s.closed || (s.state != StateDisconnected && s.desc == d) {
		s.lock.Unlock()
		return false
	}
	s.lock.Unlock()

	s.teardown()
	s.engine.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	run := &linkRun{cancel: cancel, done: make(chan struct{})}
	s.lock.Lock()
	s.desc, s.state, s.run = d, StateConnecting, run
	s.lock.Unlock()

	glog.Infof("%s: connecting %s", s.channel, d)
	s.emit(func(l Listener) { l.OnConnecting(s.channel) })
	go s.connector(ctx, d, run.done)
	return true
}

// Disconnect closes the connection. It's idempotent.
func (s *Session) Disconnect() {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.teardown()
	s.engine.Reset()
}

// Cancel aborts an in-progress connect, returns false if not connecting.
func (s *Session) Cancel() bool {
	s.ops.Lock()
	defer s.ops.Unlock()
	if s.State() != StateConnecting {
		return false
	}
	s.teardown()
	s.engine.Reset()
	return true
}

// Send queues a message for delivery.
func (s *Session) Send(kind Kind, payload ...byte) error {
	if kind.Code == KindAck.Code {
		return fmt.Errorf("%s can't be sent explicitly", kind)
	}
	if size, limit := len(payload)+2, s.framer.MaxMessageSize(); limit > 0 && size > limit {
		return &PayloadTooLargeError{Size: size, Limit: limit}
	}
	s.lock.Lock()
	closed, state := s.closed, s.state
	s.lock.Unlock()
	if closed {
		return ErrClosed
	}
	if state == StateDisconnected {
		return ErrNotConnected
	}
	s.engine.Enqueue(NewMessage(kind, payload...))
	return nil
}

// Shutdown disconnects and stops all background work. Pending listener
// callbacks are delivered before it returns.
func (s *Session) Shutdown() {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	s.lock.Unlock()

	s.teardown()
	s.engine.Reset()
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		<-s.heartbeatDone
	}
	s.events.close()
}

// teardown stops the current run and waits for it. Listeners are told about
// the disconnect if the session wasn't disconnected already.
func (s *Session) teardown() {
	s.lock.Lock()
	run, active := s.run, s.state != StateDisconnected
	s.run, s.state = nil, StateDisconnected
	if run != nil {
		run.cancel()
	}
	s.lock.Unlock()
	if run != nil {
		<-run.done
	}
	if active {
		glog.Infof("%s: disconnected", s.channel)
		s.emit(func(l Listener) { l.OnDisconnect(s.channel) })
	}
}

// transition changes the state unless the run owning ctx was torn down.
func (s *Session) transition(ctx context.Context, state State) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.state = state
	return true
}

func (s *Session) connector(ctx context.Context, d Descriptor, done chan struct{}) {
	defer close(done)
	for {
		conn, err := s.opener.Open(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Warningf("%s: open %s failed: %v", s.channel, d, err)
			if !s.opts.AutoReconnect {
				if s.transition(ctx, StateDisconnected) {
					s.emit(func(l Listener) { l.OnDisconnect(s.channel) })
				}
				return
			}
			// each failed attempt reads as a disconnect, the state stays
			// Connecting so Cancel still applies
			s.emit(func(l Listener) { l.OnDisconnect(s.channel) })
			if sleep(ctx, s.opts.ReconnectDelay); ctx.Err() != nil {
				return
			}
			s.emit(func(l Listener) { l.OnConnecting(s.channel) })
			continue
		}

		if !s.transition(ctx, StateConnected) {
			conn.Close()
			return
		}
		glog.Infof("%s: connected %s", s.channel, d)
		s.emit(func(l Listener) { l.OnConnect(s.channel) })

		err = s.runLink(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		glog.Warningf("%s: link to %s failed: %v", s.channel, d, err)
		s.engine.Reset()
		if !s.transition(ctx, StateDisconnected) {
			return
		}
		s.emit(func(l Listener) { l.OnDisconnect(s.channel) })
		if !s.opts.AutoReconnect {
			return
		}
		if !s.transition(ctx, StateConnecting) {
			return
		}
		s.emit(func(l Listener) { l.OnConnecting(s.channel) })
	}
}

// runLink runs the receive and delivery loops until either fails.
// The connection is always closed on return.
func (s *Session) runLink(ctx context.Context, conn io.ReadWriteCloser) error {
	receive := framework.RunFunc(func(ctx context.Context) error {
		return framework.RunWithContextCloser(ctx, conn, func() error {
			return s.receive(conn)
		})
	})
	deliver := framework.RunFunc(func(ctx context.Context) error {
		return s.engine.Run(ctx, func(raw []byte) error {
			return s.framer.WriteMessage(conn, raw)
		})
	})
	return framework.RunAll(ctx,
		framework.NamedRun(s.channel.String()+"-receive", receive),
		framework.NamedRun(s.channel.String()+"-deliver", deliver))
}

func (s *Session) receive(r io.Reader) error {
	return s.framer.ReadMessages(r, func(raw []byte) {
		env, err := Decode(raw)
		if err != nil {
			glog.V(2).Infof("%s: drop inbound %s: %v", s.channel, HexString(raw), err)
			return
		}
		if !env.Valid {
			glog.V(2).Infof("%s: drop inbound %s: checksum mismatch", s.channel, HexString(raw))
			return
		}
		if glog.V(2) {
			glog.Infof("%s: inbound %s", s.channel, env.Message)
		}
		s.emit(func(l Listener) { l.OnMessageReceived(s.channel, raw) })
		s.engine.HandleInbound(env)
	})
}

func (s *Session) heartbeat(ctx context.Context) {
	defer close(s.heartbeatDone)
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() == StateConnected && s.engine.Pending() == 0 {
				glog.V(4).Infof("%s: heartbeat", s.channel)
				s.engine.Enqueue(NewMessage(KindHeartbeat))
			}
		}
	}
}

func (s *Session) emit(fn func(Listener)) {
	listeners := s.listeners.snapshot()
	if len(listeners) == 0 {
		return
	}
	s.events.post(func() {
		for _, l := range listeners {
			fn(l)
		}
	})
}
