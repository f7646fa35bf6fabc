package link

import (
	"reflect"
	"strings"
	"sync"
)

// Channel identifies a logical link to the peripheral.
type Channel int

// Channels.
const (
	ChannelUSB Channel = iota
	ChannelBluetooth
)

// String implements fmt.Stringer.
func (c Channel) String() string {
	if c == ChannelBluetooth {
		return "bluetooth"
	}
	return "usb"
}

// ParseChannel parses "usb" or "bluetooth" (also "bt").
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(s) {
	case "usb", "serial":
		return ChannelUSB, true
	case "bluetooth", "bt":
		return ChannelBluetooth, true
	}
	return ChannelUSB, false
}

// Listener receives session events. Callbacks are invoked from a dedicated
// dispatch goroutine, in order, never from inside a session loop.
type Listener interface {
	OnConnecting(ch Channel)
	OnConnect(ch Channel)
	OnDisconnect(ch Channel)
	OnMessageReceived(ch Channel, raw []byte)
	OnMessageSent(ch Channel, raw []byte, remaining int)
}

// DropListener is optionally implemented by a Listener to be told about
// messages dropped after RetryPolicy.MaxAttempts.
type DropListener interface {
	OnMessageDropped(ch Channel, raw []byte, attempts int)
}

// BaseListener implements Listener with no-ops, to be embedded.
type BaseListener struct{}

// OnConnecting implements Listener.
func (BaseListener) OnConnecting(Channel) {}

// OnConnect implements Listener.
func (BaseListener) OnConnect(Channel) {}

// OnDisconnect implements Listener.
func (BaseListener) OnDisconnect(Channel) {}

// OnMessageReceived implements Listener.
func (BaseListener) OnMessageReceived(Channel, []byte) {}

// OnMessageSent implements Listener.
func (BaseListener) OnMessageSent(Channel, []byte, int) {}

// dispatcher runs callbacks on its own goroutine in FIFO order.
// Posting never blocks.
type dispatcher struct {
	lock    sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.lock)
	go d.run()
	return d
}

func (d *dispatcher) post(fn func()) {
	d.lock.Lock()
	if !d.closed {
		d.pending = append(d.pending, fn)
		d.cond.Signal()
	}
	d.lock.Unlock()
}

// close stops accepting callbacks, runs the remaining ones and waits.
func (d *dispatcher) close() {
	d.lock.Lock()
	d.closed = true
	d.cond.Signal()
	d.lock.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.lock.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		fns := d.pending
		d.pending = nil
		closed := d.closed
		d.lock.Unlock()
		for _, fn := range fns {
			fn()
		}
		if closed && len(fns) == 0 {
			return
		}
	}
}

// listenerSet is a copy-on-write list of listeners.
type listenerSet struct {
	lock      sync.RWMutex
	listeners []Listener
}

func (s *listenerSet) add(l Listener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, r := range s.listeners {
		if sameListener(r, l) {
			return
		}
	}
	s.listeners = append(append([]Listener(nil), s.listeners...), l)
}

func (s *listenerSet) remove(l Listener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for n, r := range s.listeners {
		if sameListener(r, l) {
			lst := make([]Listener, 0, len(s.listeners)-1)
			lst = append(lst, s.listeners[:n]...)
			s.listeners = append(lst, s.listeners[n+1:]...)
			return
		}
	}
}

func (s *listenerSet) snapshot() []Listener {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.listeners
}

// sameListener reports whether a and b are the same listener. Values of
// uncomparable types, like funcs, never match.
func sameListener(a, b interface{}) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
