package link

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultScanInterval is the polling period of a Scanner.
const DefaultScanInterval = time.Second

// DeviceLister enumerates devices on a channel. It returns ErrUnavailable
// when the channel can't be enumerated at the moment.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]Descriptor, error)
}

// ListerFunc is the func form of DeviceLister.
type ListerFunc func(ctx context.Context) ([]Descriptor, error)

// ListDevices implements DeviceLister.
func (f ListerFunc) ListDevices(ctx context.Context) ([]Descriptor, error) {
	return f(ctx)
}

// ScanListener is told about changes of the available devices.
type ScanListener interface {
	OnAvailableDevicesChanged(ch Channel, devices []Descriptor)
}

// ScanListenerFunc is the func form of ScanListener. Funcs can't be
// compared, so a registered ScanListenerFunc can't be unregistered.
type ScanListenerFunc func(ch Channel, devices []Descriptor)

// OnAvailableDevicesChanged implements ScanListener.
func (f ScanListenerFunc) OnAvailableDevicesChanged(ch Channel, devices []Descriptor) {
	f(ch, devices)
}

// Scanner polls a DeviceLister and reports changes of the device set.
type Scanner struct {
	Interval time.Duration

	channel Channel
	lister  DeviceLister
	events  *dispatcher

	lock      sync.Mutex
	listeners []ScanListener
	devices   []Descriptor
	known     map[Descriptor]struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScanner creates a Scanner.
func NewScanner(ch Channel, lister DeviceLister) *Scanner {
	return &Scanner{
		Interval: DefaultScanInterval,
		channel:  ch,
		lister:   lister,
		events:   newDispatcher(),
		known:    make(map[Descriptor]struct{}),
	}
}

// Channel returns the scanned channel.
func (s *Scanner) Channel() Channel {
	return s.channel
}

// Register adds a listener. It's immediately told about the current
// devices if there are any.
func (s *Scanner) Register(l ScanListener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, r := range s.listeners {
		if sameListener(r, l) {
			return
		}
	}
	s.listeners = append(append([]ScanListener(nil), s.listeners...), l)
	if len(s.devices) > 0 {
		devices := s.devices
		s.events.post(func() { l.OnAvailableDevicesChanged(s.channel, devices) })
	}
}

// Unregister removes a listener.
func (s *Scanner) Unregister(l ScanListener) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for n, r := range s.listeners {
		if sameListener(r, l) {
			lst := make([]ScanListener, 0, len(s.listeners)-1)
			lst = append(lst, s.listeners[:n]...)
			s.listeners = append(lst, s.listeners[n+1:]...)
			return
		}
	}
}

// Devices returns the last observed device set.
func (s *Scanner) Devices() []Descriptor {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.devices
}

// Run implements framework.Runnable. It polls until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Scan(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start runs the scanner in background.
func (s *Scanner) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel, s.done = cancel, make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Shutdown stops the background scanning started by Start and waits for it,
// delivering pending notifications.
func (s *Scanner) Shutdown() {
	s.lock.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lock.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.events.close()
}

// Scan polls the lister once and notifies listeners if the set changed.
// It returns true on change.
func (s *Scanner) Scan(ctx context.Context) bool {
	found, err := s.lister.ListDevices(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) && ctx.Err() == nil {
			glog.Warningf("%s: list devices: %v", s.channel, err)
		}
		return false
	}

	set := make(map[Descriptor]struct{}, len(found))
	devices := make([]Descriptor, 0, len(found))
	for _, d := range found {
		if _, exist := set[d]; !exist {
			set[d] = struct{}{}
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].String() < devices[j].String() })

	s.lock.Lock()
	defer s.lock.Unlock()
	if sameSet(s.known, set) {
		return false
	}
	s.known, s.devices = set, devices
	glog.V(2).Infof("%s: %d devices available", s.channel, len(devices))
	listeners := s.listeners
	s.events.post(func() {
		for _, l := range listeners {
			l.OnAvailableDevicesChanged(s.channel, devices)
		}
	})
	return true
}

func sameSet(a, b map[Descriptor]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for d := range a {
		if _, ok := b[d]; !ok {
			return false
		}
	}
	return true
}
