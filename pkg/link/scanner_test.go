package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	lock    sync.Mutex
	devices []Descriptor
	err     error
}

func (l *fakeLister) set(err error, devices ...Descriptor) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.devices, l.err = devices, err
}

func (l *fakeLister) ListDevices(ctx context.Context) ([]Descriptor, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.devices, l.err
}

type scanRecorder struct {
	changes chan []Descriptor
}

func (r *scanRecorder) OnAvailableDevicesChanged(ch Channel, devices []Descriptor) {
	r.changes <- devices
}

func (r *scanRecorder) next(t *testing.T) []Descriptor {
	select {
	case devices := <-r.changes:
		return devices
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
	return nil
}

func TestScannerDiff(t *testing.T) {
	lister := &fakeLister{}
	s := NewScanner(ChannelUSB, lister)
	defer s.Shutdown()
	rec := &scanRecorder{changes: make(chan []Descriptor, 8)}
	s.Register(rec)
	ctx := context.Background()

	a, b := SerialPort{Name: "COM1"}, SerialPort{Name: "COM2"}

	require.False(t, s.Scan(ctx))

	lister.set(nil, b, a)
	require.True(t, s.Scan(ctx))
	require.Equal(t, []Descriptor{a, b}, rec.next(t))

	lister.set(nil, a, b, a)
	require.False(t, s.Scan(ctx))

	lister.set(ErrUnavailable)
	require.False(t, s.Scan(ctx))
	lister.set(errors.New("permission denied"))
	require.False(t, s.Scan(ctx))
	require.Equal(t, []Descriptor{a, b}, s.Devices())

	lister.set(nil, a, SerialPort{Name: "COM3"})
	require.True(t, s.Scan(ctx))
	require.Equal(t, []Descriptor{a, SerialPort{Name: "COM3"}}, rec.next(t))

	lister.set(nil)
	require.True(t, s.Scan(ctx))
	require.Empty(t, rec.next(t))
}

func TestScannerRegisterReplaysDevices(t *testing.T) {
	lister := &fakeLister{}
	lister.set(nil, NewBluetoothDevice("00:11:22:33:44:55", DefaultRFCOMMChannel))
	s := NewScanner(ChannelBluetooth, lister)
	defer s.Shutdown()
	require.True(t, s.Scan(context.Background()))

	rec := &scanRecorder{changes: make(chan []Descriptor, 8)}
	s.Register(rec)
	require.Len(t, rec.next(t), 1)

	s.Unregister(rec)
	lister.set(nil)
	require.True(t, s.Scan(context.Background()))
	select {
	case <-rec.changes:
		t.Fatal("unregistered listener notified")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScannerStartShutdown(t *testing.T) {
	lister := &fakeLister{}
	s := NewScanner(ChannelUSB, lister)
	s.Interval = 10 * time.Millisecond
	rec := &scanRecorder{changes: make(chan []Descriptor, 8)}
	s.Register(rec)
	s.Start()
	s.Start()

	lister.set(nil, SerialPort{Name: "/dev/ttyACM0"})
	require.Equal(t, []Descriptor{SerialPort{Name: "/dev/ttyACM0"}}, rec.next(t))

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown blocked")
	}
}

func TestScannerFuncListeners(t *testing.T) {
	lister := &fakeLister{}
	s := NewScanner(ChannelUSB, lister)
	defer s.Shutdown()

	changes := make(chan int, 8)
	fn := func(ch Channel, devices []Descriptor) { changes <- len(devices) }
	s.Register(ScanListenerFunc(fn))
	s.Register(ScanListenerFunc(fn))
	s.Unregister(ScanListenerFunc(fn))

	lister.set(nil, SerialPort{Name: "COM1"})
	require.True(t, s.Scan(context.Background()))
	for n := 0; n < 2; n++ {
		select {
		case count := <-changes:
			require.Equal(t, 1, count)
		case <-time.After(2 * time.Second):
			t.Fatal("func listener not notified")
		}
	}
}
