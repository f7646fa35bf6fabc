package mqtt

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/devlink/pkg/link"
)

type published struct {
	topic   string
	payload string
	retain  bool
}

type fakePubSub struct {
	lock      sync.Mutex
	handlers  map[string]Handler
	published chan published
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{
		handlers:  make(map[string]Handler),
		published: make(chan published, 64),
	}
}

func (p *fakePubSub) Publish(topic string, payload []byte, retain bool) error {
	p.published <- published{topic: topic, payload: string(payload), retain: retain}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (p *fakePubSub) Subscribe(filter string, handler Handler) (io.Closer, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.handlers[filter] = handler
	return closerFunc(func() error {
		p.lock.Lock()
		defer p.lock.Unlock()
		delete(p.handlers, filter)
		return nil
	}), nil
}

func (p *fakePubSub) deliver(t *testing.T, topic string, payload []byte) {
	p.lock.Lock()
	h := p.handlers[topic]
	p.lock.Unlock()
	require.NotNil(t, h, topic)
	h(topic, payload)
}

func (p *fakePubSub) expect(t *testing.T, topic, payload string) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case pub := <-p.published:
			if pub.topic == topic && pub.payload == payload {
				return
			}
		case <-deadline:
			t.Fatalf("%s %q not published", topic, payload)
		}
	}
}

func pipeOpener(devices chan net.Conn) link.Opener {
	return link.OpenFunc(func(ctx context.Context, d link.Descriptor) (io.ReadWriteCloser, error) {
		host, dev := net.Pipe()
		devices <- dev
		return host, nil
	})
}

func TestBridge(t *testing.T) {
	devices := make(chan net.Conn, 2)
	session := link.NewSession(link.ChannelUSB, pipeOpener(devices), link.DefaultOptions(link.ChannelUSB))
	defer session.Shutdown()
	scanner := link.NewScanner(link.ChannelUSB, link.ListerFunc(func(context.Context) ([]link.Descriptor, error) {
		return []link.Descriptor{link.SerialPort{Name: "COM1"}}, nil
	}))
	defer scanner.Shutdown()

	ps := newFakePubSub()
	bridge := NewBridge(ps, "host1", session, scanner)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	ps.expect(t, "host1/usb/state", "disconnected")
	scanner.Scan(ctx)
	ps.expect(t, "host1/usb/devices", `["COM1"]`)

	ps.deliver(t, "host1/usb/connect", []byte("COM1"))
	ps.expect(t, "host1/usb/state", "connected")
	var dev net.Conn
	select {
	case dev = <-devices:
	case <-time.After(2 * time.Second):
		t.Fatal("not opened")
	}

	frames := make(chan []byte, 8)
	go (&link.StreamFramer{Capacity: link.USBMaxPacketSize}).ReadMessages(dev, func(msg []byte) {
		frames <- msg
	})

	ps.deliver(t, "host1/usb/send", []byte{0x02, 'h', 'i'})
	select {
	case msg := <-frames:
		require.Equal(t, link.NewMessage(link.KindPlain, 'h', 'i').Encode(), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not sent")
	}

	ack := link.NewMessage(link.KindAck, link.NewMessage(link.KindPlain, 'h', 'i').Checksum())
	_, err := dev.Write(link.WrapFrame(ack.Encode()))
	require.NoError(t, err)
	ps.expect(t, "host1/usb/rx", string(ack.Encode()))
	ps.expect(t, "host1/usb/tx", string(link.NewMessage(link.KindPlain, 'h', 'i').Encode()))

	ps.deliver(t, "host1/usb/disconnect", nil)
	ps.expect(t, "host1/usb/state", "disconnected")

	cancel()
	require.Equal(t, context.Canceled, <-done)
	ps.lock.Lock()
	require.Empty(t, ps.handlers)
	ps.lock.Unlock()
}

func TestKindOfCode(t *testing.T) {
	require.Equal(t, link.KindSettings, KindOfCode(0x03))
	k := KindOfCode(0x5A)
	require.Equal(t, byte(0x5A), k.Code)
	require.False(t, k.IsFireAndForget())
}
