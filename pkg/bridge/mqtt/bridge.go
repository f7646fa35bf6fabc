package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/devlink/pkg/framework"
	"github.com/robotalks/devlink/pkg/link"
)

// Topics below <host>/<channel>/.
const (
	TopicState      = "state"
	TopicReceived   = "rx"
	TopicSent       = "tx"
	TopicDropped    = "dropped"
	TopicDevices    = "devices"
	TopicConnect    = "connect"
	TopicDisconnect = "disconnect"
	TopicCancel     = "cancel"
	TopicSend       = "send"
)

// ChannelTopic returns the topic of a channel, relative to the broker prefix.
func ChannelTopic(host string, ch link.Channel, name string) string {
	return host + "/" + ch.String() + "/" + name
}

// Bridge publishes the events of a session and optionally a scanner, and
// applies remote commands to the session.
type Bridge struct {
	pubsub  PubSub
	host    string
	session *link.Session
	scanner *link.Scanner

	commands chan command
}

type command struct {
	name    string
	payload []byte
}

// NewBridge creates a Bridge. scanner may be nil.
func NewBridge(ps PubSub, host string, session *link.Session, scanner *link.Scanner) *Bridge {
	return &Bridge{
		pubsub:   ps,
		host:     host,
		session:  session,
		scanner:  scanner,
		commands: make(chan command, 16),
	}
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt-" + b.session.Channel().String()
}

func (b *Bridge) topic(name string) string {
	return ChannelTopic(b.host, b.session.Channel(), name)
}

// Run implements framework.Runnable. Commands are applied in arrival order
// from this goroutine so broker callbacks never block on the session.
func (b *Bridge) Run(ctx context.Context) error {
	var subs []io.Closer
	for _, name := range []string{TopicConnect, TopicDisconnect, TopicCancel, TopicSend} {
		name := name
		sub, err := b.pubsub.Subscribe(b.topic(name), func(_ string, payload []byte) {
			select {
			case b.commands <- command{name: name, payload: payload}:
			default:
				glog.Warningf("%s: command %s dropped, queue full", b.Name(), name)
			}
		})
		if err != nil {
			closeAll(subs)
			return fmt.Errorf("subscribe %s: %w", b.topic(name), err)
		}
		subs = append(subs, sub)
	}

	b.session.Register(b)
	if b.scanner != nil {
		b.scanner.Register(b)
	}
	b.publish(TopicState, []byte(b.session.State().String()), true)

	defer func() {
		b.session.Unregister(b)
		if b.scanner != nil {
			b.scanner.Unregister(b)
		}
		if err := closeAll(subs); err != nil {
			glog.Errorf("%s: %v", b.Name(), err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-b.commands:
			if err := b.apply(cmd); err != nil {
				glog.Warningf("%s: %s: %v", b.Name(), cmd.name, err)
			}
		}
	}
}

func (b *Bridge) apply(cmd command) error {
	switch cmd.name {
	case TopicConnect:
		d, err := link.ParseDescriptor(b.session.Channel(), strings.TrimSpace(string(cmd.payload)))
		if err != nil {
			return err
		}
		if !b.session.Connect(d) {
			glog.V(2).Infof("%s: connect %s ignored", b.Name(), d)
		}
	case TopicDisconnect:
		b.session.Disconnect()
	case TopicCancel:
		b.session.Cancel()
	case TopicSend:
		if len(cmd.payload) == 0 {
			return fmt.Errorf("empty send command")
		}
		return b.session.Send(KindOfCode(cmd.payload[0]), cmd.payload[1:]...)
	}
	return nil
}

// KindOfCode resolves a wire code, keeping unregistered codes as they are.
func KindOfCode(code byte) link.Kind {
	if k, ok := link.LookupKind(code); ok {
		return k
	}
	return link.Kind{Code: code, Name: fmt.Sprintf("0x%02X", code)}
}

func (b *Bridge) publish(name string, payload []byte, retain bool) {
	if err := b.pubsub.Publish(b.topic(name), payload, retain); err != nil {
		glog.Errorf("%s: publish %s: %v", b.Name(), name, err)
	}
}

// OnConnecting implements link.Listener.
func (b *Bridge) OnConnecting(link.Channel) {
	b.publish(TopicState, []byte(link.StateConnecting.String()), true)
}

// OnConnect implements link.Listener.
func (b *Bridge) OnConnect(link.Channel) {
	b.publish(TopicState, []byte(link.StateConnected.String()), true)
}

// OnDisconnect implements link.Listener.
func (b *Bridge) OnDisconnect(link.Channel) {
	b.publish(TopicState, []byte(link.StateDisconnected.String()), true)
}

// OnMessageReceived implements link.Listener.
func (b *Bridge) OnMessageReceived(_ link.Channel, raw []byte) {
	b.publish(TopicReceived, raw, false)
}

// OnMessageSent implements link.Listener.
func (b *Bridge) OnMessageSent(_ link.Channel, raw []byte, remaining int) {
	b.publish(TopicSent, raw, false)
}

// OnMessageDropped implements link.DropListener.
func (b *Bridge) OnMessageDropped(_ link.Channel, raw []byte, attempts int) {
	b.publish(TopicDropped, raw, false)
}

// OnAvailableDevicesChanged implements link.ScanListener.
func (b *Bridge) OnAvailableDevicesChanged(_ link.Channel, devices []link.Descriptor) {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.String())
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		glog.Errorf("%s: encode devices: %v", b.Name(), err)
		return
	}
	b.publish(TopicDevices, encoded, true)
}

func closeAll(closers []io.Closer) error {
	var errs framework.AggregatedError
	for _, c := range closers {
		errs.Add(c.Close())
	}
	return errs.Aggregate()
}
