package sh

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/devlink/pkg/env"
	"github.com/robotalks/devlink/pkg/link"
)

// Status is the output of the status command.
type Status struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
	Device  string `json:"device,omitempty"`
	Pending int    `json:"pending"`
}

// String implements fmt.Stringer.
func (s Status) String() string {
	str := s.Channel + ": " + s.State
	if s.Device != "" {
		str += " " + s.Device
	}
	return fmt.Sprintf("%s, %d queued", str, s.Pending)
}

// ParseKind accepts a kind name or a code like 0x03.
func ParseKind(s string) (link.Kind, error) {
	if k, ok := link.KindByName(s); ok {
		return k, nil
	}
	code, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return link.Kind{}, fmt.Errorf("unknown kind %q", s)
	}
	if k, ok := link.LookupKind(byte(code)); ok {
		return k, nil
	}
	return link.Kind{Code: byte(code), Name: fmt.Sprintf("0x%02X", code)}, nil
}

// ParsePayload parses bytes written as 0x01 02 or 0102.
func ParsePayload(args []string) ([]byte, error) {
	var payload []byte
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.TrimPrefix(arg, "0x"), "0X")
		if len(arg)%2 != 0 {
			arg = "0" + arg
		}
		b, err := hex.DecodeString(arg)
		if err != nil {
			return nil, fmt.Errorf("bad payload %q: %v", arg, err)
		}
		payload = append(payload, b...)
	}
	return payload, nil
}

var (
	// ChannelCmd selects the current channel.
	ChannelCmd = ishell.Cmd{
		Name:    "channel",
		Aliases: []string{"ch"},
		Help:    "usb|bluetooth",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) == 0 {
				if s.Current != nil {
					c.Println(s.Current.Channel())
				}
				return
			}
			ch, ok := link.ParseChannel(c.Args[0])
			if !ok {
				c.Err(fmt.Errorf("unknown channel %q", c.Args[0]))
				return
			}
			if err := s.Select(ch); err != nil {
				c.Err(err)
			}
		},
	}

	// DevicesCmd lists available devices.
	DevicesCmd = ishell.Cmd{
		Name:    "devices",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			devices, err := s.Devices()
			if err != nil {
				c.Err(err)
				return
			}
			names := make([]string, 0, len(devices))
			for _, d := range devices {
				names = append(names, d.String())
			}
			if s.OutputJSON {
				s.Print(c, names)
				return
			}
			if len(names) == 0 {
				c.Println("No devices found")
				return
			}
			for _, name := range names {
				c.Println(name)
			}
		},
	}

	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[DEVICE]",
		Func: MustHaveLink(func(c *ishell.Context, l *env.Link) {
			s := ShellFrom(c)
			var d link.Descriptor
			var err error
			if len(c.Args) > 0 {
				d, err = s.Config.ParseDescriptor(l.Channel(), c.Args[0])
			} else {
				d, err = s.SelectDevice()
			}
			if err != nil {
				c.Err(err)
				return
			}
			if !l.Session.Connect(d) {
				c.Err(fmt.Errorf("already connecting or connected to %s", d))
				return
			}
			s.updatePrompt()
		}),
	}

	// DisconnectCmd disconnects the current channel.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: MustHaveLink(func(c *ishell.Context, l *env.Link) {
			l.Session.Disconnect()
			ShellFrom(c).updatePrompt()
		}),
	}

	// CancelCmd aborts connecting.
	CancelCmd = ishell.Cmd{
		Name: "cancel",
		Help: "",
		Func: MustHaveLink(func(c *ishell.Context, l *env.Link) {
			if !l.Session.Cancel() {
				c.Err(fmt.Errorf("not connecting"))
				return
			}
			ShellFrom(c).updatePrompt()
		}),
	}

	// SendCmd queues a message.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "KIND [BYTES...]",
		Func: MustHaveLink(func(c *ishell.Context, l *env.Link) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("kind expected"))
				return
			}
			kind, err := ParseKind(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			payload, err := ParsePayload(c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			if err = l.Session.Send(kind, payload...); err != nil {
				c.Err(err)
				return
			}
			c.Println("queued", link.NewMessage(kind, payload...))
		}),
	}

	// StatusCmd prints the session state of all channels.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			for _, l := range s.Stack.Links {
				st := Status{
					Channel: l.Channel().String(),
					State:   l.Session.State().String(),
					Pending: l.Session.Pending(),
				}
				if d := l.Session.Descriptor(); d != nil {
					st.Device = d.String()
				}
				s.Print(c, st)
			}
		},
	}

	// KindsCmd lists the message kinds.
	KindsCmd = ishell.Cmd{
		Name: "kinds",
		Help: "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			for _, k := range link.Kinds() {
				ack := "ack"
				switch {
				case k.IsFireAndForget():
					ack = "fire-and-forget"
				case k.AckTimeout > 0:
					ack = k.AckTimeout.String()
				}
				if s.OutputJSON {
					s.Print(c, map[string]interface{}{"code": k.Code, "name": k.Name, "ack": ack})
				} else {
					c.Printf("0x%02X %-28s %s\n", k.Code, k.Name, ack)
				}
			}
		},
	}
)
