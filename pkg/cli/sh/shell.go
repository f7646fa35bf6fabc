package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/devlink/pkg/env"
	"github.com/robotalks/devlink/pkg/link"
)

// Shell provides ishell backed interactive shell over the links.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	Watch       bool

	Shell   *ishell.Shell
	Config  *env.Config
	Stack   *env.Stack
	Current *env.Link
}

const shellKey = "$shell"

var (
	// flags

	evalOnly   bool
	outputJSON bool
	watch      bool

	commands = []*ishell.Cmd{
		&ChannelCmd,
		&DevicesCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&CancelCmd,
		&SendCmd,
		&StatusCmd,
		&KindsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.BoolVar(&watch, "watch", watch, "Print link events as they happen.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config, stack *env.Stack) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Watch:       watch,

		Shell:  ishell.New(),
		Config: conf,
		Stack:  stack,
	}
	if len(stack.Links) > 0 {
		s.Current = stack.Links[0]
	}
	s.Shell.Set(shellKey, s)
	s.updatePrompt()
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	for _, l := range stack.Links {
		l.Session.Register(s)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustHaveLink wraps command func requires a selected channel.
func MustHaveLink(fn func(c *ishell.Context, l *env.Link)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		l := ShellFrom(c).Current
		if l == nil {
			c.Err(fmt.Errorf("no channel selected"))
			return
		}
		fn(c, l)
	}
}

// Select switches the current channel.
func (s *Shell) Select(ch link.Channel) error {
	l := s.Stack.Find(ch)
	if l == nil {
		return fmt.Errorf("channel %s not enabled", ch)
	}
	s.Current = l
	s.updatePrompt()
	return nil
}

func (s *Shell) updatePrompt() {
	if s.Current == nil {
		s.Shell.SetPrompt("[none] > ")
		return
	}
	prompt := s.Current.Channel().String()
	if d := s.Current.Session.Descriptor(); d != nil && s.Current.Session.State() != link.StateDisconnected {
		prompt += " " + d.String()
	}
	s.Shell.SetPrompt(prompt + " > ")
}

// Print prints v as JSON or using its string form.
func (s *Shell) Print(c *ishell.Context, v interface{}) {
	if s.OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

// Devices scans the current channel once and returns the devices.
func (s *Shell) Devices() ([]link.Descriptor, error) {
	if s.Current == nil {
		return nil, fmt.Errorf("no channel selected")
	}
	s.Current.Scanner.Scan(context.Background())
	return s.Current.Scanner.Devices(), nil
}

// SelectDevice asks for a choice among the available devices.
func (s *Shell) SelectDevice() (link.Descriptor, error) {
	devices, err := s.Devices()
	if err != nil {
		return nil, err
	}
	switch {
	case len(devices) == 0:
		return nil, fmt.Errorf("no device found")
	case len(devices) == 1:
		return devices[0], nil
	case !s.Interactive:
		return nil, fmt.Errorf("more than 1 device found in non-interactive mode")
	}
	items := make([]string, len(devices))
	for n, d := range devices {
		items[n] = d.String()
	}
	index := s.Shell.MultiChoice(items, "Which one to connect?")
	if index < 0 {
		return nil, fmt.Errorf("canceled")
	}
	return devices[index], nil
}

// OnConnecting implements link.Listener.
func (s *Shell) OnConnecting(ch link.Channel) {
	s.event(ch, "connecting")
}

// OnConnect implements link.Listener.
func (s *Shell) OnConnect(ch link.Channel) {
	s.event(ch, "connected")
}

// OnDisconnect implements link.Listener.
func (s *Shell) OnDisconnect(ch link.Channel) {
	s.event(ch, "disconnected")
}

// OnMessageReceived implements link.Listener.
func (s *Shell) OnMessageReceived(ch link.Channel, raw []byte) {
	if s.Watch {
		s.Shell.Printf("[%s] RX %s\n", ch, describe(raw))
	}
}

// OnMessageSent implements link.Listener.
func (s *Shell) OnMessageSent(ch link.Channel, raw []byte, remaining int) {
	if s.Watch {
		s.Shell.Printf("[%s] TX %s (%d queued)\n", ch, describe(raw), remaining)
	}
}

// OnMessageDropped implements link.DropListener.
func (s *Shell) OnMessageDropped(ch link.Channel, raw []byte, attempts int) {
	s.Shell.Printf("[%s] DROPPED %s after %d attempts\n", ch, describe(raw), attempts)
}

func (s *Shell) event(ch link.Channel, what string) {
	if s.Current != nil && s.Current.Channel() == ch {
		s.updatePrompt()
	}
	if s.Watch {
		s.Shell.Printf("[%s] %s\n", ch, what)
	}
}

func describe(raw []byte) string {
	e, err := link.Decode(raw)
	if err != nil {
		return link.HexString(raw)
	}
	return fmt.Sprintf("%s [%s]", link.KindOf(e.Code).Name, link.HexString(e.Message.Payload))
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	conf := env.NewConfig()
	stack := conf.MustNewStack()
	defer stack.Shutdown()
	New(conf, stack).Run(flag.Args()...)
}
