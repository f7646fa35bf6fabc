// Package env builds sessions, scanners and bridges from flags and
// DEVLINK_* environment variables.
package env

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robotalks/devlink/pkg/bridge/mqtt"
	"github.com/robotalks/devlink/pkg/link"
	"github.com/robotalks/devlink/pkg/transport/rfcomm"
	"github.com/robotalks/devlink/pkg/transport/serial"
)

// Config provides common options to setup links.
type Config struct {
	// Host identifies this machine in MQTT topics, machine ID if empty.
	Host string
	// Channels is a comma separated list of usb and bluetooth.
	Channels string

	PingInterval   time.Duration
	AckTimeout     time.Duration
	RetryInterval  time.Duration
	MaxAttempts    int
	ReconnectDelay time.Duration
	ScanInterval   time.Duration

	USBAutoReconnect bool
	BTAutoReconnect  bool
	BTFraming        string
	RFCOMMChannel    int
	BTAdapter        string
	BaudRate         int
	USBOnly          bool

	// MQTTURL is mqtt://host:port/topic-prefix, empty disables the bridge.
	MQTTURL string
	// Listen is the address of the WebSocket event feed, empty disables it.
	Listen string
}

var defaultConfig = Config{
	Channels:         "usb,bluetooth",
	PingInterval:     link.DefaultPingInterval,
	AckTimeout:       link.DefaultAckTimeout,
	ReconnectDelay:   link.DefaultReconnectDelay,
	ScanInterval:     link.DefaultScanInterval,
	USBAutoReconnect: false,
	BTAutoReconnect:  true,
	BTFraming:        link.FramingDatagram.String(),
	RFCOMMChannel:    link.DefaultRFCOMMChannel,
	BTAdapter:        rfcomm.DefaultAdapter,
	BaudRate:         serial.DefaultBaudRate,
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
}

func loadEnv(c *Config, getenv func(string) string) {
	str := func(name string, p *string) {
		if val := getenv(name); val != "" {
			*p = val
		}
	}
	dur := func(name string, p *time.Duration) {
		if val := getenv(name); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*p = d
			} else {
				log.Printf("ignore %s: %v", name, err)
			}
		}
	}
	num := func(name string, p *int) {
		if val := getenv(name); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*p = n
			} else {
				log.Printf("ignore %s: %v", name, err)
			}
		}
	}
	boolean := func(name string, p *bool) {
		if val := getenv(name); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*p = b
			} else {
				log.Printf("ignore %s: %v", name, err)
			}
		}
	}

	str("DEVLINK_HOST", &c.Host)
	str("DEVLINK_CHANNELS", &c.Channels)
	dur("DEVLINK_PING_INTERVAL", &c.PingInterval)
	dur("DEVLINK_ACK_TIMEOUT", &c.AckTimeout)
	dur("DEVLINK_RETRY_INTERVAL", &c.RetryInterval)
	num("DEVLINK_MAX_ATTEMPTS", &c.MaxAttempts)
	dur("DEVLINK_RECONNECT_DELAY", &c.ReconnectDelay)
	dur("DEVLINK_SCAN_INTERVAL", &c.ScanInterval)
	boolean("DEVLINK_USB_RECONNECT", &c.USBAutoReconnect)
	boolean("DEVLINK_BT_RECONNECT", &c.BTAutoReconnect)
	str("DEVLINK_BT_FRAMING", &c.BTFraming)
	num("DEVLINK_RFCOMM_CHANNEL", &c.RFCOMMChannel)
	str("DEVLINK_BT_ADAPTER", &c.BTAdapter)
	num("DEVLINK_BAUD", &c.BaudRate)
	boolean("DEVLINK_USB_ONLY", &c.USBOnly)
	str("DEVLINK_MQTT_URL", &c.MQTTURL)
	str("DEVLINK_LISTEN", &c.Listen)
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	c := &defaultConfig
	flag.StringVar(&c.Host, "host", c.Host, "Host ID used in MQTT topics, machine ID if empty.")
	flag.StringVar(&c.Channels, "channels", c.Channels, "Channels to enable: usb, bluetooth.")
	flag.DurationVar(&c.PingInterval, "ping", c.PingInterval, "Heartbeat interval when idle.")
	flag.DurationVar(&c.AckTimeout, "ack-timeout", c.AckTimeout, "Default acknowledgment timeout.")
	flag.DurationVar(&c.RetryInterval, "retry-interval", c.RetryInterval, "Pause before retransmitting.")
	flag.IntVar(&c.MaxAttempts, "max-attempts", c.MaxAttempts, "Drop a message after this many attempts, 0 retries forever.")
	flag.DurationVar(&c.ReconnectDelay, "reconnect-delay", c.ReconnectDelay, "Delay between connect attempts.")
	flag.DurationVar(&c.ScanInterval, "scan-interval", c.ScanInterval, "Device scan interval.")
	flag.BoolVar(&c.USBAutoReconnect, "usb-reconnect", c.USBAutoReconnect, "Reconnect USB after failures.")
	flag.BoolVar(&c.BTAutoReconnect, "bt-reconnect", c.BTAutoReconnect, "Reconnect Bluetooth after failures.")
	flag.StringVar(&c.BTFraming, "bt-framing", c.BTFraming, "Bluetooth framing: datagram or stream.")
	flag.IntVar(&c.RFCOMMChannel, "rfcomm-channel", c.RFCOMMChannel, "Default RFCOMM channel.")
	flag.StringVar(&c.BTAdapter, "bt-adapter", c.BTAdapter, "BlueZ adapter.")
	flag.IntVar(&c.BaudRate, "baud", c.BaudRate, "Serial baud rate.")
	flag.BoolVar(&c.USBOnly, "usb-only", c.USBOnly, "Only list USB serial ports.")
	flag.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "MQTT broker URL, e.g. mqtt://localhost:1883/devlink/.")
	flag.StringVar(&c.Listen, "listen", c.Listen, "Address of the WebSocket event feed, e.g. :8080.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// ChannelList parses Channels.
func (c *Config) ChannelList() ([]link.Channel, error) {
	var channels []link.Channel
	seen := make(map[link.Channel]bool)
	for _, name := range strings.Split(c.Channels, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		ch, ok := link.ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		if !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channel enabled")
	}
	return channels, nil
}

// SessionOptions returns the session options of a channel.
func (c *Config) SessionOptions(ch link.Channel) (link.Options, error) {
	opts := link.DefaultOptions(ch)
	opts.PingInterval = c.PingInterval
	opts.ReconnectDelay = c.ReconnectDelay
	opts.Retry = link.RetryPolicy{
		AckTimeout:    c.AckTimeout,
		RetryInterval: c.RetryInterval,
		MaxAttempts:   c.MaxAttempts,
	}
	if ch == link.ChannelBluetooth {
		opts.AutoReconnect = c.BTAutoReconnect
		framing, err := link.ParseFraming(c.BTFraming)
		if err != nil {
			return opts, err
		}
		opts.Framing = framing
	} else {
		opts.AutoReconnect = c.USBAutoReconnect
	}
	return opts, nil
}

// Opener returns the transport of a channel.
func (c *Config) Opener(ch link.Channel) link.Opener {
	if ch == link.ChannelBluetooth {
		return rfcomm.NewOpener()
	}
	return serial.NewOpener(c.BaudRate)
}

// Lister returns the device lister of a channel.
func (c *Config) Lister(ch link.Channel) link.DeviceLister {
	if ch == link.ChannelBluetooth {
		l := rfcomm.NewLister(c.BTAdapter)
		if c.RFCOMMChannel > 0 {
			l.RFCOMM = c.RFCOMMChannel
		}
		return l
	}
	return &serial.Lister{USBOnly: c.USBOnly}
}

// ParseDescriptor parses a device of a channel, using the configured RFCOMM
// channel when a Bluetooth address doesn't name one.
func (c *Config) ParseDescriptor(ch link.Channel, s string) (link.Descriptor, error) {
	if ch == link.ChannelBluetooth && !strings.Contains(s, "@") && c.RFCOMMChannel > 0 {
		s += "@" + strconv.Itoa(c.RFCOMMChannel)
	}
	return link.ParseDescriptor(ch, s)
}

// NewSession creates the session of a channel.
func (c *Config) NewSession(ch link.Channel) (*link.Session, error) {
	opts, err := c.SessionOptions(ch)
	if err != nil {
		return nil, err
	}
	return link.NewSession(ch, c.Opener(ch), opts), nil
}

// NewScanner creates the scanner of a channel.
func (c *Config) NewScanner(ch link.Channel) *link.Scanner {
	s := link.NewScanner(ch, c.Lister(ch))
	if c.ScanInterval > 0 {
		s.Interval = c.ScanInterval
	}
	return s
}

// HostID returns Host or the machine ID.
func (c *Config) HostID() string {
	if c.Host != "" {
		return c.Host
	}
	return MachineID()
}

// NewQueue creates the MQTT queue, nil if MQTTURL is empty.
func (c *Config) NewQueue() (*mqtt.Queue, error) {
	if c.MQTTURL == "" {
		return nil, nil
	}
	return mqtt.NewQueueFromURL(c.MQTTURL, "devlink-"+c.HostID())
}

// NewStack creates sessions and scanners of all enabled channels.
func (c *Config) NewStack() (*Stack, error) {
	channels, err := c.ChannelList()
	if err != nil {
		return nil, err
	}
	stack := &Stack{}
	for _, ch := range channels {
		session, err := c.NewSession(ch)
		if err != nil {
			stack.Shutdown()
			return nil, fmt.Errorf("%s: %w", ch, err)
		}
		stack.Links = append(stack.Links, &Link{Session: session, Scanner: c.NewScanner(ch)})
	}
	return stack, nil
}

// MustNewStack creates a Stack and fails on error.
func (c *Config) MustNewStack() *Stack {
	stack, err := c.NewStack()
	if err != nil {
		log.Fatalln(err)
	}
	return stack
}

// MustNewQueue creates the MQTT queue and fails on error.
func (c *Config) MustNewQueue() *mqtt.Queue {
	q, err := c.NewQueue()
	if err != nil {
		log.Fatalln(err)
	}
	return q
}
