package link

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultRFCOMMChannel is the RFCOMM channel used when none is given.
const DefaultRFCOMMChannel = 6

// Descriptor identifies a device reachable over a channel.
// Implementations must be comparable; equality is by identity fields.
type Descriptor interface {
	Channel() Channel
	Validate() error
	String() string
}

// BluetoothDevice is the descriptor of an SPP device.
type BluetoothDevice struct {
	Address string
	RFCOMM  int
}

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// NewBluetoothDevice creates a BluetoothDevice with the address normalized
// to upper case.
func NewBluetoothDevice(address string, rfcomm int) BluetoothDevice {
	return BluetoothDevice{Address: strings.ToUpper(address), RFCOMM: rfcomm}
}

// Channel implements Descriptor.
func (d BluetoothDevice) Channel() Channel { return ChannelBluetooth }

// Validate implements Descriptor.
func (d BluetoothDevice) Validate() error {
	if !macPattern.MatchString(d.Address) {
		return fmt.Errorf("%w: bad MAC address %q", ErrInvalidDescriptor, d.Address)
	}
	if d.RFCOMM < 1 || d.RFCOMM > 30 {
		return fmt.Errorf("%w: RFCOMM channel %d out of range", ErrInvalidDescriptor, d.RFCOMM)
	}
	return nil
}

// String implements Descriptor.
func (d BluetoothDevice) String() string {
	return fmt.Sprintf("%s@%d", d.Address, d.RFCOMM)
}

// SerialPort is the descriptor of a USB serial device.
type SerialPort struct {
	Name string
}

// Channel implements Descriptor.
func (d SerialPort) Channel() Channel { return ChannelUSB }

// Validate implements Descriptor.
func (d SerialPort) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty port name", ErrInvalidDescriptor)
	}
	return nil
}

// String implements Descriptor.
func (d SerialPort) String() string {
	return d.Name
}

// ParseDescriptor parses a descriptor for a channel.
// Bluetooth accepts "AA:BB:CC:DD:EE:FF" or "AA:BB:CC:DD:EE:FF@CHANNEL",
// USB accepts a port name.
func ParseDescriptor(ch Channel, s string) (Descriptor, error) {
	var d Descriptor
	switch ch {
	case ChannelBluetooth:
		addr, rfcomm := s, DefaultRFCOMMChannel
		if pos := strings.LastIndex(s, "@"); pos >= 0 {
			n, err := strconv.Atoi(s[pos+1:])
			if err != nil {
				return nil, fmt.Errorf("%w: bad RFCOMM channel in %q", ErrInvalidDescriptor, s)
			}
			addr, rfcomm = s[:pos], n
		}
		d = NewBluetoothDevice(addr, rfcomm)
	default:
		d = SerialPort{Name: s}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
