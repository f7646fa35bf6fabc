// Package rfcomm connects Bluetooth SPP devices over RFCOMM sockets and
// lists paired devices from BlueZ.
package rfcomm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/golang/glog"

	"github.com/robotalks/devlink/pkg/link"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
)

// DefaultAdapter is the default HCI adapter.
const DefaultAdapter = "hci0"

// Opener opens RFCOMM connections, it implements link.Opener.
type Opener struct{}

// NewOpener creates an Opener.
func NewOpener() *Opener {
	return &Opener{}
}

// bdaddr converts "AA:BB:CC:DD:EE:FF" into the little-endian byte order
// used by the kernel.
func bdaddr(address string) (addr [6]uint8, err error) {
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("%w: bad MAC address %q", link.ErrInvalidDescriptor, address)
	}
	for n, part := range parts {
		v, e := strconv.ParseUint(part, 16, 8)
		if e != nil {
			return addr, fmt.Errorf("%w: bad MAC address %q", link.ErrInvalidDescriptor, address)
		}
		addr[5-n] = uint8(v)
	}
	return
}

// Lister lists paired devices of a BlueZ adapter, it implements
// link.DeviceLister. It returns link.ErrUnavailable when the adapter is
// missing or powered off.
type Lister struct {
	Adapter string
	// RFCOMM is the channel assigned to the listed devices.
	RFCOMM int
}

// NewLister creates a Lister on the adapter, "" for DefaultAdapter.
func NewLister(adapter string) *Lister {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	return &Lister{Adapter: adapter, RFCOMM: link.DefaultRFCOMMChannel}
}

// ListDevices implements link.DeviceLister.
func (l *Lister) ListDevices(ctx context.Context) ([]link.Descriptor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		glog.V(2).Infof("system bus: %v", err)
		return nil, link.ErrUnavailable
	}
	// the system bus connection is shared, don't close it

	adapterPath := dbus.ObjectPath("/org/bluez/" + l.Adapter)
	powered, err := conn.Object(bluezBus, adapterPath).GetProperty(bluezAdapter1 + ".Powered")
	if err != nil {
		glog.V(2).Infof("adapter %s: %v", l.Adapter, err)
		return nil, link.ErrUnavailable
	}
	if on, ok := powered.Value().(bool); !ok || !on {
		return nil, link.ErrUnavailable
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&objects); err != nil {
		return nil, err
	}
	return pairedDevices(objects, adapterPath, l.RFCOMM), nil
}

func pairedDevices(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapterPath dbus.ObjectPath, rfcomm int) []link.Descriptor {
	if rfcomm <= 0 {
		rfcomm = link.DefaultRFCOMMChannel
	}
	var devices []link.Descriptor
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), string(adapterPath)+"/") {
			continue
		}
		if paired, ok := props["Paired"].Value().(bool); !ok || !paired {
			continue
		}
		addr, ok := props["Address"].Value().(string)
		if !ok {
			continue
		}
		d := link.NewBluetoothDevice(addr, rfcomm)
		if err := d.Validate(); err != nil {
			glog.V(2).Infof("skip %s: %v", path, err)
			continue
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].String() < devices[j].String() })
	return devices
}
