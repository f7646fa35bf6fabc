package rfcomm

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/devlink/pkg/link"
)

func TestBDAddr(t *testing.T) {
	addr, err := bdaddr("00:1A:7D:DA:71:13")
	require.NoError(t, err)
	require.Equal(t, [6]uint8{0x13, 0x71, 0xDA, 0x7D, 0x1A, 0x00}, addr)

	_, err = bdaddr("00:1A:7D:DA:71")
	require.True(t, errors.Is(err, link.ErrInvalidDescriptor))
	_, err = bdaddr("00:1A:7D:DA:71:GG")
	require.True(t, errors.Is(err, link.ErrInvalidDescriptor))
}

func device(addr string, paired bool) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		bluezDevice1: {
			"Address": dbus.MakeVariant(addr),
			"Paired":  dbus.MakeVariant(paired),
		},
	}
}

func TestPairedDevices(t *testing.T) {
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {bluezAdapter1: {"Powered": dbus.MakeVariant(true)}},
		"/org/bluez/hci0/dev_00_1A_7D_DA_71_13": device("00:1A:7D:DA:71:13", true),
		"/org/bluez/hci0/dev_00_1A_7D_DA_71_14": device("00:1A:7D:DA:71:14", false),
		"/org/bluez/hci0/dev_00_11_22_33_44_55": device("00:11:22:33:44:55", true),
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF": device("AA:BB:CC:DD:EE:FF", true),
		"/org/bluez/hci0/dev_bogus":             device("bogus", true),
	}
	devices := pairedDevices(objects, "/org/bluez/hci0", 0)
	require.Equal(t, []link.Descriptor{
		link.NewBluetoothDevice("00:11:22:33:44:55", 6),
		link.NewBluetoothDevice("00:1A:7D:DA:71:13", 6),
	}, devices)
}

func TestNewLister(t *testing.T) {
	l := NewLister("")
	require.Equal(t, DefaultAdapter, l.Adapter)
	require.Equal(t, link.DefaultRFCOMMChannel, l.RFCOMM)
}
