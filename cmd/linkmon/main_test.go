package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/devlink/pkg/link"
)

func TestFormat(t *testing.T) {
	raw := link.NewMessage(link.KindRGB, 0x01, 0x02).Encode()
	require.Equal(t, "RGB [0x01 0x02]", format("h/usb/rx", raw))
	raw[0]++
	require.Equal(t, "RGB [0x01 0x02] (checksum mismatch)", format("h/usb/tx", raw))
	require.Equal(t, "Settings [0x00]", format("h/bluetooth/send", []byte{0x03, 0x00}))
	require.Equal(t, "connected", format("h/usb/state", []byte("connected")))
	require.Equal(t, "bad message: message too short", format("h/usb/rx", []byte{0x01}))
}
