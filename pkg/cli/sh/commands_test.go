package sh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/devlink/pkg/link"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("settings")
	require.NoError(t, err)
	require.Equal(t, link.KindSettings, k)

	k, err = ParseKind("0x30")
	require.NoError(t, err)
	require.Equal(t, link.KindRGB, k)

	k, err = ParseKind("0x5b")
	require.NoError(t, err)
	require.Equal(t, byte(0x5B), k.Code)

	_, err = ParseKind("lamp")
	require.Error(t, err)
	_, err = ParseKind("0x100")
	require.Error(t, err)
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		args   []string
		expect []byte
	}{
		{nil, nil},
		{[]string{"0x01", "ff"}, []byte{0x01, 0xFF}},
		{[]string{"0102A0"}, []byte{0x01, 0x02, 0xA0}},
		{[]string{"7"}, []byte{0x07}},
	}
	for _, test := range tests {
		payload, err := ParsePayload(test.args)
		require.NoError(t, err)
		require.Equal(t, test.expect, payload)
	}
	_, err := ParsePayload([]string{"zz"})
	require.Error(t, err)
}

func TestStatusString(t *testing.T) {
	st := Status{Channel: "usb", State: "connected", Device: "COM3", Pending: 2}
	require.Equal(t, "usb: connected COM3, 2 queued", st.String())
	require.Equal(t, "bluetooth: disconnected, 0 queued", Status{Channel: "bluetooth", State: "disconnected"}.String())
}
