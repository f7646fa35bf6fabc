package link

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksums(t *testing.T) {
	tests := []struct {
		in       []byte
		additive byte
		twos     byte
	}{
		{nil, 0x00, 0x00},
		{[]byte{0x01}, 0x01, 0xFF},
		{[]byte{0x03, 0x00}, 0x03, 0xFD},
		{[]byte{0xFF, 0x02}, 0x01, 0xFF},
		{[]byte{0x80, 0x80}, 0x00, 0x00},
	}
	for _, test := range tests {
		require.Equal(t, test.additive, Additive(test.in), HexString(test.in))
		require.Equal(t, test.twos, TwosComplement(test.in), HexString(test.in))
		require.Equal(t, byte(0), Additive(test.in)+TwosComplement(test.in))
	}
}

func TestMessageEncode(t *testing.T) {
	require.Equal(t, []byte{0x03, 0x03, 0x00}, NewMessage(KindSettings, 0x00).Encode())
	require.Equal(t, []byte{0x01, 0x01}, NewMessage(KindHeartbeat).Encode())
	require.Equal(t, []byte{0x32, 0x30, 0x01, 0x01}, NewMessage(KindRGB, 0x01, 0x01).Encode())
	require.Equal(t, []byte{0x03, 0x00, 0x03}, NewMessage(KindAck, 0x03).Encode())
}

func TestNewMessageCopiesPayload(t *testing.T) {
	payload := []byte{1, 2, 3}
	msg := NewMessage(KindPlain, payload...)
	payload[0] = 9
	require.Equal(t, []byte{1, 2, 3}, msg.Payload)
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte{0x03, 0x03, 0x00})
	require.NoError(t, err)
	require.True(t, env.Valid)
	require.Equal(t, byte(0x03), env.Checksum)
	require.Equal(t, KindSettings, env.Message.Kind)
	require.Equal(t, []byte{0x00}, env.Message.Payload)

	env, err = Decode([]byte{0x04, 0x03, 0x00})
	require.NoError(t, err)
	require.False(t, env.Valid)

	_, err = Decode([]byte{0x01})
	require.Equal(t, ErrShortMessage, err)
	_, err = Decode(nil)
	require.Equal(t, ErrShortMessage, err)
}

func randomPayload(rnd *rand.Rand, max int) []byte {
	payload := make([]byte, rnd.Intn(max+1))
	rnd.Read(payload)
	return payload
}

func TestEncodeDecodeRandom(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		code := byte(rnd.Intn(256))
		payload := randomPayload(rnd, USBMaxPacketSize-2)
		env, err := Decode(NewMessage(Kind{Code: code}, payload...).Encode())
		require.NoError(t, err)
		require.True(t, env.Valid, "0x%02X %s", code, HexString(payload))
		require.Equal(t, code, env.Code)
		require.Equal(t, KindOf(code), env.Message.Kind)
		require.True(t, bytes.Equal(payload, env.Message.Payload), "0x%02X %s", code, HexString(payload))
	}
}

func TestDecodeRejectsBitFlips(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		raw := NewMessage(Kind{Code: byte(rnd.Intn(256))}, randomPayload(rnd, USBMaxPacketSize-2)...).Encode()
		for pos := range raw {
			for bit := uint(0); bit < 8; bit++ {
				flipped := append([]byte(nil), raw...)
				flipped[pos] ^= 1 << bit
				env, err := Decode(flipped)
				require.NoError(t, err)
				require.False(t, env.Valid, "%s byte %d bit %d", HexString(raw), pos, bit)
			}
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	env, err := Decode([]byte{0x78, 0x77, 0x01})
	require.NoError(t, err)
	require.True(t, env.Valid)
	require.Equal(t, KindUnknown, env.Message.Kind)
	require.Equal(t, byte(0x77), env.Code)
}

func TestKindRegistry(t *testing.T) {
	require.Error(t, RegisterKind(Kind{Code: 0x00, Name: "Mine"}))
	require.Error(t, RegisterKind(Kind{Code: 0xFF, Name: "Mine"}))
	require.Error(t, RegisterKind(Kind{Code: 0x60}))

	custom := Kind{Code: 0x60, Name: "Servo", AckTimeout: FireAndForget}
	require.NoError(t, RegisterKind(custom))
	k, ok := LookupKind(0x60)
	require.True(t, ok)
	require.Equal(t, custom, k)
	require.True(t, k.IsFireAndForget())
	k, ok = KindByName("servo")
	require.True(t, ok)
	require.Equal(t, custom, k)

	require.Equal(t, KindUnknown, KindOf(0x61))
	require.False(t, KindSettings.IsFireAndForget())
	require.Equal(t, "Settings(0x03)", KindSettings.String())

	kinds := Kinds()
	for n := 1; n < len(kinds); n++ {
		require.True(t, kinds[n-1].Code < kinds[n].Code)
	}
}
