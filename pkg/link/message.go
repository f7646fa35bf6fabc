package link

import (
	"fmt"
	"strings"
)

// Message is the channel agnostic unit of the protocol.
type Message struct {
	Kind    Kind
	Payload []byte
}

// NewMessage creates a message with a copy of payload.
func NewMessage(kind Kind, payload ...byte) Message {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Message{Kind: kind, Payload: p}
}

// Checksum calculates the additive checksum over kind and payload.
func (m Message) Checksum() byte {
	return Additive(m.Payload) + m.Kind.Code
}

// Encode returns the wire bytes: checksum, kind, payload.
func (m Message) Encode() []byte {
	b := make([]byte, len(m.Payload)+2)
	b[0], b[1] = m.Checksum(), m.Kind.Code
	copy(b[2:], m.Payload)
	return b
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return fmt.Sprintf("%s [%s]", m.Kind.Name, HexString(m.Payload))
}

// Envelope is a decoded inner message.
type Envelope struct {
	// Checksum is the checksum received on the wire.
	Checksum byte
	// Valid indicates Checksum matches the content.
	Valid bool
	// Code is the kind byte received on the wire, which may differ from
	// Message.Kind.Code when the kind is unknown.
	Code    byte
	Message Message
}

// Decode parses the inner message. A checksum mismatch is not an error,
// it's reported by Envelope.Valid.
func Decode(b []byte) (Envelope, error) {
	if len(b) < 2 {
		return Envelope{}, ErrShortMessage
	}
	env := Envelope{
		Checksum: b[0],
		Valid:    Additive(b[1:]) == b[0],
		Code:     b[1],
	}
	env.Message = NewMessage(KindOf(b[1]), b[2:]...)
	return env, nil
}

// Additive is the sum of all bytes mod 256.
func Additive(b []byte) (sum byte) {
	for _, v := range b {
		sum += v
	}
	return
}

// TwosComplement is (256 - sum mod 256) mod 256 over all bytes.
func TwosComplement(b []byte) byte {
	return -Additive(b)
}

// HexString formats bytes as space separated 0xNN.
func HexString(b []byte) string {
	items := make([]string, len(b))
	for n, v := range b {
		items[n] = fmt.Sprintf("0x%02X", v)
	}
	return strings.Join(items, " ")
}
