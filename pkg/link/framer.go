package link

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"
)

// Framer moves inner messages over a transport.
type Framer interface {
	// WriteMessage writes one encoded inner message.
	WriteMessage(w io.Writer, msg []byte) error
	// ReadMessages reads until error, calling fn for every inner message.
	ReadMessages(r io.Reader, fn func([]byte)) error
	// MaxMessageSize is the largest encoded inner message accepted.
	MaxMessageSize() int
}

// Framing selects a Framer.
type Framing int

// Framing modes.
const (
	// FramingDatagram assumes every read returns exactly one message.
	FramingDatagram Framing = iota
	// FramingStream wraps messages into sync/length/trailer frames.
	FramingStream
)

// ParseFraming parses "datagram" or "stream".
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "datagram", "":
		return FramingDatagram, nil
	case "stream":
		return FramingStream, nil
	}
	return FramingDatagram, fmt.Errorf("unknown framing %q", s)
}

// String implements fmt.Stringer.
func (f Framing) String() string {
	if f == FramingStream {
		return "stream"
	}
	return "datagram"
}

// NewFramer creates a Framer of the mode with capacity as the max message size.
func (f Framing) NewFramer(capacity int) Framer {
	if f == FramingStream {
		return &StreamFramer{Capacity: capacity}
	}
	return &DatagramFramer{Capacity: capacity}
}

// DatagramFramer writes messages as-is and treats every read as one message.
// The transport must preserve message boundaries.
type DatagramFramer struct {
	Capacity int
}

// WriteMessage implements Framer.
func (f *DatagramFramer) WriteMessage(w io.Writer, msg []byte) error {
	_, err := w.Write(msg)
	return err
}

// ReadMessages implements Framer.
func (f *DatagramFramer) ReadMessages(r io.Reader, fn func([]byte)) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			msg := make([]byte, n)
			copy(msg, buf[:n])
			fn(msg)
		}
		if err != nil {
			return err
		}
	}
}

// MaxMessageSize implements Framer.
func (f *DatagramFramer) MaxMessageSize() int {
	return f.Capacity
}

// StreamFramer wraps messages into frames and reassembles them with a
// FrameAssembler.
type StreamFramer struct {
	Capacity int
}

// WriteMessage implements Framer.
func (f *StreamFramer) WriteMessage(w io.Writer, msg []byte) error {
	_, err := w.Write(WrapFrame(msg))
	return err
}

// ReadMessages implements Framer.
func (f *StreamFramer) ReadMessages(r io.Reader, fn func([]byte)) error {
	asm := NewFrameAssembler(f.Capacity)
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if glog.V(4) {
				glog.Infof("stream read: %s", HexString(buf[:n]))
			}
			asm.Feed(buf[:n], fn)
		}
		if err != nil {
			return err
		}
	}
}

// MaxMessageSize implements Framer.
func (f *StreamFramer) MaxMessageSize() int {
	return f.Capacity
}
