package link

import (
	"errors"
	"fmt"
)

var (
	// ErrShortMessage indicates a raw message has no room for checksum and kind.
	ErrShortMessage = errors.New("message too short")
	// ErrInvalidDescriptor indicates a device descriptor failed validation.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	// ErrUnavailable is returned by a DeviceLister when the channel can't be
	// enumerated at the moment (e.g. Bluetooth radio off).
	ErrUnavailable = errors.New("unavailable")
	// ErrClosed indicates the session or scanner has been shut down.
	ErrClosed = errors.New("closed")
	// ErrNotConnected indicates there is no open transport.
	ErrNotConnected = errors.New("not connected")
)

// PayloadTooLargeError is returned when a payload doesn't fit in a packet.
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

// Error implements error.
func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds limit %d", e.Size, e.Limit)
}
