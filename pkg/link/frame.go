package link

import "github.com/golang/glog"

// FrameSync starts every frame on a byte stream.
const FrameSync byte = 0xAA

// Maximum size of a frame's data.
const (
	USBMaxPacketSize       = 35
	BluetoothMaxPacketSize = 32
)

// WrapFrame wraps data into an outer frame.
func WrapFrame(data []byte) []byte {
	b := make([]byte, len(data)+4)
	b[0], b[1], b[2] = FrameSync, byte(len(data)>>8), byte(len(data))
	copy(b[3:], data)
	b[len(b)-1] = TwosComplement(b[1 : len(b)-1])
	return b
}

type assembleState int

const (
	stateIdle       assembleState = iota // waiting for sync
	stateLenHigh                         // waiting for high byte of length
	stateLenLow                          // waiting for low byte of length
	stateCollecting                      // collecting data, then trailer
)

var assembleStateNames = [...]string{"IDLE", "LEN_HIGH", "LEN_LOW", "COLLECTING"}

func (s assembleState) String() string {
	return assembleStateNames[s]
}

// FrameAssembler reconstructs frames from a byte stream.
// It's not safe for concurrent use.
type FrameAssembler struct {
	buf    []byte
	state  assembleState
	length int
	index  int
	sum    byte
}

// NewFrameAssembler creates a FrameAssembler accepting frames with up to
// capacity bytes of data.
func NewFrameAssembler(capacity int) *FrameAssembler {
	return &FrameAssembler{buf: make([]byte, capacity)}
}

// Capacity returns the largest data length accepted.
func (a *FrameAssembler) Capacity() int {
	return len(a.buf)
}

// Reset discards any partially assembled frame.
func (a *FrameAssembler) Reset() {
	a.state, a.length, a.index, a.sum = stateIdle, 0, 0, 0
}

// Parse consumes one byte and returns the frame data when a valid frame
// completes. The returned slice is owned by the caller.
func (a *FrameAssembler) Parse(b byte) (data []byte) {
	prev := a.state
	switch a.state {
	case stateIdle:
		if b == FrameSync {
			a.sum, a.state = 0, stateLenHigh
		}
	case stateLenHigh:
		a.length = int(b) << 8
		a.sum += b
		a.state = stateLenLow
	case stateLenLow:
		a.length += int(b)
		if a.length > len(a.buf) {
			glog.V(2).Infof("frame length %d exceeds capacity %d", a.length, len(a.buf))
			a.state = stateIdle
			break
		}
		a.sum += b
		a.index, a.state = 0, stateCollecting
	case stateCollecting:
		if a.index < a.length {
			a.buf[a.index] = b
			a.index++
			a.sum += b
			break
		}
		if expected := -a.sum; expected == b {
			data = make([]byte, a.length)
			copy(data, a.buf[:a.length])
		} else {
			glog.V(2).Infof("frame trailer mismatch: got 0x%02X, expected 0x%02X", b, expected)
		}
		a.state = stateIdle
	}
	if glog.V(4) && prev != a.state {
		glog.Infof("frame 0x%02X: %s -> %s", b, prev, a.state)
	}
	return
}

// Feed consumes a chunk of bytes and calls fn for every completed frame.
func (a *FrameAssembler) Feed(p []byte, fn func([]byte)) {
	for _, b := range p {
		if data := a.Parse(b); data != nil {
			fn(data)
		}
	}
}
