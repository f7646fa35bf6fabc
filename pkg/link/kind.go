package link

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// FireAndForget is the AckTimeout of kinds which are never acknowledged.
const FireAndForget time.Duration = -1

// DefaultAckTimeout is used for kinds with a zero AckTimeout.
const DefaultAckTimeout = 500 * time.Millisecond

// Kind tags a message. Code is the byte on the wire.
type Kind struct {
	Code byte
	Name string
	// AckTimeout is how long the sender waits for an Ack before
	// retransmitting. Zero selects the engine default, FireAndForget
	// disables acknowledgment.
	AckTimeout time.Duration
}

// Built-in kinds.
var (
	KindAck       = Kind{Code: 0x00, Name: "Ack", AckTimeout: FireAndForget}
	KindHeartbeat = Kind{Code: 0x01, Name: "Heartbeat", AckTimeout: FireAndForget}
	KindPlain     = Kind{Code: 0x02, Name: "Plain"}
	KindSettings  = Kind{Code: 0x03, Name: "Settings"}
	KindIO        = Kind{Code: 0x10, Name: "IO"}
	KindDHT11     = Kind{Code: 0x11, Name: "DHT11"}
	KindPIR       = Kind{Code: 0x12, Name: "PIR"}
	KindLCD       = Kind{Code: 0x20, Name: "LCD"}
	KindRGB       = Kind{Code: 0x30, Name: "RGB"}
	KindWS281x    = Kind{Code: 0x40, Name: "WS281x"}

	KindStateMachineConfiguration = Kind{Code: 0x80, Name: "StateMachineConfiguration"}
	KindStateMachinePull          = Kind{Code: 0x81, Name: "StateMachinePull"}
	KindStateMachinePush          = Kind{Code: 0x82, Name: "StateMachinePush"}
	KindStateMachineGetState      = Kind{Code: 0x83, Name: "StateMachineGetState"}
	KindStateMachineSetState      = Kind{Code: 0x84, Name: "StateMachineSetState"}
	KindStateMachineAction        = Kind{Code: 0x85, Name: "StateMachineAction"}

	// KindUnknown is what unregistered wire codes decode to.
	KindUnknown = Kind{Code: 0xFF, Name: "Unknown"}
)

var (
	kindsLock sync.RWMutex
	kinds     = make(map[byte]Kind)
)

func init() {
	for _, k := range []Kind{
		KindAck, KindHeartbeat, KindPlain, KindSettings,
		KindIO, KindDHT11, KindPIR, KindLCD, KindRGB, KindWS281x,
		KindStateMachineConfiguration, KindStateMachinePull, KindStateMachinePush,
		KindStateMachineGetState, KindStateMachineSetState, KindStateMachineAction,
		KindUnknown,
	} {
		kinds[k.Code] = k
	}
}

// RegisterKind adds or replaces a kind in the registry.
// The reserved Ack and Unknown codes can't be replaced.
func RegisterKind(k Kind) error {
	if k.Code == KindAck.Code || k.Code == KindUnknown.Code {
		return fmt.Errorf("kind code 0x%02X is reserved", k.Code)
	}
	if k.Name == "" {
		return fmt.Errorf("kind 0x%02X has no name", k.Code)
	}
	kindsLock.Lock()
	kinds[k.Code] = k
	kindsLock.Unlock()
	return nil
}

// LookupKind finds a registered kind by wire code.
func LookupKind(code byte) (Kind, bool) {
	kindsLock.RLock()
	defer kindsLock.RUnlock()
	k, ok := kinds[code]
	return k, ok
}

// KindOf maps a wire code to a kind, KindUnknown if not registered.
func KindOf(code byte) Kind {
	if k, ok := LookupKind(code); ok {
		return k
	}
	return KindUnknown
}

// KindByName finds a registered kind by name, case-insensitive.
func KindByName(name string) (Kind, bool) {
	kindsLock.RLock()
	defer kindsLock.RUnlock()
	for _, k := range kinds {
		if strings.EqualFold(k.Name, name) {
			return k, true
		}
	}
	return Kind{}, false
}

// Kinds lists all registered kinds ordered by code.
func Kinds() []Kind {
	kindsLock.RLock()
	list := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		list = append(list, k)
	}
	kindsLock.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	return list
}

// IsFireAndForget indicates messages of this kind are not acknowledged.
func (k Kind) IsFireAndForget() bool {
	return k.AckTimeout < 0
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return fmt.Sprintf("%s(0x%02X)", k.Name, k.Code)
}
