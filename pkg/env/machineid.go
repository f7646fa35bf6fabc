package env

import (
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

const appID = "devlink"

// MachineID retrieves an ID identifying the machine, derived from the OS
// machine ID so the raw value isn't exposed. It falls back to the hostname.
func MachineID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil && id != "" {
		if len(id) > 12 {
			id = id[:12]
		}
		return id
	}
	glog.Warningf("machine ID unavailable: %v", err)
	if name, err := os.Hostname(); err == nil {
		return sanitizeTopicLevel(name)
	}
	return "unknown"
}

// sanitizeTopicLevel makes s usable as a single MQTT topic level.
func sanitizeTopicLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}
