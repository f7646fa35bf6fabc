// Package serial connects devices over USB serial ports.
package serial

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/golang/glog"
	goserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/robotalks/devlink/pkg/link"
)

// DefaultBaudRate is the line speed of the device firmware.
const DefaultBaudRate = 115200

// DefaultMode is 115200 8N1.
func DefaultMode() *goserial.Mode {
	return &goserial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
}

// Opener opens serial ports, it implements link.Opener.
type Opener struct {
	Mode *goserial.Mode
}

// NewOpener creates an Opener with the line speed, 0 for DefaultBaudRate.
func NewOpener(baudRate int) *Opener {
	mode := DefaultMode()
	if baudRate > 0 {
		mode.BaudRate = baudRate
	}
	return &Opener{Mode: mode}
}

// Open implements link.Opener.
func (o *Opener) Open(ctx context.Context, d link.Descriptor) (io.ReadWriteCloser, error) {
	port, ok := d.(link.SerialPort)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a serial port", link.ErrInvalidDescriptor, d)
	}
	mode := o.Mode
	if mode == nil {
		mode = DefaultMode()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	glog.V(2).Infof("open %s at %d baud", port.Name, mode.BaudRate)
	p, err := goserial.Open(port.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port.Name, err)
	}
	return p, nil
}

// Lister enumerates serial ports, it implements link.DeviceLister.
type Lister struct {
	// USBOnly skips ports which are not USB.
	USBOnly bool
}

// ListDevices implements link.DeviceLister.
func (l *Lister) ListDevices(ctx context.Context) ([]link.Descriptor, error) {
	names, err := l.portNames()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	devices := make([]link.Descriptor, 0, len(names))
	for _, name := range names {
		devices = append(devices, link.SerialPort{Name: name})
	}
	return devices, nil
}

func (l *Lister) portNames() ([]string, error) {
	if !l.USBOnly {
		return goserial.GetPortsList()
	}
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, port := range ports {
		if port.IsUSB {
			if glog.V(4) {
				glog.Infof("USB port %s %s:%s %s", port.Name, port.VID, port.PID, port.Product)
			}
			names = append(names, port.Name)
		}
	}
	return names, nil
}
