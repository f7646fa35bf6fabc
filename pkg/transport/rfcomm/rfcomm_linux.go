//go:build linux

package rfcomm

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/robotalks/devlink/pkg/link"
)

// connectPollMs bounds how long a pending connect goes without checking ctx.
const connectPollMs = 100

// Open implements link.Opener.
func (o *Opener) Open(ctx context.Context, d link.Descriptor) (io.ReadWriteCloser, error) {
	dev, ok := d.(link.BluetoothDevice)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a Bluetooth device", link.ErrInvalidDescriptor, d)
	}
	addr, err := bdaddr(dev.Address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	if err = connect(ctx, fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: uint8(dev.RFCOMM)}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s: %w", dev, err)
	}
	glog.V(2).Infof("rfcomm connected %s", dev)
	// non-blocking fds are registered with the runtime poller, so Close
	// unblocks a pending Read
	return os.NewFile(uintptr(fd), "rfcomm:"+dev.String()), nil
}

func connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS && err != unix.EAGAIN {
		return err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, connectPollMs)
		if err == unix.EINTR || n == 0 {
			continue
		}
		if err != nil {
			return err
		}
		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soerr != 0 {
			return unix.Errno(soerr)
		}
		return nil
	}
}
