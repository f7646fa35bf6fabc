//go:build !linux

package rfcomm

import (
	"context"
	"errors"
	"io"

	"github.com/robotalks/devlink/pkg/link"
)

// Open implements link.Opener.
func (o *Opener) Open(ctx context.Context, d link.Descriptor) (io.ReadWriteCloser, error) {
	return nil, errors.New("rfcomm: not supported on this platform")
}
