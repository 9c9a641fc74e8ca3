package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/dfu"
)

// FormatUserError renders err for the terminal. Known failures get a hint,
// anything else is printed as is.
func FormatUserError(err error) string {
	var (
		nf   *device.NotFoundError
		perr *device.ProtocolError
	)

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or no adapter is available"
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth is not supported on this platform"
	case errors.Is(err, device.ErrTimeout):
		return "the device stopped responding (timeout)"
	case errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("the device disconnected: %v", err)
	case errors.As(err, &nf) && nf.Resource == "device":
		return fmt.Sprintf("%v; make sure it is powered and advertising", err)
	case errors.As(err, &perr):
		return fmt.Sprintf("the device rejected the request: %v", perr)
	case errors.Is(err, dfu.ErrInvalidPackage):
		return fmt.Sprintf("%v; expected a Nordic DFU zip with manifest.json", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	default:
		return err.Error()
	}
}
