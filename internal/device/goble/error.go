package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"

	"github.com/srg/pulsectl/internal/device"
)

type errorRule struct {
	target    error
	fragments []string
}

// errorRules lists go-ble failure messages in match order.
var errorRules = []errorRule{
	// darwin: central manager state check, linux: no HCI socket
	{device.ErrBluetoothOff, []string{"is bluetooth turned on?", "can't init hci"}},
	{&device.NotFoundError{Resource: "device"}, []string{"no peer with address"}},
	{device.ErrAlreadyConnected, []string{"failed to add connection: already exists"}},
	{device.ErrNotConnected, []string{"disconnected", "connection canceled", "connect failed: aborted"}},
	// ATT request and HCI command timeouts on linux
	{device.ErrTimeout, []string{"req timeout", "listner timed out", "hci: no response to command"}},
	{device.ErrUnsupported, []string{"not supported"}},
}

// NormalizeError wraps a go-ble error with the device error it stands for,
// keeping the original in the chain. Unknown errors are returned as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ble.ErrNotImplemented) {
		return fmt.Errorf("%w: %w", device.ErrUnsupported, err)
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return fmt.Errorf("%w: %w", rule.target, err)
			}
		}
	}
	return err
}
