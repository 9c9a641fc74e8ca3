package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/pulsectl/internal/device"
)

func TestConnectionErrorIs(t *testing.T) {
	err := fmt.Errorf("connect: %w", &device.ConnectionError{State: device.NotConnected, Msg: "link lost"})

	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.NotErrorIs(t, err, device.ErrAlreadyConnected)
	assert.True(t, device.IsConnectionState(err, device.NotConnected))
	assert.False(t, device.IsConnectionState(errors.New("other"), device.NotConnected))
	assert.Equal(t, "not_connected: link lost", errors.Unwrap(err).Error())
	assert.Equal(t, "bluetooth_off", device.ErrBluetoothOff.Error())
}

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		err  *device.NotFoundError
		want string
	}{
		{&device.NotFoundError{Resource: "service"}, "service not found"},
		{&device.NotFoundError{Resource: "service", UUIDs: []string{"fe59"}}, `service "fe59" not found`},
		{&device.NotFoundError{Resource: "characteristic", UUIDs: []string{"fe59", "8ec90001"}}, `characteristic "8ec90001" not found in service "fe59"`},
		{&device.NotFoundError{Resource: "descriptor", UUIDs: []string{"2a37", "2902"}}, `descriptor "2902" not found in characteristic "2a37"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestProtocolError(t *testing.T) {
	err := &device.ProtocolError{Component: "dfu", Op: "checksum", Reason: "crc mismatch", Data: []byte{0x60, 0x03}}

	assert.Equal(t, "dfu: checksum: crc mismatch (60 03)", err.Error())
	assert.True(t, device.IsProtocolError(fmt.Errorf("update: %w", err)))
	assert.False(t, device.IsProtocolError(device.ErrTimeout))
	assert.Equal(t, "pulse: bad auth", (&device.ProtocolError{Component: "pulse", Reason: "bad auth"}).Error())
}
