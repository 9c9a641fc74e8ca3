package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newHostDevice

var (
	hostMu  sync.Mutex
	hostDev ble.Device
)

// HostDevice returns the process-wide BLE host, creating it on first use and
// installing it as the go-ble default device.
func HostDevice() (ble.Device, error) {
	hostMu.Lock()
	defer hostMu.Unlock()

	if hostDev != nil {
		return hostDev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)
	hostDev = dev
	return dev, nil
}

// ScanningDevice is the scanning half of ble.Device.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// ScanningDeviceFactory returns the device scans run on. It is a variable so
// that it can be overridden in tests.
var ScanningDeviceFactory = func() (ScanningDevice, error) {
	return HostDevice()
}
