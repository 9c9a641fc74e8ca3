//go:build !darwin

package main

const (
	exampleDeviceAddress = "C0:FF:EE:12:34:56"
	deviceAddressNote    = "Device address format: MAC address (XX:XX:XX:XX:XX:XX)\n  Use 'pulsectl scan' to discover devices"
)
