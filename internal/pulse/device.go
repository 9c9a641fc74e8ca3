package pulse

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/eventqueue"
)

// Hooks are optional callbacks run on the event queue.
type Hooks struct {
	// OnAuthenticated runs when the accessory accepts the client.
	OnAuthenticated func()
	// OnFirmwareVerify runs after INFO_RESPONSE with the reported version.
	OnFirmwareVerify func(firmwareVersion, serialNumber string)
	// OnBootloaderRestart runs when the accessory acknowledges the restart
	// into its DFU bootloader.
	OnBootloaderRestart func()
	// OnProtocolError runs for responses that break the protocol. The
	// exchange is not retried.
	OnProtocolError func(err *device.ProtocolError)
}

// readiness holds the discovery and notification flags gating authentication.
type readiness struct {
	pulseService        bool
	writeChar           bool
	readChar            bool
	authChar            bool
	dfuService          bool
	buttonlessChar      bool
	readNotifying       bool
	authNotifying       bool
	buttonlessNotifying bool
}

func (r readiness) all() bool {
	return r.pulseService && r.writeChar && r.readChar && r.authChar &&
		r.dfuService && r.buttonlessChar &&
		r.readNotifying && r.authNotifying && r.buttonlessNotifying
}

// Device is a Pulse accessory. Every method must run on the device's event
// queue.
type Device struct {
	*device.Device

	hooks Hooks
	flags readiness
	ready bool

	authenticated       bool
	serialNumber        string
	firmwareVersion     string
	writeSequenceNumber uint32

	bootloaderName string
}

// New wraps io as a Pulse accessory dispatching on q.
func New(io device.IODevice, q *eventqueue.Queue, hooks Hooks, logger *logrus.Logger) *Device {
	d := &Device{hooks: hooks}
	d.Device = device.New(io, q, d, logger)
	return d
}

func (d *Device) Authenticated() bool         { return d.authenticated }
func (d *Device) SerialNumber() string        { return d.serialNumber }
func (d *Device) FirmwareVersion() string     { return d.firmwareVersion }
func (d *Device) WriteSequenceNumber() uint32 { return d.writeSequenceNumber }

// Ready reports whether discovery and notification setup are complete.
func (d *Device) Ready() bool { return d.ready }

// Reset clears readiness and authentication state for a new connection.
func (d *Device) Reset() {
	d.flags = readiness{}
	d.ready = false
	d.authenticated = false
	d.serialNumber = ""
	d.firmwareVersion = ""
	d.writeSequenceNumber = 0
	d.bootloaderName = ""
}

func (d *Device) log() *logrus.Entry {
	return d.Logger().WithField("device", d.ID())
}

// deviceReady reads the auth characteristic on every false to true
// transition of the readiness flags.
func (d *Device) deviceReady() {
	all := d.flags.all()
	if all == d.ready {
		return
	}
	d.ready = all
	if !all {
		return
	}

	d.log().Info("Pulse ready, starting authentication")
	if err := d.CharacteristicRead(serviceUUID, authCharUUID); err != nil {
		d.log().WithError(err).Warn("Failed to read auth characteristic")
	}
}

func (d *Device) enableNotify(service, characteristic string) {
	if err := d.CharacteristicStartNotifySet(service, characteristic, true); err != nil {
		d.log().WithFields(logrus.Fields{
			"service_uuid": service,
			"char_uuid":    characteristic,
			"error":        err,
		}).Warn("Failed to enable notifications")
	}
}

// DidAddService implements device.ServiceAddedHandler.
func (d *Device) DidAddService(service string) {
	switch service {
	case serviceUUID:
		d.flags.pulseService = true
	case dfuServiceUUID:
		d.flags.dfuService = true
	}
	d.deviceReady()
}

// DidAddCharacteristic implements device.CharacteristicAddedHandler.
func (d *Device) DidAddCharacteristic(service, characteristic string) {
	switch {
	case service == serviceUUID && characteristic == writeCharUUID:
		d.flags.writeChar = true
	case service == serviceUUID && characteristic == readCharUUID:
		d.flags.readChar = true
		d.enableNotify(service, characteristic)
	case service == serviceUUID && characteristic == authCharUUID:
		d.flags.authChar = true
		d.enableNotify(service, characteristic)
	case service == dfuServiceUUID && characteristic == buttonlessCharUUID:
		d.flags.buttonlessChar = true
		d.enableNotify(service, characteristic)
	}
	d.deviceReady()
}

// DidUpdateStartNotify implements device.StartNotifyHandler.
func (d *Device) DidUpdateStartNotify(service, characteristic string, enabled bool) {
	switch {
	case service == serviceUUID && characteristic == readCharUUID:
		d.flags.readNotifying = enabled
	case service == serviceUUID && characteristic == authCharUUID:
		d.flags.authNotifying = enabled
	case service == dfuServiceUUID && characteristic == buttonlessCharUUID:
		d.flags.buttonlessNotifying = enabled
	}
	d.deviceReady()
}

// DidChangeCharacteristicValue implements device.ValueChangedHandler.
func (d *Device) DidChangeCharacteristicValue(service, characteristic string, value []byte) {
	switch {
	case service == serviceUUID && characteristic == authCharUUID:
		d.handleAuth(value)
	case service == serviceUUID && characteristic == readCharUUID:
		d.handleResponse(value)
	case service == dfuServiceUUID && characteristic == buttonlessCharUUID:
		d.handleButtonless(value)
	default:
		d.log().WithFields(logrus.Fields{
			"service_uuid": service,
			"char_uuid":    characteristic,
		}).Debug("Ignoring value from unrelated characteristic")
	}
}

func (d *Device) protocolError(op, reason string, data []byte) {
	err := &device.ProtocolError{Component: "pulse", Op: op, Reason: reason, Data: append([]byte(nil), data...)}
	d.log().WithError(err).Warn("Pulse protocol error")
	if d.hooks.OnProtocolError != nil {
		d.hooks.OnProtocolError(err)
	}
}

func (d *Device) handleAuth(value []byte) {
	switch {
	case bytes.Equal(value, []byte(AuthorizedSentinel)):
		d.authenticated = true
		d.log().Info("Pulse authenticated")
		if d.hooks.OnAuthenticated != nil {
			d.hooks.OnAuthenticated()
		}
		d.InfoGet()

	case len(value) == NonceSize:
		answer, err := encryptChallenge(sharedKey[:], value)
		if err != nil {
			d.protocolError("auth", err.Error(), value)
			return
		}
		d.log().Debug("Answering auth challenge")
		d.CharacteristicWrite(serviceUUID, authCharUUID, answer)

	default:
		d.protocolError("auth", "unexpected challenge length", value)
	}
}

func (d *Device) handleResponse(value []byte) {
	tokens := strings.Fields(string(value))
	if len(tokens) == 0 {
		d.log().Debug("Empty response")
		return
	}

	switch name := tokens[0]; {
	case name == RespInfo:
		if len(tokens) < 4 {
			d.protocolError(RespInfo, "too few fields", value)
			return
		}
		d.firmwareVersion = tokens[2]
		d.serialNumber = tokens[3]
		d.log().WithFields(logrus.Fields{
			"firmware_version": d.firmwareVersion,
			"serial_number":    d.serialNumber,
		}).Info("Pulse info received")
		if d.hooks.OnFirmwareVerify != nil {
			d.hooks.OnFirmwareVerify(d.firmwareVersion, d.serialNumber)
		}

	case name == RespGeneric:
		// plain acknowledgement

	case strings.HasPrefix(name, respAlertSwitchPrefix), strings.HasPrefix(name, respRGBSwitchPrefix):
		d.log().WithField("event", name).Info("Pulse switch event")

	default:
		d.log().WithField("response", string(value)).Debug("Unhandled Pulse response")
	}
}

// RestartInBootloader asks the accessory to reboot into its DFU bootloader
// advertising name. The name is truncated to MaxBootloaderNameLen bytes.
func (d *Device) RestartInBootloader(name string) {
	if len(name) > MaxBootloaderNameLen {
		name = name[:MaxBootloaderNameLen]
	}
	d.bootloaderName = name

	cmd := make([]byte, 0, 2+len(name))
	cmd = append(cmd, buttonlessSetName, byte(len(name)))
	cmd = append(cmd, name...)
	d.CharacteristicWrite(dfuServiceUUID, buttonlessCharUUID, cmd)
}

// BootloaderName returns the name passed to the last RestartInBootloader.
func (d *Device) BootloaderName() string { return d.bootloaderName }

func (d *Device) handleButtonless(value []byte) {
	if len(value) < 3 || value[0] != buttonlessResponse {
		d.protocolError("buttonless", "malformed response", value)
		return
	}

	op, status := value[1], value[2]
	if status != buttonlessSuccess {
		d.protocolError("buttonless", "request failed", value)
		return
	}

	switch op {
	case buttonlessSetName:
		d.log().WithField("name", d.bootloaderName).Debug("Bootloader name accepted, restarting")
		d.CharacteristicWrite(dfuServiceUUID, buttonlessCharUUID, []byte{buttonlessEnterBootloader})
	case buttonlessEnterBootloader:
		d.log().Info("Pulse restarting into bootloader")
		if d.hooks.OnBootloaderRestart != nil {
			d.hooks.OnBootloaderRestart()
		}
	default:
		d.protocolError("buttonless", "unknown opcode", value)
	}
}
