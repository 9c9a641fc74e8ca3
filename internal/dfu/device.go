package dfu

import (
	"hash/crc32"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/eventqueue"
)

// State is the phase of a transfer.
type State int

const (
	StateNone State = iota
	StateSendingInitPacket
	StateSendingFirmware
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateSendingInitPacket:
		return "sending-init-packet"
	case StateSendingFirmware:
		return "sending-firmware"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Progress is a snapshot of the current phase.
type Progress struct {
	State       State
	Object      int
	ObjectCount int
	BytesSent   int
	TotalBytes  int
	Percent     int
}

// Hooks are optional callbacks run on the event queue.
type Hooks struct {
	OnStateChange func(State)
	OnProgress    func(Progress)
	OnComplete    func()
	// OnTimeout runs when no control point activity was seen for the
	// configured timeout. The transfer is left as is.
	OnTimeout func()
	// OnProtocolError runs for malformed or failed responses and checksum
	// mismatches. The transfer stalls.
	OnProtocolError func(err *device.ProtocolError)
}

// Options tune the transfer.
type Options struct {
	// Timeout is the inactivity window before OnTimeout runs.
	Timeout time.Duration
	// InitPacketPRN and FirmwarePRN request a checksum notification every N
	// packets. Zero disables notifications for the phase.
	InitPacketPRN uint16
	FirmwarePRN   uint16
	// PacketSize bounds each packet characteristic write.
	PacketSize int
}

// DefaultOptions returns the options the bootloader is qualified with.
func DefaultOptions() Options {
	return Options{
		Timeout:       10 * time.Second,
		InitPacketPRN: 0,
		FirmwarePRN:   10,
		PacketSize:    20,
	}
}

// Device runs one firmware update against a bootloader. Every method must
// run on the device's event queue.
type Device struct {
	*device.Device

	hooks Hooks
	opts  Options

	initPacket []byte
	firmware   []byte

	state         State
	progress      device.SendProgress
	maxObjectSize uint32
	crc           uint32

	prn               uint16
	packetsSinceNotif int
	awaitingReceipt   bool
	inFlight          []byte

	timer *eventqueue.Timer
}

// New wraps io as a DFU target that will receive initPacket and firmware.
// The inactivity timer starts immediately.
func New(io device.IODevice, q *eventqueue.Queue, initPacket, firmware []byte, opts Options, hooks Hooks, logger *logrus.Logger) *Device {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.PacketSize <= 0 {
		opts.PacketSize = defaults.PacketSize
	}

	d := &Device{
		hooks:      hooks,
		opts:       opts,
		initPacket: initPacket,
		firmware:   firmware,
	}
	d.Device = device.New(io, q, d, logger)
	d.timer = eventqueue.NewTimer(q, opts.Timeout, d.timeout)
	d.timer.Start()
	return d
}

// State returns the transfer phase.
func (d *Device) State() State { return d.state }

// MaxObjectSize returns the object size reported by the bootloader.
func (d *Device) MaxObjectSize() uint32 { return d.maxObjectSize }

// TimeoutArmed reports whether the inactivity timer is running.
func (d *Device) TimeoutArmed() bool { return d.timer.Active() }

// Progress returns a snapshot of the current phase.
func (d *Device) Progress() Progress {
	return Progress{
		State:       d.state,
		Object:      d.progress.CurrentObject(),
		ObjectCount: d.progress.ObjectCount(),
		BytesSent:   d.progress.BytesSent(),
		TotalBytes:  d.progress.TotalLength(),
		Percent:     d.progress.PercentComplete(),
	}
}

// Close stops the timer and releases the transport.
func (d *Device) Close() error {
	d.timer.Stop()
	return d.Device.Close()
}

func (d *Device) log() *logrus.Entry {
	return d.Logger().WithFields(logrus.Fields{
		"device": d.ID(),
		"state":  d.state.String(),
	})
}

func (d *Device) setState(s State) {
	if s == d.state {
		return
	}
	d.log().WithField("next_state", s.String()).Info("DFU state change")
	d.state = s
	if d.hooks.OnStateChange != nil {
		d.hooks.OnStateChange(s)
	}
}

func (d *Device) timeout() {
	d.log().WithField("timeout", d.opts.Timeout).Warn("DFU timed out waiting for the bootloader")
	if d.hooks.OnTimeout != nil {
		d.hooks.OnTimeout()
	}
}

func (d *Device) protocolError(op, reason string, data []byte) {
	err := &device.ProtocolError{Component: "dfu", Op: op, Reason: reason, Data: append([]byte(nil), data...)}
	d.log().WithError(err).Error("DFU protocol error, transfer stalled")
	if d.hooks.OnProtocolError != nil {
		d.hooks.OnProtocolError(err)
	}
}

func (d *Device) controlPointWrite(cmd []byte) {
	d.log().WithFields(logrus.Fields{
		"opcode":  opName(cmd[0]),
		"payload": cmd,
	}).Debug("DFU control point write")
	d.CharacteristicWrite(serviceUUID, controlPointUUID, cmd)
}

func (d *Device) objectType() byte {
	if d.state == StateSendingInitPacket {
		return ObjectInitPacket
	}
	return ObjectFirmware
}

func (d *Device) payload() []byte {
	if d.state == StateSendingInitPacket {
		return d.initPacket
	}
	return d.firmware
}

// DidAddCharacteristic implements device.CharacteristicAddedHandler.
func (d *Device) DidAddCharacteristic(service, characteristic string) {
	if service != serviceUUID || characteristic != controlPointUUID {
		return
	}
	if err := d.CharacteristicStartNotifySet(service, characteristic, true); err != nil {
		d.log().WithError(err).Warn("Failed to enable control point notifications")
	}
}

// DidUpdateStartNotify implements device.StartNotifyHandler. Confirmed
// control point notifications start the transfer.
func (d *Device) DidUpdateStartNotify(service, characteristic string, enabled bool) {
	if service != serviceUUID || characteristic != controlPointUUID {
		return
	}
	d.timer.Restart()

	if enabled && d.state == StateNone {
		d.initPacketSend()
	}
}

func (d *Device) initPacketSend() {
	d.setState(StateSendingInitPacket)
	d.packetReceiptNotificationsSet(d.opts.InitPacketPRN)
}

func (d *Device) packetReceiptNotificationsSet(count uint16) {
	d.prn = count
	d.controlPointWrite(prnCommand(count))
}

// DidChangeCharacteristicValue implements device.ValueChangedHandler.
func (d *Device) DidChangeCharacteristicValue(service, characteristic string, value []byte) {
	if service != serviceUUID || characteristic != controlPointUUID {
		return
	}
	d.timer.Restart()

	if len(value) < responseHeaderLen {
		d.protocolError("response", "response too short", value)
		return
	}
	if value[0] != OpResponse {
		d.protocolError("response", "missing response prefix", value)
		return
	}

	op, result := value[1], value[2]
	if _, known := opNames[op]; !known {
		d.protocolError(opName(op), "unknown opcode", value)
		return
	}
	if result != ResultSuccess {
		d.protocolError(opName(op), resultName(result), value)
		return
	}

	d.log().WithField("opcode", opName(op)).Debug("DFU control point response")

	switch op {
	case OpSelectObject:
		d.selectResponse(value)
	case OpCreate:
		d.packetsSinceNotif = 0
		d.awaitingReceipt = false
		d.dataWrite()
	case OpPacketReceiptNotifReq:
		d.controlPointWrite(selectCommand(d.objectType()))
	case OpCalculateChecksum:
		d.checksumResponse(value)
	case OpExecute:
		d.executeResponse()
	}
}

func (d *Device) selectResponse(value []byte) {
	if len(value) < selectResponseLen {
		d.protocolError("select", "response too short", value)
		return
	}

	d.maxObjectSize = uint32LE(value[3:7])
	d.crc = 0
	d.progress.Initialize(len(d.payload()), int(d.maxObjectSize))

	d.log().WithFields(logrus.Fields{
		"max_object_size": d.maxObjectSize,
		"total_bytes":     d.progress.TotalLength(),
		"objects":         d.progress.ObjectCount(),
	}).Info("DFU object selected")

	d.objectCreate()
}

func (d *Device) objectCreate() {
	size := d.progress.ObjectLength(d.progress.CurrentObject())
	d.controlPointWrite(createCommand(d.objectType(), uint32(size)))
}

func (d *Device) checksumResponse(value []byte) {
	if len(value) < checksumResponseLen {
		d.protocolError("checksum", "response too short", value)
		return
	}

	offset := uint32LE(value[3:7])
	remoteCRC := uint32LE(value[7:11])
	d.progress.BytesReceivedSet(int(offset))
	wasWaiting := d.awaitingReceipt
	d.awaitingReceipt = false
	d.packetsSinceNotif = d.packetsPast(int(offset))

	if d.progress.IsObjectComplete() {
		if remoteCRC != d.crc {
			d.log().WithFields(logrus.Fields{
				"local_crc":  d.crc,
				"remote_crc": remoteCRC,
				"offset":     offset,
			}).Error("DFU checksum mismatch")
			d.protocolError("checksum", "crc mismatch", value)
			return
		}
		d.controlPointWrite(executeCommand())
		return
	}

	// a receipt we did not pause for; packets are still being written
	if !wasWaiting {
		return
	}
	d.dataWrite()
}

func (d *Device) executeResponse() {
	d.progress.ObjectExecuted()

	if !d.progress.IsComplete() {
		d.progress.NextObject()
		d.objectCreate()
		return
	}

	switch d.state {
	case StateSendingInitPacket:
		d.setState(StateSendingFirmware)
		d.packetReceiptNotificationsSet(d.opts.FirmwarePRN)
	case StateSendingFirmware:
		d.setState(StateComplete)
		d.timer.Stop()
		d.log().Info("DFU complete")
		if d.hooks.OnComplete != nil {
			d.hooks.OnComplete()
		}
	}
}

// packetsPast counts the completed packets beyond the peer offset. It is
// negative when the receipt overtook the completion of packets it covers.
func (d *Device) packetsPast(offset int) int {
	diff := d.progress.BytesSent() - offset
	size := d.opts.PacketSize
	if diff < 0 {
		return -((-diff + size - 1) / size)
	}
	return (diff + size - 1) / size
}

// dataWrite sends the next packet of the current object.
func (d *Device) dataWrite() {
	n := min(d.opts.PacketSize, d.progress.CurrentObjectAvailableLength())
	if n <= 0 {
		if d.progress.IsObjectComplete() {
			d.controlPointWrite(checksumCommand())
		}
		return
	}
	offset := d.progress.BytesSent()
	d.inFlight = d.payload()[offset : offset+n]
	d.CharacteristicWrite(serviceUUID, packetUUID, d.inFlight)
}

// DidWriteCharacteristic implements device.WriteCompletedHandler.
func (d *Device) DidWriteCharacteristic(service, characteristic string) {
	if service != serviceUUID || characteristic != packetUUID {
		return
	}
	d.dataPacketWriteComplete()
}

func (d *Device) dataPacketWriteComplete() {
	if d.inFlight == nil {
		d.log().Debug("Packet write completion without packet in flight")
		return
	}

	d.crc = crc32.Update(d.crc, crc32.IEEETable, d.inFlight)
	d.progress.BytesSentAdd(len(d.inFlight))
	d.inFlight = nil
	d.packetsSinceNotif++

	if d.hooks.OnProgress != nil {
		d.hooks.OnProgress(d.Progress())
	}

	if d.prn > 0 && d.packetsSinceNotif >= int(d.prn) {
		d.awaitingReceipt = true
		return
	}

	if d.progress.IsObjectComplete() {
		d.controlPointWrite(checksumCommand())
		return
	}
	d.dataWrite()
}
