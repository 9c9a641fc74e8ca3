package pulse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Pattern selects one of the ring patterns stored in accessory firmware.
type Pattern uint8

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Frame is one step of a custom ring pattern.
type Frame struct {
	Color      Color
	Brightness uint8
	Duration   time.Duration
}

// sendCommand writes "<name> <seq>[ <args>]" to the command characteristic
// and advances the sequence number.
func (d *Device) sendCommand(name string, args ...string) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(d.writeSequenceNumber), 10))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	d.writeSequenceNumber++

	d.Logger().WithFields(logrus.Fields{
		"device":  d.ID(),
		"command": b.String(),
	}).Debug("Pulse command")
	d.CharacteristicWrite(serviceUUID, writeCharUUID, []byte(b.String()))
}

// PresetRingPatternStart plays a firmware pattern in the given colour.
func (d *Device) PresetRingPatternStart(pattern Pattern, r, g, b, brightness uint8) {
	d.sendCommand(CmdPresetPatternStart, fmt.Sprintf("%d %2x %2x %2x %2x", pattern, r, g, b, brightness))
}

// CustomRingPatternStart uploads frames one FRAME command at a time, then
// starts playback with PATTERN_START carrying the frame count.
func (d *Device) CustomRingPatternStart(frames []Frame) {
	for i, f := range frames {
		d.sendCommand(CmdFrame, fmt.Sprintf("%d %2x %2x %2x %2x %d",
			i, f.Color.R, f.Color.G, f.Color.B, f.Brightness, f.Duration.Milliseconds()))
	}
	d.sendCommand(CmdPatternStart, strconv.Itoa(len(frames)))
}

// RingStop stops the running pattern.
func (d *Device) RingStop() { d.sendCommand(CmdPatternStop) }

// MissedSet toggles the missed-call indicator.
func (d *Device) MissedSet(on bool) {
	if on {
		d.sendCommand(CmdMissedOn)
		return
	}
	d.sendCommand(CmdMissedOff)
}

// SignmailSet toggles the signmail indicator.
func (d *Device) SignmailSet(on bool) {
	if on {
		d.sendCommand(CmdSignmailOn)
		return
	}
	d.sendCommand(CmdSignmailOff)
}

// AllOff turns every light off.
func (d *Device) AllOff() { d.sendCommand(CmdAllOff) }

// InfoGet requests firmware version and serial number.
func (d *Device) InfoGet() { d.sendCommand(CmdInfoGet) }

// CommandsPending returns the number of command writes not yet confirmed by
// the transport, including the one in flight.
func (d *Device) CommandsPending() int {
	return d.PendingWrites(serviceUUID, writeCharUUID) + d.PendingWrites(dfuServiceUUID, buttonlessCharUUID)
}
