package testutils

import (
	"hash/crc32"
	"strings"
	"sync"

	"github.com/srg/pulsectl/internal/bledb"
	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/dfu"
)

var (
	pulseSvc   = device.NormalizeUUID(bledb.PulseServiceUUID)
	pulseWrite = device.NormalizeUUID(bledb.PulseWriteCharUUID)
	pulseRead  = device.NormalizeUUID(bledb.PulseReadCharUUID)
	pulseAuth  = device.NormalizeUUID(bledb.PulseAuthCharUUID)
	dfuSvc     = device.NormalizeUUID(bledb.DFUServiceUUID)
	dfuCtrl    = device.NormalizeUUID(bledb.DFUControlPointCharUUID)
	dfuPacket  = device.NormalizeUUID(bledb.DFUPacketCharUUID)
	dfuButton  = device.NormalizeUUID(bledb.DFUButtonlessCharUUID)
)

// Identity SimPulse reports after INFO_GET.
const (
	SimFirmwareVersion = "2.4.1"
	SimSerialNumber    = "PR-0042"
)

// SimPulse answers like a Pulse accessory. Requests are handled inline, the
// callbacks it delivers are queued by the device wrapper. Configure fields
// before connecting.
type SimPulse struct {
	*FakeIODevice

	mu sync.Mutex
	// Challenge is the nonce returned by the auth read.
	Challenge []byte
	// Silent never answers the auth read.
	Silent bool
	// ButtonlessStatus is the result code of buttonless DFU responses.
	ButtonlessStatus byte

	lost     chan struct{}
	lostOnce sync.Once
}

func NewSimPulse(address string) *SimPulse {
	return &SimPulse{
		FakeIODevice:     NewFakeIODevice(address, "Pulse 0042", bledb.PulseServiceUUID),
		Challenge:        []byte("0123456789abcdef"),
		ButtonlessStatus: 0x01,
		lost:             make(chan struct{}),
	}
}

func (p *SimPulse) Disconnected() <-chan struct{} { return p.lost }

// DropLink simulates a lost connection.
func (p *SimPulse) DropLink() {
	p.lostOnce.Do(func() { close(p.lost) })
}

func (p *SimPulse) DiscoverServices() error {
	_ = p.FakeIODevice.DiscoverServices()
	p.AddService(pulseSvc)
	p.AddCharacteristic(pulseSvc, pulseWrite)
	p.AddCharacteristic(pulseSvc, pulseRead)
	p.AddCharacteristic(pulseSvc, pulseAuth)
	p.AddService(dfuSvc)
	p.AddCharacteristic(dfuSvc, dfuButton)
	return nil
}

func (p *SimPulse) SetNotify(service, characteristic string, enabled bool) error {
	_ = p.FakeIODevice.SetNotify(service, characteristic, enabled)
	p.NotifyChanged(service, characteristic, enabled)
	return nil
}

func (p *SimPulse) ReadCharacteristic(service, characteristic string) error {
	_ = p.FakeIODevice.ReadCharacteristic(service, characteristic)
	p.mu.Lock()
	silent, challenge := p.Silent, p.Challenge
	p.mu.Unlock()
	if characteristic == pulseAuth && !silent {
		p.ValueChanged(service, characteristic, challenge)
	}
	return nil
}

func (p *SimPulse) WriteCharacteristic(service, characteristic string, data []byte) error {
	if err := p.FakeIODevice.WriteCharacteristic(service, characteristic, data); err != nil {
		return err
	}
	p.CompleteWrite(service, characteristic)

	switch characteristic {
	case pulseAuth:
		p.ValueChanged(service, characteristic, []byte("AUTHORIZED"))
	case pulseWrite:
		if strings.HasPrefix(string(data), "INFO_GET") {
			p.ValueChanged(pulseSvc, pulseRead, []byte("INFO_RESPONSE 0 "+SimFirmwareVersion+" "+SimSerialNumber))
		}
	case dfuButton:
		p.mu.Lock()
		status := p.ButtonlessStatus
		p.mu.Unlock()
		p.ValueChanged(service, characteristic, []byte{0x20, data[0], status})
	}
	return nil
}

// Commands returns the text commands written so far.
func (p *SimPulse) Commands() []string {
	var out []string
	for _, w := range p.WritesTo(pulseSvc, pulseWrite) {
		out = append(out, string(w))
	}
	return out
}

// ButtonlessWrites returns the requests written to the buttonless DFU
// characteristic.
func (p *SimPulse) ButtonlessWrites() [][]byte {
	return p.WritesTo(dfuSvc, dfuButton)
}

// AuthWrites returns the encrypted challenges written back.
func (p *SimPulse) AuthWrites() [][]byte {
	return p.WritesTo(pulseSvc, pulseAuth)
}

// SimBootloader answers like a Nordic secure DFU bootloader. Configure
// fields before connecting.
type SimBootloader struct {
	*FakeIODevice

	mu        sync.Mutex
	maxObject uint32
	prn       int
	sincePRN  int
	crc       uint32
	offset    uint32
	executed  int
	received  []byte

	// Silent never answers the control point.
	Silent bool
	// Corrupt reports a wrong checksum.
	Corrupt bool
}

func NewSimBootloader(address string, maxObject uint32) *SimBootloader {
	return &SimBootloader{
		FakeIODevice: NewFakeIODevice(address, "PulseDFU", bledb.DFUServiceUUID),
		maxObject:    maxObject,
	}
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (b *SimBootloader) respond(op byte, payload ...byte) {
	if b.Silent {
		return
	}
	resp := append([]byte{dfu.OpResponse, op, dfu.ResultSuccess}, payload...)
	b.ValueChanged(dfuSvc, dfuCtrl, resp)
}

func (b *SimBootloader) checksum() {
	crc := b.crc
	if b.Corrupt {
		crc ^= 0xffffffff
	}
	b.respond(dfu.OpCalculateChecksum, append(le32(b.offset), le32(crc)...)...)
}

func (b *SimBootloader) DiscoverServices() error {
	_ = b.FakeIODevice.DiscoverServices()
	b.AddService(dfuSvc)
	b.AddCharacteristic(dfuSvc, dfuCtrl)
	b.AddCharacteristic(dfuSvc, dfuPacket)
	return nil
}

func (b *SimBootloader) SetNotify(service, characteristic string, enabled bool) error {
	_ = b.FakeIODevice.SetNotify(service, characteristic, enabled)
	b.NotifyChanged(service, characteristic, enabled)
	return nil
}

func (b *SimBootloader) WriteCharacteristic(service, characteristic string, data []byte) error {
	if err := b.FakeIODevice.WriteCharacteristic(service, characteristic, data); err != nil {
		return err
	}
	b.CompleteWrite(service, characteristic)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch characteristic {
	case dfuPacket:
		b.crc = crc32.Update(b.crc, crc32.IEEETable, data)
		b.offset += uint32(len(data))
		b.received = append(b.received, data...)
		b.sincePRN++
		if b.prn > 0 && b.sincePRN == b.prn {
			b.sincePRN = 0
			b.checksum()
		}

	case dfuCtrl:
		switch data[0] {
		case dfu.OpPacketReceiptNotifReq:
			b.prn = int(data[1]) | int(data[2])<<8
			b.respond(dfu.OpPacketReceiptNotifReq)
		case dfu.OpSelectObject:
			b.crc, b.offset, b.received = 0, 0, nil
			payload := append(le32(b.maxObject), le32(0)...)
			payload = append(payload, le32(0)...)
			b.respond(dfu.OpSelectObject, payload...)
		case dfu.OpCreate:
			b.sincePRN = 0
			b.respond(dfu.OpCreate)
		case dfu.OpCalculateChecksum:
			b.checksum()
		case dfu.OpExecute:
			b.executed++
			b.respond(dfu.OpExecute)
		}
	}
	return nil
}

// Executed counts execute requests.
func (b *SimBootloader) Executed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executed
}

// Image returns the bytes received since the last select.
func (b *SimBootloader) Image() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.received...)
}
