package testutils

import (
	"errors"
	"sync"

	"github.com/srg/pulsectl/internal/device"
)

// ErrRejected is returned by FakeIODevice for requests matched by Reject.
var ErrRejected = errors.New("fake transport: request rejected")

// NotifyRequest records one SetNotify call.
type NotifyRequest struct {
	Service        string
	Characteristic string
	Enabled        bool
}

// FakeIODevice is an in-memory device.IODevice. It records every request and
// lets tests deliver transport callbacks by hand.
type FakeIODevice struct {
	mu sync.Mutex

	id        string
	name      string
	services  []string
	paired    bool
	connected bool
	closed    bool

	cb device.Callbacks

	discoverCalls int
	writes        []device.WriteRequest
	reads         []device.WriteKey
	notifies      []NotifyRequest

	// Reject, when set, makes WriteCharacteristic fail for matching requests.
	Reject func(req device.WriteRequest) bool
}

var _ device.IODevice = (*FakeIODevice)(nil)

// NewFakeIODevice creates a fake peripheral advertising services.
func NewFakeIODevice(id, name string, services ...string) *FakeIODevice {
	return &FakeIODevice{
		id:       id,
		name:     name,
		services: device.NormalizeUUIDs(services),
	}
}

func (f *FakeIODevice) ID() string   { return f.id }
func (f *FakeIODevice) Name() string { return f.name }

func (f *FakeIODevice) AdvertisedServices() []string {
	return append([]string(nil), f.services...)
}

func (f *FakeIODevice) Paired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paired
}

func (f *FakeIODevice) SetPaired(paired bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paired = paired
}

func (f *FakeIODevice) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeIODevice) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *FakeIODevice) SetCallbacks(cb device.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *FakeIODevice) DiscoverServices() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	return nil
}

func (f *FakeIODevice) SetNotify(service, characteristic string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, NotifyRequest{Service: service, Characteristic: characteristic, Enabled: enabled})
	return nil
}

func (f *FakeIODevice) ReadCharacteristic(service, characteristic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, device.WriteKey{Service: service, Characteristic: characteristic})
	return nil
}

func (f *FakeIODevice) WriteCharacteristic(service, characteristic string, data []byte) error {
	req := device.WriteRequest{
		Service:        service,
		Characteristic: characteristic,
		Data:           append([]byte(nil), data...),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Reject != nil && f.Reject(req) {
		return ErrRejected
	}
	f.writes = append(f.writes, req)
	return nil
}

func (f *FakeIODevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeIODevice) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// DiscoverCalls returns how many times discovery was requested.
func (f *FakeIODevice) DiscoverCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoverCalls
}

// Writes returns every write the transport accepted, in issue order.
func (f *FakeIODevice) Writes() []device.WriteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.WriteRequest(nil), f.writes...)
}

// WritesTo returns the payloads written to one characteristic.
func (f *FakeIODevice) WritesTo(service, characteristic string) [][]byte {
	service, characteristic = device.NormalizeUUID(service), device.NormalizeUUID(characteristic)

	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		if w.Service == service && w.Characteristic == characteristic {
			out = append(out, w.Data)
		}
	}
	return out
}

// LastWrite returns the most recent accepted write.
func (f *FakeIODevice) LastWrite() (device.WriteRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return device.WriteRequest{}, false
	}
	return f.writes[len(f.writes)-1], true
}

// ClearWrites forgets recorded writes.
func (f *FakeIODevice) ClearWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// Reads returns every read request.
func (f *FakeIODevice) Reads() []device.WriteKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.WriteKey(nil), f.reads...)
}

// Notifies returns every SetNotify request.
func (f *FakeIODevice) Notifies() []NotifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]NotifyRequest(nil), f.notifies...)
}

func (f *FakeIODevice) callbacks() device.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

// AddService delivers a ServiceAdded callback.
func (f *FakeIODevice) AddService(service string) {
	if cb := f.callbacks().ServiceAdded; cb != nil {
		cb(service)
	}
}

// AddCharacteristic delivers a CharacteristicAdded callback.
func (f *FakeIODevice) AddCharacteristic(service, characteristic string) {
	if cb := f.callbacks().CharacteristicAdded; cb != nil {
		cb(service, characteristic)
	}
}

// AddDescriptor delivers a DescriptorAdded callback.
func (f *FakeIODevice) AddDescriptor(service, characteristic, descriptor string) {
	if cb := f.callbacks().DescriptorAdded; cb != nil {
		cb(service, characteristic, descriptor)
	}
}

// NotifyChanged delivers a StartNotifyChanged callback.
func (f *FakeIODevice) NotifyChanged(service, characteristic string, enabled bool) {
	if cb := f.callbacks().StartNotifyChanged; cb != nil {
		cb(service, characteristic, enabled)
	}
}

// ValueChanged delivers a CharacteristicValueChanged callback.
func (f *FakeIODevice) ValueChanged(service, characteristic string, value []byte) {
	if cb := f.callbacks().CharacteristicValueChanged; cb != nil {
		cb(service, characteristic, value)
	}
}

// CompleteWrite delivers a CharacteristicWritten callback.
func (f *FakeIODevice) CompleteWrite(service, characteristic string) {
	if cb := f.callbacks().CharacteristicWritten; cb != nil {
		cb(service, characteristic)
	}
}
