package device

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/pulsectl/internal/eventqueue"
)

// WriteKey identifies the write queue of one characteristic.
type WriteKey struct {
	Service        string
	Characteristic string
}

// WriteRequest is one queued characteristic write. It is immutable once queued.
type WriteRequest struct {
	Service        string
	Characteristic string
	Data           []byte
}

func (r WriteRequest) key() WriteKey {
	return WriteKey{Service: r.Service, Characteristic: r.Characteristic}
}

// Device wraps one IODevice, serialises writes per characteristic and
// marshals every transport callback onto its event queue before dispatching
// it to the hook set.
//
// All methods except the pass-through queries must be called on the event
// queue goroutine (or via Queue.Do).
type Device struct {
	io     IODevice
	queue  *eventqueue.Queue
	hooks  any
	logger *logrus.Logger

	// front element of each queue is the in-flight write
	writes *orderedmap.OrderedMap[WriteKey, []WriteRequest]
	closed bool
}

// New wraps io. hooks may implement any subset of the *Handler interfaces in
// this package; nil disables dispatch.
func New(io IODevice, queue *eventqueue.Queue, hooks any, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}

	d := &Device{
		io:     io,
		queue:  queue,
		hooks:  hooks,
		logger: logger,
		writes: orderedmap.New[WriteKey, []WriteRequest](),
	}
	io.SetCallbacks(d.callbacks())
	return d
}

// SetHooks replaces the hook set. It is meant for embedding types that
// construct the Device before they exist themselves.
func (d *Device) SetHooks(hooks any) {
	d.hooks = hooks
}

// Queue returns the event queue the device dispatches on.
func (d *Device) Queue() *eventqueue.Queue { return d.queue }

// Logger returns the device logger.
func (d *Device) Logger() *logrus.Logger { return d.logger }

func (d *Device) ID() string                   { return d.io.ID() }
func (d *Device) Name() string                 { return d.io.Name() }
func (d *Device) AdvertisedServices() []string { return d.io.AdvertisedServices() }

func (d *Device) PairedSet(paired bool)       { d.io.SetPaired(paired) }
func (d *Device) Paired() bool                { return d.io.Paired() }
func (d *Device) ConnectedSet(connected bool) { d.io.SetConnected(connected) }
func (d *Device) Connected() bool             { return d.io.Connected() }

// ServicesDiscover starts GATT discovery.
func (d *Device) ServicesDiscover() error {
	if d.closed {
		return ErrNotConnected
	}
	return d.io.DiscoverServices()
}

// CharacteristicStartNotifySet enables or disables notifications.
func (d *Device) CharacteristicStartNotifySet(service, characteristic string, enabled bool) error {
	if d.closed {
		return ErrNotConnected
	}
	return d.io.SetNotify(NormalizeUUID(service), NormalizeUUID(characteristic), enabled)
}

// CharacteristicRead requests a read; the value arrives through the
// ValueChangedHandler hook.
func (d *Device) CharacteristicRead(service, characteristic string) error {
	if d.closed {
		return ErrNotConnected
	}
	return d.io.ReadCharacteristic(NormalizeUUID(service), NormalizeUUID(characteristic))
}

// CharacteristicWrite queues a write. The first write for a characteristic
// is issued immediately; later ones wait until the previous write for the
// same characteristic completes.
func (d *Device) CharacteristicWrite(service, characteristic string, data []byte) {
	if d.closed {
		d.logger.WithFields(logrus.Fields{
			"service_uuid": service,
			"char_uuid":    characteristic,
		}).Debug("Write on closed device discarded")
		return
	}

	req := WriteRequest{
		Service:        NormalizeUUID(service),
		Characteristic: NormalizeUUID(characteristic),
		Data:           append([]byte(nil), data...),
	}
	key := req.key()

	pending, exists := d.writes.Get(key)
	d.writes.Set(key, append(pending, req))
	if exists && len(pending) > 0 {
		return
	}
	d.issue(key)
}

// PendingWrites returns the number of writes queued for a characteristic,
// including the one in flight.
func (d *Device) PendingWrites(service, characteristic string) int {
	pending, _ := d.writes.Get(WriteKey{Service: NormalizeUUID(service), Characteristic: NormalizeUUID(characteristic)})
	return len(pending)
}

// issue sends the front request of key's queue. Requests the transport
// rejects outright are dropped so the rest of the queue keeps moving.
func (d *Device) issue(key WriteKey) {
	for {
		pending, ok := d.writes.Get(key)
		if !ok || len(pending) == 0 {
			d.writes.Delete(key)
			return
		}

		front := pending[0]
		err := d.io.WriteCharacteristic(front.Service, front.Characteristic, front.Data)
		if err == nil {
			return
		}

		d.logger.WithFields(logrus.Fields{
			"service_uuid": front.Service,
			"char_uuid":    front.Characteristic,
			"error":        err,
		}).Warn("Characteristic write rejected, dropping request")
		d.writes.Set(key, pending[1:])
	}
}

func (d *Device) writeCompleted(service, characteristic string) {
	if h, ok := d.hooks.(WriteCompletedHandler); ok {
		h.DidWriteCharacteristic(service, characteristic)
	}

	key := WriteKey{Service: service, Characteristic: characteristic}
	pending, ok := d.writes.Get(key)
	if !ok || len(pending) == 0 {
		d.logger.WithFields(logrus.Fields{
			"service_uuid": service,
			"char_uuid":    characteristic,
		}).Debug("Write completion without queued request")
		return
	}

	d.writes.Set(key, pending[1:])
	d.issue(key)
}

// Close discards queued writes and releases the transport handle.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	discarded := 0
	for pair := d.writes.Oldest(); pair != nil; pair = pair.Next() {
		if n := len(pair.Value); n > 1 {
			discarded += n - 1
		}
	}
	d.writes = orderedmap.New[WriteKey, []WriteRequest]()
	if discarded > 0 {
		d.logger.WithFields(logrus.Fields{
			"device":    d.io.ID(),
			"discarded": discarded,
		}).Info("Discarded queued writes on close")
	}

	return d.io.Close()
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool { return d.closed }

func (d *Device) callbacks() Callbacks {
	return Callbacks{
		ServiceAdded: func(service string) {
			service = NormalizeUUID(service)
			d.post(func() {
				if h, ok := d.hooks.(ServiceAddedHandler); ok {
					h.DidAddService(service)
				}
			})
		},
		CharacteristicAdded: func(service, characteristic string) {
			service, characteristic = NormalizeUUID(service), NormalizeUUID(characteristic)
			d.post(func() {
				if h, ok := d.hooks.(CharacteristicAddedHandler); ok {
					h.DidAddCharacteristic(service, characteristic)
				}
			})
		},
		DescriptorAdded: func(service, characteristic, descriptor string) {
			service, characteristic, descriptor = NormalizeUUID(service), NormalizeUUID(characteristic), NormalizeUUID(descriptor)
			d.post(func() {
				if h, ok := d.hooks.(DescriptorAddedHandler); ok {
					h.DidAddDescriptor(service, characteristic, descriptor)
				}
			})
		},
		StartNotifyChanged: func(service, characteristic string, enabled bool) {
			service, characteristic = NormalizeUUID(service), NormalizeUUID(characteristic)
			d.post(func() {
				if h, ok := d.hooks.(StartNotifyHandler); ok {
					h.DidUpdateStartNotify(service, characteristic, enabled)
				}
			})
		},
		CharacteristicValueChanged: func(service, characteristic string, value []byte) {
			service, characteristic = NormalizeUUID(service), NormalizeUUID(characteristic)
			value = append([]byte(nil), value...)
			d.post(func() {
				if h, ok := d.hooks.(ValueChangedHandler); ok {
					h.DidChangeCharacteristicValue(service, characteristic, value)
				}
			})
		},
		CharacteristicWritten: func(service, characteristic string) {
			service, characteristic = NormalizeUUID(service), NormalizeUUID(characteristic)
			d.post(func() {
				d.writeCompleted(service, characteristic)
			})
		},
	}
}

// post runs fn on the event queue unless the device has been closed by then.
func (d *Device) post(fn func()) {
	d.queue.Post(func() {
		if d.closed {
			return
		}
		fn()
	})
}
