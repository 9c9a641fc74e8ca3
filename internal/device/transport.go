package device

// Callbacks receives asynchronous results from an IODevice. Implementations
// may invoke them on any goroutine; Device marshals them onto its event queue.
type Callbacks struct {
	ServiceAdded               func(service string)
	CharacteristicAdded        func(service, characteristic string)
	DescriptorAdded            func(service, characteristic, descriptor string)
	StartNotifyChanged         func(service, characteristic string, enabled bool)
	CharacteristicValueChanged func(service, characteristic string, value []byte)
	CharacteristicWritten      func(service, characteristic string)
}

// IODevice is the transport handle of one discovered BLE peripheral.
//
// Requests are fire-and-forget: a returned error means the request was
// rejected immediately, otherwise its outcome is delivered via Callbacks.
// UUID arguments and callback UUIDs are normalised (see NormalizeUUID).
type IODevice interface {
	ID() string
	Name() string
	AdvertisedServices() []string

	Paired() bool
	SetPaired(paired bool)
	Connected() bool
	SetConnected(connected bool)

	// SetCallbacks installs the callback set. It replaces any previous set.
	SetCallbacks(cb Callbacks)

	// DiscoverServices starts GATT discovery; results arrive through
	// ServiceAdded, CharacteristicAdded and DescriptorAdded.
	DiscoverServices() error
	// SetNotify enables or disables notifications; confirmed by StartNotifyChanged.
	SetNotify(service, characteristic string, enabled bool) error
	// ReadCharacteristic reads a value; delivered by CharacteristicValueChanged.
	ReadCharacteristic(service, characteristic string) error
	// WriteCharacteristic writes a value; confirmed by CharacteristicWritten.
	WriteCharacteristic(service, characteristic string, data []byte) error

	// Close releases the peripheral handle.
	Close() error
}
