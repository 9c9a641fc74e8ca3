package device

// Protocol implementations opt into the transport events they care about by
// implementing any subset of the interfaces below. Events without a matching
// hook are dropped after bookkeeping.

// ServiceAddedHandler is notified when discovery finds a service.
type ServiceAddedHandler interface {
	DidAddService(service string)
}

// CharacteristicAddedHandler is notified when discovery finds a characteristic.
type CharacteristicAddedHandler interface {
	DidAddCharacteristic(service, characteristic string)
}

// DescriptorAddedHandler is notified when discovery finds a descriptor.
type DescriptorAddedHandler interface {
	DidAddDescriptor(service, characteristic, descriptor string)
}

// StartNotifyHandler is notified when the notification state of a characteristic changes.
type StartNotifyHandler interface {
	DidUpdateStartNotify(service, characteristic string, enabled bool)
}

// ValueChangedHandler receives characteristic reads and notifications.
type ValueChangedHandler interface {
	DidChangeCharacteristicValue(service, characteristic string, value []byte)
}

// WriteCompletedHandler is notified when a queued write completes. It runs
// before the next queued write for the same characteristic is issued.
type WriteCompletedHandler interface {
	DidWriteCharacteristic(service, characteristic string)
}
