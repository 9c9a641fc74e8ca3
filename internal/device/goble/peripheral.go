// Package goble implements device.IODevice on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/eventqueue"
	"github.com/srg/pulsectl/internal/groutine"
)

// gattClient is the subset of ble.Client the transport uses.
type gattClient interface {
	Addr() ble.Addr
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// DialOptions configures Dial.
type DialOptions struct {
	ConnectTimeout time.Duration
	// Name and Services come from the advertisement the address was found in.
	Name     string
	Services []string
}

// Peripheral is a connected go-ble client exposed as a device.IODevice.
//
// go-ble calls block, so requests are queued to a per-peripheral worker and
// their results reported through the installed callbacks.
type Peripheral struct {
	client   gattClient
	id       string
	name     string
	services []string
	logger   *logrus.Logger

	worker *eventqueue.Queue
	cancel context.CancelFunc
	lost   chan struct{}

	mu        sync.RWMutex
	cb        device.Callbacks
	chars     map[device.WriteKey]*ble.Characteristic
	paired    bool
	connected bool
	closeOnce sync.Once
}

var _ device.IODevice = (*Peripheral)(nil)

// Dial connects to address and returns the peripheral.
func Dial(ctx context.Context, address string, opts DialOptions, logger *logrus.Logger) (*Peripheral, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	if _, err := HostDevice(); err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	connCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	// the connection outlives the dial context
	linkCtx := context.WithoutCancel(ctx)
	p := newPeripheral(linkCtx, client, opts.Name, opts.Services, logger)
	p.SetConnected(true)

	// Darwin clients report link loss on a channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(linkCtx, "ble-disconnect-monitor-"+address, func(monitorCtx context.Context) {
			select {
			case <-dc.Disconnected():
				logger.WithField("address", address).Warn("Peripheral disconnected")
				p.linkLost()
			case <-p.lost:
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}

	logger.WithField("address", address).Info("BLE device connected")
	return p, nil
}

func newPeripheral(ctx context.Context, client gattClient, name string, services []string, logger *logrus.Logger) *Peripheral {
	id := client.Addr().String()
	if name == "" {
		name = client.Name()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p := &Peripheral{
		client:   client,
		id:       id,
		name:     name,
		services: device.NormalizeUUIDs(services),
		logger:   logger,
		worker:   eventqueue.New("ble-io-"+id, logger),
		cancel:   cancel,
		lost:     make(chan struct{}),
		chars:    make(map[device.WriteKey]*ble.Characteristic),
	}
	p.worker.Start(workerCtx)
	return p
}

func (p *Peripheral) ID() string   { return p.id }
func (p *Peripheral) Name() string { return p.name }

func (p *Peripheral) AdvertisedServices() []string {
	return append([]string(nil), p.services...)
}

func (p *Peripheral) Paired() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paired
}

func (p *Peripheral) SetPaired(paired bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired = paired
}

func (p *Peripheral) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Peripheral) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

func (p *Peripheral) SetCallbacks(cb device.Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

func (p *Peripheral) callbacks() device.Callbacks {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cb
}

// Disconnected is closed when the link is lost or the peripheral is closed.
func (p *Peripheral) Disconnected() <-chan struct{} {
	return p.lost
}

func (p *Peripheral) linkLost() {
	p.closeOnce.Do(func() {
		p.SetConnected(false)
		close(p.lost)
		p.worker.Stop()
		p.cancel()
	})
}

func (p *Peripheral) characteristic(service, characteristic string) (*ble.Characteristic, error) {
	key := device.WriteKey{Service: device.NormalizeUUID(service), Characteristic: device.NormalizeUUID(characteristic)}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return nil, device.ErrNotConnected
	}
	c, ok := p.chars[key]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{key.Service, key.Characteristic}}
	}
	return c, nil
}

// DiscoverServices discovers the GATT profile and reports every attribute.
func (p *Peripheral) DiscoverServices() error {
	if !p.Connected() {
		return device.ErrNotConnected
	}
	p.worker.Post(p.discover)
	return nil
}

func (p *Peripheral) discover() {
	profile, err := p.client.DiscoverProfile(true)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"address": p.id,
			"error":   NormalizeError(err),
		}).Error("Failed to discover profile")
		return
	}

	p.mu.Lock()
	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			p.chars[device.WriteKey{Service: svcUUID, Characteristic: device.NormalizeUUID(c.UUID.String())}] = c
		}
	}
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":  p.id,
		"services": len(profile.Services),
	}).Debug("Profile discovered successfully")

	cb := p.callbacks()
	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		if cb.ServiceAdded != nil {
			cb.ServiceAdded(svcUUID)
		}
		for _, c := range svc.Characteristics {
			charUUID := device.NormalizeUUID(c.UUID.String())
			if cb.CharacteristicAdded != nil {
				cb.CharacteristicAdded(svcUUID, charUUID)
			}
			for _, d := range c.Descriptors {
				if cb.DescriptorAdded != nil {
					cb.DescriptorAdded(svcUUID, charUUID, device.NormalizeUUID(d.UUID.String()))
				}
			}
		}
	}
}

// SetNotify subscribes to notifications, or indications when the
// characteristic only supports those.
func (p *Peripheral) SetNotify(service, characteristic string, enabled bool) error {
	c, err := p.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	service, characteristic = device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	p.worker.Post(func() {
		log := p.logger.WithFields(logrus.Fields{
			"service_uuid": service,
			"char_uuid":    characteristic,
			"enabled":      enabled,
		})

		var err error
		if enabled {
			err = p.client.Subscribe(c, indicate, func(data []byte) {
				if cb := p.callbacks().CharacteristicValueChanged; cb != nil {
					cb(service, characteristic, data)
				}
			})
		} else {
			err = p.client.Unsubscribe(c, indicate)
		}
		if err != nil {
			log.WithField("error", NormalizeError(err)).Warn("Failed to change notification state")
			return
		}

		log.Debug("Notification state changed")
		if cb := p.callbacks().StartNotifyChanged; cb != nil {
			cb(service, characteristic, enabled)
		}
	})
	return nil
}

// ReadCharacteristic reads a value and reports it as a value change.
func (p *Peripheral) ReadCharacteristic(service, characteristic string) error {
	c, err := p.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	service, characteristic = device.NormalizeUUID(service), device.NormalizeUUID(characteristic)

	p.worker.Post(func() {
		data, err := p.client.ReadCharacteristic(c)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"service_uuid": service,
				"char_uuid":    characteristic,
				"error":        NormalizeError(err),
			}).Warn("Characteristic read failed")
			return
		}
		if cb := p.callbacks().CharacteristicValueChanged; cb != nil {
			cb(service, characteristic, data)
		}
	})
	return nil
}

// WriteCharacteristic writes data, without response when the characteristic
// only supports that, and reports completion.
func (p *Peripheral) WriteCharacteristic(service, characteristic string, data []byte) error {
	c, err := p.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	service, characteristic = device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	noRsp := c.Property&ble.CharWrite == 0 && c.Property&ble.CharWriteNR != 0
	data = append([]byte(nil), data...)

	p.worker.Post(func() {
		if err := p.client.WriteCharacteristic(c, data, noRsp); err != nil {
			p.logger.WithFields(logrus.Fields{
				"service_uuid": service,
				"char_uuid":    characteristic,
				"error":        NormalizeError(err),
			}).Warn("Characteristic write failed")
			return
		}
		if cb := p.callbacks().CharacteristicWritten; cb != nil {
			cb(service, characteristic)
		}
	})
	return nil
}

// Close cancels the connection and stops the worker.
func (p *Peripheral) Close() error {
	wasConnected := p.Connected()
	p.linkLost()
	if !wasConnected {
		return nil
	}
	if err := p.client.CancelConnection(); err != nil {
		return fmt.Errorf("cancel connection: %w", NormalizeError(err))
	}
	return nil
}
