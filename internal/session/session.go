// Package session runs accessory workflows to completion. It owns the event
// queue the protocol devices dispatch on and turns their hook callbacks into
// blocking, context-aware calls.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/device/goble"
	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/eventqueue"
	"github.com/srg/pulsectl/scanner"
)

// Dialer connects to the peripheral at address.
type Dialer func(ctx context.Context, address string) (device.IODevice, error)

// Finder locates a peripheral advertising name.
type Finder func(ctx context.Context, name string, timeout time.Duration) (scanner.Accessory, error)

// Options configure a Manager.
type Options struct {
	ConnectTimeout time.Duration
	DFU            dfu.Options
	// BootloaderName is the advertising name requested from the accessory
	// when it restarts into its bootloader.
	BootloaderName        string
	BootloaderScanTimeout time.Duration
	// PollInterval paces waiting for queued command writes to drain.
	PollInterval time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:        30 * time.Second,
		DFU:                   dfu.DefaultOptions(),
		BootloaderName:        "PulseDFU",
		BootloaderScanTimeout: 30 * time.Second,
		PollInterval:          10 * time.Millisecond,
	}
}

// Option customises a Manager.
type Option func(*Manager)

// WithDialer replaces the go-ble dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithFinder replaces the scanner used to locate the bootloader.
func WithFinder(f Finder) Option {
	return func(m *Manager) { m.find = f }
}

// Manager owns the event queue shared by every device it creates.
type Manager struct {
	queue  *eventqueue.Queue
	logger *logrus.Logger
	opts   Options

	dial Dialer
	find Finder
}

// NewManager starts the event queue. It runs until ctx is cancelled or
// Close is called.
func NewManager(ctx context.Context, opts Options, logger *logrus.Logger, options ...Option) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultOptions()
	if opts.BootloaderName == "" {
		opts.BootloaderName = defaults.BootloaderName
	}
	if opts.BootloaderScanTimeout <= 0 {
		opts.BootloaderScanTimeout = defaults.BootloaderScanTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}

	m := &Manager{
		queue:  eventqueue.New("session", logger),
		logger: logger,
		opts:   opts,
	}
	m.dial = func(ctx context.Context, address string) (device.IODevice, error) {
		return goble.Dial(ctx, address, goble.DialOptions{ConnectTimeout: m.opts.ConnectTimeout}, logger)
	}
	m.find = func(ctx context.Context, name string, timeout time.Duration) (scanner.Accessory, error) {
		return scanner.NewScanner(logger).FindByName(ctx, name, timeout)
	}
	for _, o := range options {
		o(m)
	}

	m.queue.Start(ctx)
	return m
}

// Close stops the event queue. Devices still open are abandoned.
func (m *Manager) Close() {
	m.queue.Stop()
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

func (m *Manager) connect(ctx context.Context, address string) (device.IODevice, error) {
	io, err := m.dial(ctx, address)
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"address": address,
		"name":    io.Name(),
	}).Debug("Peripheral connected")
	return io, nil
}

// closeOnQueue closes a device from outside the queue. Close must not block
// on a cancelled caller context, so it uses its own deadline.
func (m *Manager) closeOnQueue(closer func() error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if doErr := m.queue.Do(ctx, func() { err = closer() }); doErr != nil {
		err = doErr
	}
	if err != nil {
		m.logger.WithError(err).Debug("Failed to close device")
	}
}

// linkLost returns a channel closed when the transport reports a lost
// link, or nil when it cannot tell.
func linkLost(io device.IODevice) <-chan struct{} {
	if d, ok := io.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	return nil
}

// signal delivers err to a one-slot channel unless a result is already pending.
func signal(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

func disconnectedError(address string) error {
	return fmt.Errorf("peripheral %s: %w", address, device.ErrNotConnected)
}
