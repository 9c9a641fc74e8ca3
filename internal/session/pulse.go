package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/pulse"
)

// Info describes a connected accessory.
type Info struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	FirmwareVersion string `json:"firmwareVersion"`
	SerialNumber    string `json:"serialNumber"`
}

// PulseSession is an authenticated connection to a Pulse accessory.
type PulseSession struct {
	m       *Manager
	dev     *pulse.Device
	address string
	lost    <-chan struct{}

	ready     chan error
	restarted chan error
}

// ConnectPulse connects to the accessory at address and returns once it has
// authenticated the client and reported its firmware version.
func (m *Manager) ConnectPulse(ctx context.Context, address string) (*PulseSession, error) {
	io, err := m.connect(ctx, address)
	if err != nil {
		return nil, err
	}

	s := &PulseSession{
		m:         m,
		address:   address,
		lost:      linkLost(io),
		ready:     make(chan error, 1),
		restarted: make(chan error, 1),
	}
	hooks := pulse.Hooks{
		OnAuthenticated: func() {
			m.logger.WithField("address", address).Debug("Authenticated, waiting for device info")
		},
		OnFirmwareVerify: func(string, string) { signal(s.ready, nil) },
		OnBootloaderRestart: func() {
			signal(s.restarted, nil)
		},
		OnProtocolError: func(perr *device.ProtocolError) {
			signal(s.ready, perr)
			signal(s.restarted, perr)
		},
	}

	var discoverErr error
	if err := m.queue.Do(ctx, func() {
		s.dev = pulse.New(io, m.queue, hooks, m.logger)
		s.dev.ConnectedSet(true)
		discoverErr = s.dev.ServicesDiscover()
	}); err != nil {
		_ = io.Close()
		return nil, err
	}
	if discoverErr != nil {
		s.Close()
		return nil, fmt.Errorf("discover services: %w", discoverErr)
	}

	if err := s.wait(ctx, s.ready); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to Pulse %s: %w", address, err)
	}

	m.logger.WithFields(logrus.Fields{
		"address":          address,
		"firmware_version": s.dev.FirmwareVersion(),
	}).Info("Pulse session established")
	return s, nil
}

func (s *PulseSession) wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-s.lost:
		// the accessory drops the link right after some acknowledgements
		select {
		case err := <-ch:
			return err
		default:
		}
		return disconnectedError(s.address)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PulseSession) do(ctx context.Context, fn func()) error {
	return s.m.queue.Do(ctx, fn)
}

// flush waits until the transport confirmed every queued command write.
func (s *PulseSession) flush(ctx context.Context) error {
	ticker := time.NewTicker(s.m.opts.PollInterval)
	defer ticker.Stop()

	for {
		pending := 0
		if err := s.do(ctx, func() { pending = s.dev.CommandsPending() }); err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-s.lost:
			return disconnectedError(s.address)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// command runs fn on the queue and waits for its writes to be confirmed.
func (s *PulseSession) command(ctx context.Context, fn func(d *pulse.Device)) error {
	if err := s.do(ctx, func() { fn(s.dev) }); err != nil {
		return err
	}
	return s.flush(ctx)
}

// Info returns the identity reported by the accessory.
func (s *PulseSession) Info(ctx context.Context) (Info, error) {
	var info Info
	err := s.do(ctx, func() {
		info = Info{
			Address:         s.dev.ID(),
			Name:            s.dev.Name(),
			FirmwareVersion: s.dev.FirmwareVersion(),
			SerialNumber:    s.dev.SerialNumber(),
		}
	})
	return info, err
}

// PresetRing plays a stored ring pattern.
func (s *PulseSession) PresetRing(ctx context.Context, pattern pulse.Pattern, c pulse.Color, brightness uint8) error {
	return s.command(ctx, func(d *pulse.Device) {
		d.PresetRingPatternStart(pattern, c.R, c.G, c.B, brightness)
	})
}

// CustomRing uploads and plays frames.
func (s *PulseSession) CustomRing(ctx context.Context, frames []pulse.Frame) error {
	return s.command(ctx, func(d *pulse.Device) { d.CustomRingPatternStart(frames) })
}

// StopRing stops the ring pattern.
func (s *PulseSession) StopRing(ctx context.Context) error {
	return s.command(ctx, func(d *pulse.Device) { d.RingStop() })
}

// SetMissed switches the missed-call indicator.
func (s *PulseSession) SetMissed(ctx context.Context, on bool) error {
	return s.command(ctx, func(d *pulse.Device) { d.MissedSet(on) })
}

// SetSignmail switches the signmail indicator.
func (s *PulseSession) SetSignmail(ctx context.Context, on bool) error {
	return s.command(ctx, func(d *pulse.Device) { d.SignmailSet(on) })
}

// AllOff turns every indicator off.
func (s *PulseSession) AllOff(ctx context.Context) error {
	return s.command(ctx, func(d *pulse.Device) { d.AllOff() })
}

// EnterBootloader restarts the accessory into its DFU bootloader advertising
// name and waits for the acknowledgement. The session is unusable afterwards.
func (s *PulseSession) EnterBootloader(ctx context.Context, name string) error {
	// drop a protocol error left over from earlier exchanges
	select {
	case <-s.restarted:
	default:
	}

	if err := s.do(ctx, func() { s.dev.RestartInBootloader(name) }); err != nil {
		return err
	}
	if err := s.wait(ctx, s.restarted); err != nil {
		return fmt.Errorf("restart in bootloader: %w", err)
	}
	return nil
}

// Close disconnects from the accessory.
func (s *PulseSession) Close() {
	s.m.closeOnQueue(s.dev.Close)
}
