package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/dfu"
)

// ProgressFunc receives DFU progress. It runs on the event queue and must
// not block.
type ProgressFunc func(dfu.Progress)

// RunDFU transfers pkg to the bootloader at address. It returns nil once
// the firmware is executed, device.ErrTimeout when the bootloader went
// quiet, the *device.ProtocolError that stalled the transfer, or the
// context error.
func (m *Manager) RunDFU(ctx context.Context, address string, pkg *dfu.Package, progress ProgressFunc) error {
	if pkg == nil || len(pkg.Firmware) == 0 {
		return fmt.Errorf("%w: no firmware", dfu.ErrInvalidPackage)
	}

	io, err := m.connect(ctx, address)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	hooks := dfu.Hooks{
		OnStateChange: func(st dfu.State) {
			m.logger.WithFields(logrus.Fields{
				"address": address,
				"state":   st.String(),
			}).Debug("DFU phase")
		},
		OnProgress: func(p dfu.Progress) {
			if progress != nil {
				progress(p)
			}
		},
		OnComplete: func() { signal(result, nil) },
		OnTimeout:  func() { signal(result, device.ErrTimeout) },
		OnProtocolError: func(perr *device.ProtocolError) {
			signal(result, perr)
		},
	}

	var dev *dfu.Device
	var discoverErr error
	if err := m.queue.Do(ctx, func() {
		dev = dfu.New(io, m.queue, pkg.InitPacket, pkg.Firmware, m.opts.DFU, hooks, m.logger)
		dev.ConnectedSet(true)
		discoverErr = dev.ServicesDiscover()
	}); err != nil {
		_ = io.Close()
		return err
	}
	defer m.closeOnQueue(dev.Close)

	if discoverErr != nil {
		return fmt.Errorf("discover services: %w", discoverErr)
	}

	m.logger.WithFields(logrus.Fields{
		"address":     address,
		"kind":        pkg.Kind,
		"init_packet": len(pkg.InitPacket),
		"firmware":    len(pkg.Firmware),
	}).Info("Starting DFU")

	select {
	case err = <-result:
	case <-linkLost(io):
		// the bootloader resets once the firmware is executed
		select {
		case err = <-result:
		default:
			return disconnectedError(address)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		return fmt.Errorf("DFU %s: %w", address, err)
	}
	m.logger.WithField("address", address).Info("DFU finished")
	return nil
}
