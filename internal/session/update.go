package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/dfu"
)

// Update phases reported to UpdateProgress.OnPhase.
const (
	PhaseConnecting        = "connecting"
	PhaseEnteringDFU       = "entering bootloader"
	PhaseFindingBootloader = "finding bootloader"
	PhaseTransferring      = "transferring"
	PhaseDone              = "done"
)

// UpdateProgress receives Update milestones. Either field may be nil.
type UpdateProgress struct {
	OnPhase    func(phase string)
	OnTransfer ProgressFunc
}

func (p UpdateProgress) phase(name string) {
	if p.OnPhase != nil {
		p.OnPhase(name)
	}
}

// Update runs a complete firmware update: it connects to the accessory,
// restarts it into the bootloader, finds the bootloader by its advertised
// name and transfers pkg. It returns the firmware version reported before
// the update.
func (m *Manager) Update(ctx context.Context, address string, pkg *dfu.Package, progress UpdateProgress) (string, error) {
	progress.phase(PhaseConnecting)
	ps, err := m.ConnectPulse(ctx, address)
	if err != nil {
		return "", err
	}

	info, err := ps.Info(ctx)
	if err != nil {
		ps.Close()
		return "", err
	}
	m.logger.WithFields(logrus.Fields{
		"address":          address,
		"firmware_version": info.FirmwareVersion,
		"serial_number":    info.SerialNumber,
	}).Info("Updating Pulse")

	progress.phase(PhaseEnteringDFU)
	err = ps.EnterBootloader(ctx, m.opts.BootloaderName)
	ps.Close()
	if err != nil {
		return info.FirmwareVersion, err
	}

	progress.phase(PhaseFindingBootloader)
	boot, err := m.find(ctx, m.opts.BootloaderName, m.opts.BootloaderScanTimeout)
	if err != nil {
		return info.FirmwareVersion, fmt.Errorf("find bootloader %q: %w", m.opts.BootloaderName, err)
	}

	progress.phase(PhaseTransferring)
	if err := m.RunDFU(ctx, boot.Address, pkg, progress.OnTransfer); err != nil {
		return info.FirmwareVersion, err
	}

	progress.phase(PhaseDone)
	return info.FirmwareVersion, nil
}
