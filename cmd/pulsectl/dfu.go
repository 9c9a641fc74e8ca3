package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/session"
)

var (
	dfuPRN        uint16
	dfuPacketSize int
	dfuTimeout    time.Duration
)

// dfuCmd represents the dfu command
var dfuCmd = &cobra.Command{
	Use:   "dfu <address> <package.zip>",
	Short: "Transfer a firmware package to a DFU bootloader",
	Long: `Transfer a firmware package to a device already running its DFU bootloader.

The package is a zip with a manifest.json naming the init packet (.dat)
and firmware image (.bin). Use 'pulsectl update' to restart a running
accessory into its bootloader first.

Examples:
  pulsectl dfu ` + exampleDeviceAddress + ` app_dfu_package.zip
  pulsectl dfu ` + exampleDeviceAddress + ` app_dfu_package.zip --prn 0 --packet-size 244`,
	Args: cobra.ExactArgs(2),
	RunE: runDFU,
}

func init() {
	addTransferFlags(dfuCmd)
}

// addTransferFlags registers the DFU tuning flags shared by dfu and update.
func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().Uint16Var(&dfuPRN, "prn", 0, "Packet receipt notification interval for the firmware (0 disables)")
	cmd.Flags().IntVar(&dfuPacketSize, "packet-size", 0, "Bytes per packet write (default from config)")
	cmd.Flags().DurationVar(&dfuTimeout, "timeout", 0, "Inactivity timeout (default from config)")
}

// transferOptions applies the flags the user set on top of the config.
func transferOptions(cmd *cobra.Command, env *commandEnv) (session.Options, error) {
	opts := env.sessionOptions()
	if cmd.Flags().Changed("prn") {
		opts.DFU.FirmwarePRN = dfuPRN
	}
	if cmd.Flags().Changed("packet-size") {
		if dfuPacketSize <= 0 {
			return opts, fmt.Errorf("packet size must be positive, got %d", dfuPacketSize)
		}
		opts.DFU.PacketSize = dfuPacketSize
	}
	if cmd.Flags().Changed("timeout") {
		if dfuTimeout <= 0 {
			return opts, fmt.Errorf("timeout must be positive, got %s", dfuTimeout)
		}
		opts.DFU.Timeout = dfuTimeout
	}
	return opts, nil
}

// transferPrinter feeds DFU progress into p.
func transferPrinter(p *ProgressPrinter) session.ProgressFunc {
	phase := p.Callback()
	var last dfu.State = -1
	return func(pr dfu.Progress) {
		if pr.State != last {
			last = pr.State
			phase(pr.State.String())
		}
		p.SetPercent(pr.Percent)
	}
}

func runDFU(cmd *cobra.Command, args []string) error {
	address, path := args[0], args[1]

	env, err := setupCommand(cmd)
	if err != nil {
		return err
	}
	opts, err := transferOptions(cmd, env)
	if err != nil {
		return err
	}

	pkg, err := dfu.LoadPackage(path)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	m := newManager(ctx, opts, env.logger)
	defer m.Close()

	out := cmd.OutOrStdout()
	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Updating %s (%s, %d bytes)", address, pkg.Kind, len(pkg.Firmware)), "connecting")
	progress.Start()
	err = m.RunDFU(ctx, address, pkg, transferPrinter(progress))
	progress.Stop()
	if err != nil {
		return err
	}

	printStatus(out, true, "%s: firmware transferred", address)
	return nil
}
