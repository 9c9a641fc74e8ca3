package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/session"
)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update <address> <package.zip>",
	Short: "Update the firmware of a Pulse accessory",
	Long: `Run a complete firmware update: connect to the accessory, restart it into
its DFU bootloader, find the bootloader by name and transfer the package.

Examples:
  pulsectl update ` + exampleDeviceAddress + ` app_dfu_package.zip`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

func init() {
	addTransferFlags(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
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
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Updating "+address, session.PhaseConnecting, session.PhaseDone)
	phase := progress.Callback()
	progress.Start()
	previous, err := m.Update(ctx, address, pkg, session.UpdateProgress{
		OnPhase: phase,
		OnTransfer: func(p dfu.Progress) {
			progress.SetPercent(p.Percent)
		},
	})
	progress.Stop()
	if err != nil {
		return err
	}

	printStatus(out, true, "%s: updated from firmware %s", address, previous)
	fmt.Fprintln(out, "The accessory restarts with the new firmware shortly.")
	return nil
}
