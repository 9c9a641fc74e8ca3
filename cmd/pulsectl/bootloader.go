package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/pulse"
	"github.com/srg/pulsectl/internal/session"
)

var bootloaderName string

// bootloaderCmd represents the bootloader command
var bootloaderCmd = &cobra.Command{
	Use:   "bootloader <address>",
	Short: "Restart a Pulse accessory into its DFU bootloader",
	Long: `Restart a Pulse accessory into its DFU bootloader.

The bootloader advertises under the given name (at most 20 bytes) and a new
address. Use 'pulsectl scan --kind bootloader' to find it afterwards.

Examples:
  pulsectl bootloader ` + exampleDeviceAddress + `
  pulsectl bootloader ` + exampleDeviceAddress + ` --name MyDFU`,
	Args: cobra.ExactArgs(1),
	RunE: runBootloader,
}

func init() {
	bootloaderCmd.Flags().StringVarP(&bootloaderName, "name", "n", "", "Bootloader advertising name (default from config)")
}

func runBootloader(cmd *cobra.Command, args []string) error {
	if len(bootloaderName) > pulse.MaxBootloaderNameLen {
		return fmt.Errorf("bootloader name must be at most %d bytes, got %d", pulse.MaxBootloaderNameLen, len(bootloaderName))
	}

	env, err := setupCommand(cmd)
	if err != nil {
		return err
	}

	name := env.cfg.Bootloader.Name
	if bootloaderName != "" {
		name = bootloaderName
	}

	address := args[0]
	return connectPulse(cmd, env, address, func(ctx context.Context, ps *session.PulseSession) error {
		if err := ps.EnterBootloader(ctx, name); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), true, "%s restarted into bootloader %q", address, name)
		return nil
	})
}
