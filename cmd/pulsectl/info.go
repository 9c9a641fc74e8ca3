package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/session"
)

var infoFormat string

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <address>",
	Short: "Show firmware version and serial number of a Pulse accessory",
	Long: `Connect to a Pulse accessory, authenticate and print the identity it reports.

Examples:
  pulsectl info ` + exampleDeviceAddress + `
  pulsectl info ` + exampleDeviceAddress + ` --format json

` + deviceAddressNote,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", "", "Output format (table, json; default from config)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	env, err := setupCommand(cmd)
	if err != nil {
		return err
	}

	format := env.cfg.OutputFormat
	if infoFormat != "" {
		format = infoFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	return connectPulse(cmd, env, args[0], func(ctx context.Context, ps *session.PulseSession) error {
		info, err := ps.Info(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			return encoder.Encode(info)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Address:\t%s\n", info.Address)
		fmt.Fprintf(w, "Name:\t%s\n", info.Name)
		fmt.Fprintf(w, "Firmware:\t%s\n", info.FirmwareVersion)
		fmt.Fprintf(w, "Serial:\t%s\n", info.SerialNumber)
		return w.Flush()
	})
}
