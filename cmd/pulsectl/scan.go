package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/bledb"
	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Pulse accessories and DFU bootloaders",
	Long: `Scan for Bluetooth Low Energy advertisers and classify them as Pulse
accessories, DFU bootloaders or other devices.

Examples:
  # Pulse accessories and bootloaders only
  pulsectl scan

  # Every advertiser, as JSON
  pulsectl scan --kind all --format json

  # Keep scanning and refresh the table
  pulsectl scan --watch`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanKind        string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
	scanWatch       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json; default from config)")
	scanCmd.Flags().StringVarP(&scanKind, "kind", "k", "accessories", "Advertisers to list (accessories, pulse, bootloader, all)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

// parseKinds maps the --kind flag onto scanner kinds; nil means all.
func parseKinds(s string) ([]scanner.Kind, error) {
	switch s {
	case "accessories":
		return []scanner.Kind{scanner.KindPulse, scanner.KindBootloader}, nil
	case "pulse":
		return []scanner.Kind{scanner.KindPulse}, nil
	case "bootloader":
		return []scanner.Kind{scanner.KindBootloader}, nil
	case "all":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid kind %q: must be one of accessories, pulse, bootloader, all", s)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	kinds, err := parseKinds(scanKind)
	if err != nil {
		return err
	}

	var serviceUUIDs []string
	if len(scanServices) > 0 {
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	env, err := setupCommand(cmd)
	if err != nil {
		return err
	}

	format := env.cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if !slices.Contains([]string{"table", "json"}, format) {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	duration := env.cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		duration = scanDuration
	} else if scanWatch {
		duration = 0 // Indefinite
	}

	opts := &scanner.ScanOptions{
		Duration:        duration,
		DuplicateFilter: scanNoDuplicate,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
		Kinds:           kinds,
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s := scanner.NewScanner(env.logger)
	if scanWatch {
		return runWatchMode(ctx, cmd.OutOrStdout(), s, opts, format)
	}
	return runSingleScan(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), s, opts, format)
}

func runSingleScan(ctx context.Context, out, status io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions, format string) error {
	progress := NewCountdownProgressPrinter(status, "Scanning for Pulse devices", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return displayAccessories(out, devices, format)
}

func runWatchMode(ctx context.Context, out io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions, format string) error {
	devices := make(map[string]scanner.Accessory)

	scanErrCh := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil) // No progress callback for watch mode
		scanErrCh <- err
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return displayAccessories(out, devices, format)

		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			// finite --duration: show the final table
			return displayAccessories(out, devices, format)

		case <-ticker.C:
			clearScreen(out)
			_ = displayAccessories(out, devices, format)

		case ev := <-s.Events():
			devices[ev.Accessory.Address] = ev.Accessory
		}
	}
}

// kindRank lists Pulse accessories first, then bootloaders.
var kindRank = map[scanner.Kind]int{
	scanner.KindPulse:      0,
	scanner.KindBootloader: 1,
	scanner.KindUnknown:    2,
}

// sortedAccessories orders accessories by kind, then signal strength.
func sortedAccessories(devices map[string]scanner.Accessory) []scanner.Accessory {
	list := make([]scanner.Accessory, 0, len(devices))
	for _, a := range devices {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Kind != list[j].Kind {
			return kindRank[list[i].Kind] < kindRank[list[j].Kind]
		}
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

func displayAccessories(out io.Writer, devices map[string]scanner.Accessory, format string) error {
	list := sortedAccessories(devices)

	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	colored := isTerminal(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tKIND\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, a := range list {
		name := a.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		labels := make([]string, 0, len(a.Services))
		for _, s := range a.Services {
			if known := bledb.LookupService(s); known != "" {
				s = known
			}
			labels = append(labels, s)
		}
		services := strings.Join(labels, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		kind := a.Kind.String()
		if colored {
			// tabwriter counts escape bytes, so every kind cell carries one
			switch a.Kind {
			case scanner.KindPulse:
				kind = successColor.Sprint(kind)
			case scanner.KindBootloader:
				kind = noticeColor.Sprint(kind)
			default:
				kind = failureColor.Sprint(kind)
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s\t%s ago\n",
			name, a.Address, kind, a.RSSI, services, time.Since(a.LastSeen).Truncate(time.Second))
	}

	return w.Flush()
}

func clearScreen(out io.Writer) {
	if isTerminal(out) {
		fmt.Fprint(out, "\033[2J\033[H")
	}
}
