package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/pulsectl/internal/pulse"
	"github.com/srg/pulsectl/internal/session"
)

var (
	ringColor      string
	ringBrightness uint8
	ringFrames     []string
)

// ringCmd represents the ring command
var ringCmd = &cobra.Command{
	Use:   "ring <address> <action> [args]",
	Short: "Control the light ring of a Pulse accessory",
	Long: `Control the light ring and indicators of a Pulse accessory.

Actions:
  preset <pattern>   Play a pattern stored in firmware
  custom             Play frames given with --frame
  stop               Stop the running pattern
  missed on|off      Toggle the missed call indicator
  signmail on|off    Toggle the signmail indicator
  off                Turn every light off

Frames are written as RRGGBB:BRIGHTNESS:DURATION, for example ff0000:80:250ms.

Examples:
  pulsectl ring ` + exampleDeviceAddress + ` preset 2 --color 00ff00 --brightness 200
  pulsectl ring ` + exampleDeviceAddress + ` custom --frame ff0000:ff:250ms --frame 0000ff:ff:250ms
  pulsectl ring ` + exampleDeviceAddress + ` missed on`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRing,
}

func init() {
	ringCmd.Flags().StringVarP(&ringColor, "color", "c", "ffffff", "Pattern colour as RRGGBB")
	ringCmd.Flags().Uint8VarP(&ringBrightness, "brightness", "b", 255, "Pattern brightness (0-255)")
	ringCmd.Flags().StringArrayVar(&ringFrames, "frame", nil, "Custom pattern frame RRGGBB:BRIGHTNESS:DURATION (repeatable)")
}

// parseColor parses a hex RRGGBB colour, with or without a leading '#'.
func parseColor(s string) (pulse.Color, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(raw) != 3 {
		return pulse.Color{}, fmt.Errorf("invalid colour %q: expected RRGGBB", s)
	}
	return pulse.Color{R: raw[0], G: raw[1], B: raw[2]}, nil
}

// parseFrame parses RRGGBB:BRIGHTNESS:DURATION. Brightness is hex like the
// wire format, duration is a Go duration or plain milliseconds.
func parseFrame(s string) (pulse.Frame, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return pulse.Frame{}, fmt.Errorf("invalid frame %q: expected RRGGBB:BRIGHTNESS:DURATION", s)
	}

	c, err := parseColor(parts[0])
	if err != nil {
		return pulse.Frame{}, fmt.Errorf("invalid frame %q: %w", s, err)
	}

	brightness, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return pulse.Frame{}, fmt.Errorf("invalid frame %q: brightness must be 00-ff", s)
	}

	d, err := time.ParseDuration(parts[2])
	if err != nil {
		ms, msErr := strconv.ParseUint(parts[2], 10, 32)
		if msErr != nil {
			return pulse.Frame{}, fmt.Errorf("invalid frame %q: bad duration %q", s, parts[2])
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d <= 0 {
		return pulse.Frame{}, fmt.Errorf("invalid frame %q: duration must be positive", s)
	}

	return pulse.Frame{Color: c, Brightness: uint8(brightness), Duration: d}, nil
}

// parseSwitch parses on/off style arguments.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q: expected on or off", s)
}

// ringAction validates the action arguments and returns the command to run
// on the session.
func ringAction(args []string) (func(ctx context.Context, ps *session.PulseSession) error, error) {
	action, rest := args[0], args[1:]

	needArg := func() (string, error) {
		if len(rest) != 1 {
			return "", fmt.Errorf("%s requires exactly one argument", action)
		}
		return rest[0], nil
	}
	noArg := func() error {
		if len(rest) != 0 {
			return fmt.Errorf("%s takes no arguments", action)
		}
		return nil
	}

	switch action {
	case "preset":
		arg, err := needArg()
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: expected 0-255", arg)
		}
		c, err := parseColor(ringColor)
		if err != nil {
			return nil, err
		}
		brightness := ringBrightness
		return func(ctx context.Context, ps *session.PulseSession) error {
			return ps.PresetRing(ctx, pulse.Pattern(n), c, brightness)
		}, nil

	case "custom":
		if err := noArg(); err != nil {
			return nil, err
		}
		if len(ringFrames) == 0 {
			return nil, fmt.Errorf("custom requires at least one --frame")
		}
		frames := make([]pulse.Frame, 0, len(ringFrames))
		for _, s := range ringFrames {
			f, err := parseFrame(s)
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
		return func(ctx context.Context, ps *session.PulseSession) error {
			return ps.CustomRing(ctx, frames)
		}, nil

	case "stop":
		if err := noArg(); err != nil {
			return nil, err
		}
		return func(ctx context.Context, ps *session.PulseSession) error {
			return ps.StopRing(ctx)
		}, nil

	case "off":
		if err := noArg(); err != nil {
			return nil, err
		}
		return func(ctx context.Context, ps *session.PulseSession) error {
			return ps.AllOff(ctx)
		}, nil

	case "missed", "signmail":
		arg, err := needArg()
		if err != nil {
			return nil, err
		}
		on, err := parseSwitch(arg)
		if err != nil {
			return nil, err
		}
		if action == "missed" {
			return func(ctx context.Context, ps *session.PulseSession) error {
				return ps.SetMissed(ctx, on)
			}, nil
		}
		return func(ctx context.Context, ps *session.PulseSession) error {
			return ps.SetSignmail(ctx, on)
		}, nil
	}

	return nil, fmt.Errorf("unknown action %q: must be one of preset, custom, stop, missed, signmail, off", action)
}

func runRing(cmd *cobra.Command, args []string) error {
	// Validate before touching the radio
	run, err := ringAction(args[1:])
	if err != nil {
		return err
	}

	env, err := setupCommand(cmd)
	if err != nil {
		return err
	}

	address := args[0]
	return connectPulse(cmd, env, address, func(ctx context.Context, ps *session.PulseSession) error {
		if err := run(ctx, ps); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), true, "%s: %s", address, strings.Join(args[1:], " "))
		return nil
	})
}
