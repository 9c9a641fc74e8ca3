package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/pulse"
	"github.com/srg/pulsectl/internal/testutils"
	"github.com/srg/pulsectl/pkg/config"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"bluetooth off", fmt.Errorf("scan: %w", device.ErrBluetoothOff), "Bluetooth is turned off or no adapter is available"},
		{"unsupported", device.ErrUnsupported, "Bluetooth is not supported on this platform"},
		{"timeout", fmt.Errorf("DFU x: %w", device.ErrTimeout), "the device stopped responding (timeout)"},
		{"disconnected", fmt.Errorf("C0:FF:EE: %w", device.ErrNotConnected), "the device disconnected: C0:FF:EE: " + device.ErrNotConnected.Error()},
		{"device not found", &device.NotFoundError{Resource: "device", UUIDs: []string{"PulseDFU"}}, (&device.NotFoundError{Resource: "device", UUIDs: []string{"PulseDFU"}}).Error() + "; make sure it is powered and advertising"},
		{"protocol error", &device.ProtocolError{Component: "dfu", Op: "checksum", Reason: "mismatch"}, "the device rejected the request: " + (&device.ProtocolError{Component: "dfu", Op: "checksum", Reason: "mismatch"}).Error()},
		{"invalid package", fmt.Errorf("%w: manifest lists no image", dfu.ErrInvalidPackage), "invalid DFU package: manifest lists no image; expected a Nordic DFU zip with manifest.json"},
		{"deadline", context.DeadlineExceeded, "operation timed out"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func newLoggerTestCommand(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().BoolP("verbose", "V", false, "")
	_ = cmd.Flags().Parse(args)
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	infoCfg := config.DefaultConfig()
	infoCfg.LogLevel = "info"

	tests := []struct {
		name string
		args []string
		cfg  *config.Config
		want logrus.Level
	}{
		{"config default", nil, cfg, logrus.ErrorLevel},
		{"config level", nil, infoCfg, logrus.InfoLevel},
		{"verbose", []string{"--verbose"}, cfg, logrus.DebugLevel},
		{"log level wins over verbose", []string{"--verbose", "--log-level", "warn"}, cfg, logrus.WarnLevel},
		{"log level wins over config", []string{"--log-level", "debug"}, infoCfg, logrus.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoggerTestCommand(tt.args...)
			logger, err := configureLogger(cmd, "verbose", tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		cmd := newLoggerTestCommand("--log-level", "trace")
		_, err := configureLogger(cmd, "verbose", cfg)
		assert.EqualError(t, err, "invalid log level: trace (must be debug, info, warn, or error)")
	})

	t.Run("logs go to stderr", func(t *testing.T) {
		cmd := newLoggerTestCommand("--log-level", "info")
		errOut := new(bytes.Buffer)
		cmd.SetErr(errOut)

		logger, err := configureLogger(cmd, "verbose", cfg)
		require.NoError(t, err)
		logger.Info("hello")
		assert.Contains(t, errOut.String(), "msg=hello")
	})
}

func TestSetupCommandReadsConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nbootloader:\n  name: MyDFU\n"), 0o644))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path}))

	env, err := setupCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, env.logger.GetLevel())
	assert.True(t, cmd.SilenceUsage)

	opts := env.sessionOptions()
	assert.Equal(t, "MyDFU", opts.BootloaderName)
	assert.Equal(t, uint16(10), opts.DFU.FirmwarePRN)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
}

func TestProgressPrinterWithoutTerminal(t *testing.T) {
	// GOAL: redirected output gets one line per phase and per tenth of progress
	//
	// TEST SCENARIO: phase change → percents 5, 7, 15, 100 → lines for 5, 15 and 100 only

	out := new(bytes.Buffer)
	p := NewProgressPrinter(out, "Updating", "connecting")
	phase := p.Callback()

	p.Start()
	phase("sending-firmware")
	p.SetPercent(5)
	p.SetPercent(7)
	p.SetPercent(15)
	p.SetPercent(100)
	p.Stop()
	p.Stop()

	testutils.AssertText(t, out.String(), `
Updating: connecting
Updating: sending-firmware
Updating: sending-firmware 5%
Updating: sending-firmware 15%
Updating: sending-firmware 100%
`)
}

func TestProgressPrinterStartTwicePanics(t *testing.T) {
	p := NewCountdownProgressPrinter(new(bytes.Buffer), "Scanning", "Scanning", time.Second)
	p.Start()
	defer p.Stop()
	assert.Panics(t, p.Start)
}

func TestPrintStatusWithoutTerminal(t *testing.T) {
	out := new(bytes.Buffer)
	printStatus(out, true, "%s done", "ring")
	printStatus(out, false, "failed")
	assert.Equal(t, "ring done\nfailed\n", out.String())
}

func TestParseColor(t *testing.T) {
	c, err := parseColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, pulse.Color{R: 0xff, G: 0x80, B: 0x00}, c)

	for _, bad := range []string{"", "fff", "ff80000", "gg0000"} {
		_, err := parseColor(bad)
		assert.Error(t, err, "colour %q", bad)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		in      string
		want    pulse.Frame
		wantErr string
	}{
		{in: "ff0000:80:250ms", want: pulse.Frame{Color: pulse.Color{R: 0xff}, Brightness: 0x80, Duration: 250 * time.Millisecond}},
		{in: "00ff00:ff:1s", want: pulse.Frame{Color: pulse.Color{G: 0xff}, Brightness: 0xff, Duration: time.Second}},
		{in: "0000ff:10:100", want: pulse.Frame{Color: pulse.Color{B: 0xff}, Brightness: 0x10, Duration: 100 * time.Millisecond}},
		{in: "ff0000:80", wantErr: "expected RRGGBB:BRIGHTNESS:DURATION"},
		{in: "red:80:1s", wantErr: "invalid colour"},
		{in: "ff0000:800:1s", wantErr: "brightness must be 00-ff"},
		{in: "ff0000:80:soon", wantErr: `bad duration "soon"`},
		{in: "ff0000:80:0", wantErr: "duration must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFrame(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSwitch(t *testing.T) {
	for _, in := range []string{"on", "ON", "true", "1"} {
		on, err := parseSwitch(in)
		require.NoError(t, err)
		assert.True(t, on, in)
	}
	for _, in := range []string{"off", "Off", "false", "0"} {
		on, err := parseSwitch(in)
		require.NoError(t, err)
		assert.False(t, on, in)
	}
	_, err := parseSwitch("maybe")
	assert.Error(t, err)
}
