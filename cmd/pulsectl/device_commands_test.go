package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/testutils"
)

type DeviceCommandsTestSuite struct {
	CommandTestSuite
}

func (s *DeviceCommandsTestSuite) TestInfoTable() {
	// GOAL: info prints the identity the accessory reports after authentication
	//
	// TEST SCENARIO: connect → auth → INFO_GET → aligned table on stdout, progress on stderr

	out, errOut, err := s.ExecuteCommand("info", TestPulseAddress)
	s.Require().NoError(err)

	testutils.AssertText(s.T(), out, `
Address:   C0:FF:EE:00:00:01
Name:      Pulse 0042
Firmware:  2.4.1
Serial:    PR-0042
`)
	s.Contains(errOut, "Connecting to "+TestPulseAddress)
	s.True(s.pulse.Closed(), "session MUST disconnect when the command ends")
}

func (s *DeviceCommandsTestSuite) TestInfoJSON() {
	out, _, err := s.ExecuteCommand("info", TestPulseAddress, "--format", "json")
	s.Require().NoError(err)

	testutils.AssertJSON(s.T(), out, `{
		"address": "C0:FF:EE:00:00:01",
		"name": "Pulse 0042",
		"firmwareVersion": "2.4.1",
		"serialNumber": "PR-0042"
	}`, testutils.StrictKeys())
}

func (s *DeviceCommandsTestSuite) TestInfoErrors() {
	s.Run("invalid format", func() {
		_, _, err := s.ExecuteCommand("info", TestPulseAddress, "--format", "xml")
		s.EqualError(err, "invalid format 'xml': must be one of [table json]")
	})

	s.Run("unknown device", func() {
		_, _, err := s.ExecuteCommand("info", "00:00:00:00:00:00")
		var nf *device.NotFoundError
		s.Require().ErrorAs(err, &nf)
		s.Contains(FormatUserError(err), "make sure it is powered and advertising")
	})

	s.Run("authentication rejected", func() {
		s.pulse = testutils.NewSimPulse(TestPulseAddress)
		s.pulse.Challenge = []byte{1, 2, 3}

		_, _, err := s.ExecuteCommand("info", TestPulseAddress)
		s.True(device.IsProtocolError(err), "got %v", err)
		s.True(s.pulse.Closed())
	})

	s.Run("missing address", func() {
		_, _, err := s.ExecuteCommand("info")
		s.Error(err)
	})
}

func (s *DeviceCommandsTestSuite) TestRingActions() {
	// GOAL: every ring action becomes one text command after INFO_GET
	//
	// TEST SCENARIO: run each action against a fresh accessory → second command matches

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"preset", []string{"preset", "2", "--color", "00ff00", "--brightness", "200"}, []string{"PRESET_PATTERN_START 1 2 "}},
		{"custom", []string{"custom", "--frame", "ff0000:80:250ms", "--frame", "0000ff:ff:100"}, []string{"FRAME 1 0 ", "FRAME 2 1 ", "PATTERN_START 3 2"}},
		{"stop", []string{"stop"}, []string{"PATTERN_STOP 1"}},
		{"missed on", []string{"missed", "on"}, []string{"MISSED_ON 1"}},
		{"missed off", []string{"missed", "off"}, []string{"MISSED_OFF 1"}},
		{"signmail on", []string{"signmail", "ON"}, []string{"SIGNMAIL_ON 1"}},
		{"signmail off", []string{"signmail", "0"}, []string{"SIGNMAIL_OFF 1"}},
		{"all off", []string{"off"}, []string{"ALL_OFF 1"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.pulse = testutils.NewSimPulse(TestPulseAddress)
			resetFlags(rootCmd)

			out, _, err := s.ExecuteCommand(append([]string{"ring", TestPulseAddress}, tt.args...)...)
			s.Require().NoError(err)
			s.Contains(out, TestPulseAddress+": "+tt.args[0])

			commands := s.pulse.Commands()
			s.Require().Len(commands, len(tt.want)+1)
			s.Equal("INFO_GET 0", commands[0])
			for i, prefix := range tt.want {
				s.True(strings.HasPrefix(commands[i+1], prefix), "command %q MUST start with %q", commands[i+1], prefix)
			}
		})
	}
}

func (s *DeviceCommandsTestSuite) TestRingRejectsBadArguments() {
	// GOAL: argument errors are reported before any connection is made

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown action", []string{"blink"}, `unknown action "blink"`},
		{"preset without pattern", []string{"preset"}, "preset requires exactly one argument"},
		{"preset out of range", []string{"preset", "300"}, `invalid pattern "300"`},
		{"bad colour", []string{"preset", "1", "--color", "green"}, `invalid colour "green"`},
		{"custom without frames", []string{"custom"}, "custom requires at least one --frame"},
		{"bad frame", []string{"custom", "--frame", "ff0000:80"}, "expected RRGGBB:BRIGHTNESS:DURATION"},
		{"stop with argument", []string{"stop", "now"}, "stop takes no arguments"},
		{"bad switch", []string{"missed", "maybe"}, `invalid switch "maybe"`},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, _, err := s.ExecuteCommand(append([]string{"ring", TestPulseAddress}, tt.args...)...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.wantErr)
		})
	}
	s.Empty(s.Dialed(), "invalid arguments MUST NOT connect")
}

func (s *DeviceCommandsTestSuite) TestBootloader() {
	out, _, err := s.ExecuteCommand("bootloader", TestPulseAddress, "--name", "MyDFU")
	s.Require().NoError(err)

	s.Equal([][]byte{
		append([]byte{0x02, 5}, "MyDFU"...),
		{0x01},
	}, s.pulse.ButtonlessWrites())
	s.Contains(out, `restarted into bootloader "MyDFU"`)
}

func (s *DeviceCommandsTestSuite) TestBootloaderDefaultName() {
	_, _, err := s.ExecuteCommand("bootloader", TestPulseAddress)
	s.Require().NoError(err)

	writes := s.pulse.ButtonlessWrites()
	s.Require().NotEmpty(writes)
	s.Equal(append([]byte{0x02, 8}, "PulseDFU"...), writes[0])
}

func (s *DeviceCommandsTestSuite) TestBootloaderErrors() {
	s.Run("name too long", func() {
		_, _, err := s.ExecuteCommand("bootloader", TestPulseAddress, "--name", strings.Repeat("x", 21))
		s.EqualError(err, "bootloader name must be at most 20 bytes, got 21")
	})

	s.Run("rejected by accessory", func() {
		resetFlags(rootCmd)
		s.pulse = testutils.NewSimPulse(TestPulseAddress)
		s.pulse.ButtonlessStatus = 0x04

		_, _, err := s.ExecuteCommand("bootloader", TestPulseAddress)
		var perr *device.ProtocolError
		s.Require().ErrorAs(err, &perr)
		s.True(strings.HasPrefix(FormatUserError(err), "the device rejected the request"))
	})
}

func (s *DeviceCommandsTestSuite) TestDFU() {
	// GOAL: dfu transfers the package image to the bootloader and reports progress
	//
	// TEST SCENARIO: 600 byte image in 256 byte objects → image received intact → 100% on stderr

	fw := Firmware(600)
	path := s.WritePackage(bytes.Repeat([]byte{0xd1}, 32), fw)

	out, errOut, err := s.ExecuteCommand("dfu", TestBootloaderAddress, path, "--packet-size", "64")
	s.Require().NoError(err)

	s.Equal(fw, s.boot.Image())
	s.Equal(4, s.boot.Executed())
	s.True(s.boot.Closed())
	s.Contains(out, TestBootloaderAddress+": firmware transferred")
	s.Contains(errOut, "sending-firmware 100%")
}

func (s *DeviceCommandsTestSuite) TestDFUErrors() {
	s.Run("missing package", func() {
		_, _, err := s.ExecuteCommand("dfu", TestBootloaderAddress, "/nonexistent/pkg.zip")
		s.True(errors.Is(err, os.ErrNotExist), "got %v", err)
	})

	s.Run("invalid package", func() {
		resetFlags(rootCmd)
		path := s.T().TempDir() + "/broken.zip"
		s.Require().NoError(os.WriteFile(path, []byte("not a zip"), 0o644))

		_, _, err := s.ExecuteCommand("dfu", TestBootloaderAddress, path)
		s.ErrorIs(err, dfu.ErrInvalidPackage)
		s.Contains(FormatUserError(err), "expected a Nordic DFU zip")
	})

	s.Run("bad packet size", func() {
		resetFlags(rootCmd)
		_, _, err := s.ExecuteCommand("dfu", TestBootloaderAddress, "pkg.zip", "--packet-size", "0")
		s.EqualError(err, "packet size must be positive, got 0")
	})

	s.Run("checksum mismatch", func() {
		resetFlags(rootCmd)
		s.boot = testutils.NewSimBootloader(TestBootloaderAddress, 256)
		s.boot.Corrupt = true
		path := s.WritePackage([]byte{1, 2, 3}, Firmware(100))

		_, _, err := s.ExecuteCommand("dfu", TestBootloaderAddress, path)
		var perr *device.ProtocolError
		s.Require().ErrorAs(err, &perr)
		s.Equal("checksum", perr.Op)
	})
}

func (s *DeviceCommandsTestSuite) TestUpdate() {
	// GOAL: update restarts the accessory into its bootloader and flashes it
	//
	// TEST SCENARIO: connect Pulse → buttonless restart → find "PulseDFU" → DFU to the bootloader address

	fw := Firmware(300)
	path := s.WritePackage([]byte{0xaa, 0xbb}, fw)

	out, _, err := s.ExecuteCommand("update", TestPulseAddress, path)
	s.Require().NoError(err)

	s.Equal([]string{TestPulseAddress, TestBootloaderAddress}, s.Dialed())
	s.Equal([]string{"PulseDFU"}, s.finds)
	s.Equal(fw, s.boot.Image())
	s.Contains(out, "updated from firmware 2.4.1")
}

func TestDeviceCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceCommandsTestSuite))
}
