package main

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/device/goble"
	"github.com/srg/pulsectl/internal/session"
	"github.com/srg/pulsectl/internal/testutils"
	"github.com/srg/pulsectl/internal/testutils/mocks"
	"github.com/srg/pulsectl/scanner"
)

// Simulated peripherals the test dialer knows about
const (
	TestPulseAddress      = "C0:FF:EE:00:00:01"
	TestBootloaderAddress = "C0:FF:EE:00:00:02"
)

// CommandTestSuite runs commands against simulated peripherals.
// Every cmd/pulsectl suite embeds it.
type CommandTestSuite struct {
	suite.Suite

	pulse   *testutils.SimPulse
	boot    *testutils.SimBootloader
	scanner *mocks.MockScanner

	mu     sync.Mutex
	dialed []string
	finds  []string

	originalNewManager     func(context.Context, session.Options, *logrus.Logger) *session.Manager
	originalScannerFactory func() (goble.ScanningDevice, error)
}

func (s *CommandTestSuite) SetupTest() {
	// Keep a developer's config out of the tests
	s.T().Setenv("HOME", s.T().TempDir())

	s.pulse = testutils.NewSimPulse(TestPulseAddress)
	s.boot = testutils.NewSimBootloader(TestBootloaderAddress, 256)
	s.scanner = &mocks.MockScanner{}
	s.dialed, s.finds = nil, nil

	s.originalNewManager = newManager
	newManager = func(ctx context.Context, opts session.Options, logger *logrus.Logger) *session.Manager {
		opts.PollInterval = time.Millisecond
		opts.BootloaderScanTimeout = time.Second
		return session.NewManager(ctx, opts, logger, session.WithDialer(s.dial), session.WithFinder(s.find))
	}

	s.originalScannerFactory = goble.ScanningDeviceFactory
	goble.ScanningDeviceFactory = func() (goble.ScanningDevice, error) {
		return s.scanner, nil
	}

	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	newManager = s.originalNewManager
	goble.ScanningDeviceFactory = s.originalScannerFactory
	resetFlags(rootCmd)
}

func (s *CommandTestSuite) dial(_ context.Context, address string) (device.IODevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialed = append(s.dialed, address)

	switch address {
	case TestPulseAddress:
		return s.pulse, nil
	case TestBootloaderAddress:
		return s.boot, nil
	}
	return nil, &device.NotFoundError{Resource: "device", UUIDs: []string{address}}
}

func (s *CommandTestSuite) find(_ context.Context, name string, _ time.Duration) (scanner.Accessory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds = append(s.finds, name)
	return scanner.Accessory{Address: TestBootloaderAddress, Name: name, Kind: scanner.KindBootloader}, nil
}

// Dialed returns the addresses connected to so far.
func (s *CommandTestSuite) Dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialed...)
}

// Advertise makes the mocked scan deliver advs and return.
func (s *CommandTestSuite) Advertise(advs ...blelib.Advertisement) {
	s.scanner.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			h := args.Get(2).(blelib.AdvHandler)
			for _, a := range advs {
				h(a)
			}
		}).
		Return(nil)
}

// ExecuteCommand runs the root command with args and returns what it wrote
// to stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// WritePackage writes a single-image DFU zip and returns its path.
func (s *CommandTestSuite) WritePackage(initPacket, firmware []byte) string {
	path := filepath.Join(s.T().TempDir(), "app_dfu_package.zip")
	f, err := os.Create(path)
	s.Require().NoError(err)
	defer f.Close()

	zw := zip.NewWriter(f)
	files := []struct {
		name string
		data []byte
	}{
		{"manifest.json", []byte(`{"manifest":{"application":{"bin_file":"app.bin","dat_file":"app.dat"}}}`)},
		{"app.dat", initPacket},
		{"app.bin", firmware},
	}
	for _, file := range files {
		w, err := zw.Create(file.name)
		s.Require().NoError(err)
		_, err = w.Write(file.data)
		s.Require().NoError(err)
	}
	s.Require().NoError(zw.Close())
	return path
}

// Firmware returns n bytes of deterministic image data.
func Firmware(n int) []byte {
	fw := make([]byte, n)
	for i := range fw {
		fw[i] = byte(i * 7)
	}
	return fw
}

// resetFlags restores every flag of cmd and its children to its default,
// so values do not leak between command executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		var err error
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			err = sv.Replace(nil)
		} else {
			err = f.Value.Set(f.DefValue)
		}
		if err != nil {
			panic(errors.Join(errors.New("reset flag "+f.Name), err))
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
