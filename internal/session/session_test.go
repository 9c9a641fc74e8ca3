package session_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/dfu"
	"github.com/srg/pulsectl/internal/pulse"
	"github.com/srg/pulsectl/internal/session"
	"github.com/srg/pulsectl/internal/testutils"
	"github.com/srg/pulsectl/scanner"
)

const (
	pulseAddr = "C0:FF:EE:00:00:01"
	bootAddr  = "C0:FF:EE:00:00:02"
)

type SessionTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	ctx    context.Context
	cancel context.CancelFunc

	pulse *testutils.SimPulse
	boot  *testutils.SimBootloader
	opts  session.Options

	mu      sync.Mutex
	dialed  []string
	finds   []string
	manager *session.Manager
}

func (s *SessionTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)

	s.pulse = testutils.NewSimPulse(pulseAddr)
	s.boot = testutils.NewSimBootloader(bootAddr, 256)
	s.dialed, s.finds = nil, nil

	s.opts = session.DefaultOptions()
	s.opts.PollInterval = time.Millisecond
	s.opts.BootloaderScanTimeout = time.Second
	s.manager = nil
}

func (s *SessionTestSuite) TearDownTest() {
	if s.manager != nil {
		s.manager.Close()
	}
	s.cancel()
}

func (s *SessionTestSuite) newManager() *session.Manager {
	dial := func(_ context.Context, address string) (device.IODevice, error) {
		s.mu.Lock()
		s.dialed = append(s.dialed, address)
		s.mu.Unlock()

		switch address {
		case pulseAddr:
			return s.pulse, nil
		case bootAddr:
			return s.boot, nil
		}
		return nil, errors.New("no such peripheral")
	}
	find := func(_ context.Context, name string, _ time.Duration) (scanner.Accessory, error) {
		s.mu.Lock()
		s.finds = append(s.finds, name)
		s.mu.Unlock()
		return scanner.Accessory{Address: bootAddr, Name: name, Kind: scanner.KindBootloader}, nil
	}

	if s.manager != nil {
		s.manager.Close()
	}
	s.manager = session.NewManager(s.ctx, s.opts, s.helper.Logger, session.WithDialer(dial), session.WithFinder(find))
	return s.manager
}

func (s *SessionTestSuite) firmware(n int) *dfu.Package {
	fw := make([]byte, n)
	for i := range fw {
		fw[i] = byte(i * 13)
	}
	return &dfu.Package{
		Kind:       dfu.KindApplication,
		InitPacket: bytes.Repeat([]byte{0xd1}, 40),
		Firmware:   fw,
	}
}

func (s *SessionTestSuite) TestConnectPulse() {
	// GOAL: ConnectPulse returns only after authentication and device info
	//
	// TEST SCENARIO: Discovery → notifications → challenge answered → INFO_RESPONSE → Info reports it

	m := s.newManager()
	ps, err := m.ConnectPulse(s.ctx, pulseAddr)
	s.Require().NoError(err)
	defer ps.Close()

	info, err := ps.Info(s.ctx)
	s.Require().NoError(err)
	s.Equal(session.Info{
		Address:         pulseAddr,
		Name:            "Pulse 0042",
		FirmwareVersion: testutils.SimFirmwareVersion,
		SerialNumber:    testutils.SimSerialNumber,
	}, info)

	authWrites := s.pulse.AuthWrites()
	s.Require().Len(authWrites, 1)
	s.Len(authWrites[0], pulse.NonceSize)
	s.Equal([]string{"INFO_GET 0"}, s.pulse.Commands())
}

func (s *SessionTestSuite) TestCommandsAreFlushed() {
	m := s.newManager()
	ps, err := m.ConnectPulse(s.ctx, pulseAddr)
	s.Require().NoError(err)

	s.Require().NoError(ps.PresetRing(s.ctx, 3, pulse.Color{R: 0xff}, 0x80))
	s.Require().NoError(ps.CustomRing(s.ctx, []pulse.Frame{
		{Color: pulse.Color{G: 0x10}, Brightness: 0x40, Duration: 250 * time.Millisecond},
	}))
	s.Require().NoError(ps.StopRing(s.ctx))
	s.Require().NoError(ps.SetMissed(s.ctx, true))
	s.Require().NoError(ps.SetSignmail(s.ctx, false))
	s.Require().NoError(ps.AllOff(s.ctx))
	ps.Close()

	var names []string
	for _, c := range s.pulse.Commands() {
		names = append(names, strings.Fields(c)[0])
	}
	s.Equal([]string{
		"INFO_GET", "PRESET_PATTERN_START", "FRAME", "PATTERN_START",
		"PATTERN_STOP", "MISSED_ON", "SIGNMAIL_OFF", "ALL_OFF",
	}, names)
	s.True(s.pulse.Closed())
}

func (s *SessionTestSuite) TestEnterBootloader() {
	m := s.newManager()
	ps, err := m.ConnectPulse(s.ctx, pulseAddr)
	s.Require().NoError(err)
	defer ps.Close()

	s.Require().NoError(ps.EnterBootloader(s.ctx, "PulseDFU"))
	s.Equal([][]byte{
		append([]byte{0x02, 8}, "PulseDFU"...),
		{0x01},
	}, s.pulse.ButtonlessWrites())
}

func (s *SessionTestSuite) TestEnterBootloaderRejected() {
	s.pulse.ButtonlessStatus = 0x04

	m := s.newManager()
	ps, err := m.ConnectPulse(s.ctx, pulseAddr)
	s.Require().NoError(err)
	defer ps.Close()

	err = ps.EnterBootloader(s.ctx, "PulseDFU")
	var perr *device.ProtocolError
	s.Require().ErrorAs(err, &perr)
	s.Equal("buttonless", perr.Op)
}

func (s *SessionTestSuite) TestConnectPulseFailures() {
	s.Run("dial error", func() {
		m := s.newManager()
		_, err := m.ConnectPulse(s.ctx, "00:00:00:00:00:00")
		s.EqualError(err, "no such peripheral")
	})

	s.Run("bad challenge", func() {
		s.pulse = testutils.NewSimPulse(pulseAddr)
		s.pulse.Challenge = []byte{1, 2, 3, 4, 5}

		m := s.newManager()
		_, err := m.ConnectPulse(s.ctx, pulseAddr)
		s.True(device.IsProtocolError(err), "got %v", err)
		s.True(s.pulse.Closed())
	})

	s.Run("deadline", func() {
		s.pulse = testutils.NewSimPulse(pulseAddr)
		s.pulse.Silent = true

		m := s.newManager()
		ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
		defer cancel()
		_, err := m.ConnectPulse(ctx, pulseAddr)
		s.ErrorIs(err, context.DeadlineExceeded)
		s.True(s.pulse.Closed())
	})

	s.Run("link lost", func() {
		s.pulse = testutils.NewSimPulse(pulseAddr)
		s.pulse.Silent = true
		s.pulse.DropLink()

		m := s.newManager()
		_, err := m.ConnectPulse(s.ctx, pulseAddr)
		s.ErrorIs(err, device.ErrNotConnected)
	})
}

func (s *SessionTestSuite) TestRunDFU() {
	// GOAL: RunDFU returns nil once every object is executed
	//
	// TEST SCENARIO: 40 byte init packet + 600 byte firmware in 256 byte objects → 1 + 3 executes

	m := s.newManager()
	pkg := s.firmware(600)

	var progress []dfu.Progress
	err := m.RunDFU(s.ctx, bootAddr, pkg, func(p dfu.Progress) {
		progress = append(progress, p)
	})
	s.Require().NoError(err)

	s.Equal(4, s.boot.Executed())
	s.Equal(pkg.Firmware, s.boot.Image())
	s.True(s.boot.Closed())

	s.Require().NotEmpty(progress)
	last := progress[len(progress)-1]
	s.Equal(dfu.StateSendingFirmware, last.State)
	s.Equal(100, last.Percent)
	s.Equal(600, last.BytesSent)
}

func (s *SessionTestSuite) TestRunDFUFailures() {
	s.Run("timeout", func() {
		s.boot = testutils.NewSimBootloader(bootAddr, 256)
		s.boot.Silent = true
		s.opts.DFU.Timeout = 50 * time.Millisecond

		err := s.newManager().RunDFU(s.ctx, bootAddr, s.firmware(100), nil)
		s.ErrorIs(err, device.ErrTimeout)
		s.True(s.boot.Closed())
	})

	s.Run("checksum mismatch", func() {
		s.boot = testutils.NewSimBootloader(bootAddr, 256)
		s.boot.Corrupt = true
		s.opts.DFU = dfu.DefaultOptions()

		err := s.newManager().RunDFU(s.ctx, bootAddr, s.firmware(100), nil)
		var perr *device.ProtocolError
		s.Require().ErrorAs(err, &perr)
		s.Equal("checksum", perr.Op)
		s.Zero(s.boot.Executed())
	})

	s.Run("empty package", func() {
		err := s.newManager().RunDFU(s.ctx, bootAddr, &dfu.Package{}, nil)
		s.ErrorIs(err, dfu.ErrInvalidPackage)
	})

	s.Run("cancelled", func() {
		s.boot = testutils.NewSimBootloader(bootAddr, 256)
		s.boot.Silent = true
		s.opts.DFU = dfu.DefaultOptions()

		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Millisecond)
		defer cancel()
		err := s.newManager().RunDFU(ctx, bootAddr, s.firmware(100), nil)
		s.ErrorIs(err, context.DeadlineExceeded)
	})
}

func (s *SessionTestSuite) TestUpdate() {
	// GOAL: Update walks the accessory through the whole firmware update
	//
	// TEST SCENARIO: connect Pulse → buttonless restart → find bootloader by name → DFU to the bootloader address

	s.opts.BootloaderName = "PulseDFU-42"
	m := s.newManager()
	pkg := s.firmware(300)

	var phases []string
	version, err := m.Update(s.ctx, pulseAddr, pkg, session.UpdateProgress{
		OnPhase: func(p string) { phases = append(phases, p) },
	})
	s.Require().NoError(err)

	s.Equal(testutils.SimFirmwareVersion, version)
	s.Equal([]string{
		session.PhaseConnecting, session.PhaseEnteringDFU, session.PhaseFindingBootloader,
		session.PhaseTransferring, session.PhaseDone,
	}, phases)
	s.Equal([]string{pulseAddr, bootAddr}, s.dialed)
	s.Equal([]string{"PulseDFU-42"}, s.finds)
	s.True(s.pulse.Closed())
	s.Equal(pkg.Firmware, s.boot.Image())
}

func (s *SessionTestSuite) TestNewManagerDefaults() {
	s.opts = session.Options{}
	m := s.newManager()

	opts := m.Options()
	s.Equal("PulseDFU", opts.BootloaderName)
	s.Positive(opts.BootloaderScanTimeout)
	s.Positive(opts.PollInterval)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
