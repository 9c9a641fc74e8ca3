// Package scanner discovers Pulse accessories and DFU bootloaders.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/pulsectl/internal/bledb"
	"github.com/srg/pulsectl/internal/device"
	"github.com/srg/pulsectl/internal/device/goble"
	"github.com/srg/pulsectl/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Kind classifies an advertiser by the services it advertises.
type Kind int

const (
	KindUnknown Kind = iota
	KindPulse
	KindBootloader
)

func (k Kind) String() string {
	switch k {
	case KindPulse:
		return "pulse"
	case KindBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Accessory is a snapshot of one advertiser.
type Accessory struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services"`
	Connectable bool      `json:"connectable"`
	Kind        Kind      `json:"kind"`
	LastSeen    time.Time `json:"lastSeen"`
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type      DeviceEventType
	Accessory Accessory
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// ServiceUUIDs keeps advertisers announcing at least one of these services.
	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
	// Kinds keeps only advertisers of these kinds; empty keeps all.
	Kinds []Kind
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, Accessory]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
	onMatch     func(Accessory)
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}
}

// Classify derives the accessory kind from advertised services.
func Classify(services []string) Kind {
	pulse := bledb.NormalizeUUID(bledb.PulseServiceUUID)
	dfu := bledb.NormalizeUUID(bledb.DFUServiceUUID)
	for _, s := range services {
		switch bledb.NormalizeUUID(s) {
		case pulse:
			return KindPulse
		case dfu:
			return KindBootloader
		}
	}
	return KindUnknown
}

// Scan performs BLE discovery with provided options
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]Accessory, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	if err := s.run(ctx, opts); err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.snapshot(), nil
}

// FindByName scans until an advertiser with the given local name shows up.
// It returns a NotFoundError when timeout elapses first.
func (s *Scanner) FindByName(ctx context.Context, name string, timeout time.Duration) (Accessory, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		found *Accessory
	)
	s.onMatch = func(a Accessory) {
		mu.Lock()
		defer mu.Unlock()
		if a.Name == name && found == nil {
			found = &a
			cancel()
		}
	}
	defer func() { s.onMatch = nil }()

	s.logger.WithFields(logrus.Fields{
		"name":    name,
		"timeout": timeout,
	}).Info("Looking for device by name...")

	if err := s.run(scanCtx, &ScanOptions{Duration: timeout}); err != nil {
		return Accessory{}, err
	}
	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if err := ctx.Err(); err != nil {
		return Accessory{}, err
	}
	return Accessory{}, &device.NotFoundError{Resource: "device", UUIDs: []string{name}}
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

func (s *Scanner) run(ctx context.Context, opts *ScanOptions) error {
	s.devices = hashmap.New[string, Accessory]()

	dev, err := goble.ScanningDeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()

	err = dev.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", goble.NormalizeError(err))
	}
	return nil
}

func (s *Scanner) snapshot() map[string]Accessory {
	devices := make(map[string]Accessory, s.devices.Len())
	s.devices.Range(func(key string, value Accessory) bool {
		devices[key] = value
		return true
	})
	return devices
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	address := adv.Addr().String()

	prev, existing := s.devices.Get(address)
	if !existing && !s.shouldIncludeDevice(adv, s.scanOptions) {
		return
	}

	acc := fromAdvertisement(adv)
	if existing {
		// names and services may arrive in scan responses only
		if acc.Name == "" {
			acc.Name = prev.Name
		}
		if len(acc.Services) == 0 {
			acc.Services = prev.Services
			acc.Kind = prev.Kind
		}
	}
	s.devices.Set(address, acc)

	event := DeviceEvent{Type: EventUpdated, Accessory: acc}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  acc.Name,
			"address": acc.Address,
			"rssi":    acc.RSSI,
			"kind":    acc.Kind,
		}).Info("Discovered new device")
		event.Type = EventNew
	}
	s.events.Send(event)

	if s.onMatch != nil {
		s.onMatch(acc)
	}
}

func fromAdvertisement(adv blelib.Advertisement) Accessory {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, bledb.NormalizeUUID(u.String()))
	}
	return Accessory{
		Address:     adv.Addr().String(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Services:    services,
		Connectable: adv.Connectable(),
		Kind:        Classify(services),
		LastSeen:    time.Now(),
	}
}

// shouldIncludeDevice applies the allow/block/service/kind filters
func (s *Scanner) shouldIncludeDevice(adv blelib.Advertisement, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}
	addr := adv.Addr().String()

	if slices.Contains(opts.BlockList, addr) {
		return false
	}
	if len(opts.AllowList) > 0 && !slices.Contains(opts.AllowList, addr) {
		return false
	}

	var services []string
	for _, u := range adv.Services() {
		services = append(services, bledb.NormalizeUUID(u.String()))
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := slices.ContainsFunc(opts.ServiceUUIDs, func(required string) bool {
			return slices.Contains(services, bledb.NormalizeUUID(required))
		})
		if !hasRequired {
			return false
		}
	}

	if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, Classify(services)) {
		return false
	}
	return true
}
