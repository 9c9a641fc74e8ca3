package dfu

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidPackage is wrapped by every package loading error.
var ErrInvalidPackage = errors.New("invalid DFU package")

// ImageKind names the firmware image a package carries.
type ImageKind string

const (
	KindApplication          ImageKind = "application"
	KindBootloader           ImageKind = "bootloader"
	KindSoftDevice           ImageKind = "softdevice"
	KindSoftDeviceBootloader ImageKind = "softdevice_bootloader"
)

// Images are tried in this order when a manifest lists more than one.
var kindOrder = []ImageKind{KindApplication, KindSoftDeviceBootloader, KindBootloader, KindSoftDevice}

const manifestName = "manifest.json"

type manifestImage struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}

type manifest struct {
	Manifest map[ImageKind]*manifestImage `json:"manifest"`
}

// Package is one image of a DFU zip: its init packet and firmware.
type Package struct {
	Kind       ImageKind
	InitPacket []byte
	Firmware   []byte
}

// LoadPackage reads a DFU zip from disk.
func LoadPackage(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open DFU package: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat DFU package: %w", err)
	}
	return ReadPackage(f, info.Size())
}

// ReadPackage reads a DFU zip from r.
func ReadPackage(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPackage, err)
	}

	raw, err := readZipFile(zr, manifestName)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidPackage, manifestName, err)
	}

	for _, kind := range kindOrder {
		img := m.Manifest[kind]
		if img == nil {
			continue
		}
		if img.BinFile == "" || img.DatFile == "" {
			return nil, fmt.Errorf("%w: %s entry needs bin_file and dat_file", ErrInvalidPackage, kind)
		}

		pkg := &Package{Kind: kind}
		if pkg.InitPacket, err = readZipFile(zr, img.DatFile); err != nil {
			return nil, err
		}
		if len(pkg.InitPacket) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrInvalidPackage, img.DatFile)
		}
		if pkg.Firmware, err = readZipFile(zr, img.BinFile); err != nil {
			return nil, err
		}
		if len(pkg.Firmware) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrInvalidPackage, img.BinFile)
		}
		return pkg, nil
	}
	return nil, fmt.Errorf("%w: manifest lists no image", ErrInvalidPackage)
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPackage, name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidPackage, name, err)
	}
	return data, nil
}
