// Package bledb holds the fixed GATT UUID tables used by the accessory stack
// and the normalisation rules applied before any UUID comparison.
//
// UUIDs are stored in normalised form: lowercase, no dashes, no braces, and
// Bluetooth SIG base UUIDs shortened to their 16-bit value.
package bledb

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Handles standard dashed UUIDs, already normalised values, braces and a 0x prefix.
// Full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb)
// are reduced to the 16-bit short form (xxxx).
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalises a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// EqualUUID reports whether two UUID strings denote the same attribute.
func EqualUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ValidateUUID checks that s is a well-formed 16-bit, 32-bit or 128-bit UUID
// and returns its normalised form.
func ValidateUUID(s string) (string, error) {
	n := NormalizeUUID(s)
	switch len(n) {
	case 4, 8:
		for _, r := range n {
			if !strings.ContainsRune("0123456789abcdef", r) {
				return "", fmt.Errorf("invalid UUID %q: non-hex character %q", s, r)
			}
		}
		return n, nil
	case 32:
		if _, err := uuid.Parse(n); err != nil {
			return "", fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return n, nil
	default:
		return "", fmt.Errorf("invalid UUID %q: unexpected length %d", s, len(n))
	}
}

// MustValidateUUID is ValidateUUID for package-level tables. It panics on error.
func MustValidateUUID(s string) string {
	n, err := ValidateUUID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// CanonicalUUID renders a normalised UUID in the dashed form accepted by BLE
// libraries. 16-bit and 32-bit values are expanded onto the SIG base UUID.
func CanonicalUUID(s string) (string, error) {
	n, err := ValidateUUID(s)
	if err != nil {
		return "", err
	}
	switch len(n) {
	case 4:
		n = "0000" + n + sigBaseSuffix
	case 8:
		n = n + sigBaseSuffix
	}
	u, err := uuid.Parse(n)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}
