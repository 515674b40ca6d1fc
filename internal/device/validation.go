package device

import (
	"errors"
	"fmt"
	"net"
	"regexp"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// Validation constants.
const (
	maxDUIDLength = 64
	maxNameLength = 100

	// aesKeyLength is the key size required by the A01 and B01 ciphers.
	aesKeyLength = 16
)

var duidRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validTransports = func() map[Transport]struct{} {
	m := make(map[Transport]struct{}, len(AllTransports()))
	for _, t := range AllTransports() {
		m[t] = struct{}{}
	}
	return m
}()

// ValidateDevice checks that a device can be registered with the
// protocol layer. It returns an error wrapping ErrInvalidDevice and a more
// specific sentinel.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if err := ValidateDUID(d.DUID); err != nil {
		return err
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}

	version, err := protocol.ParseVersion(d.ProtocolVersion)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrInvalidDevice, ErrInvalidVersion, err)
	}
	if err := ValidateLocalKey(version, d.LocalKey); err != nil {
		return err
	}

	if _, ok := validTransports[d.Transport]; !ok {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDevice, ErrInvalidTransport, d.Transport)
	}
	if d.LocalIP != "" && net.ParseIP(d.LocalIP) == nil {
		return fmt.Errorf("%w: local_ip %q is not an IP address", ErrInvalidDevice, d.LocalIP)
	}
	if d.Transport == TransportLocal && d.LocalIP == "" {
		return fmt.Errorf("%w: local transport requires local_ip", ErrInvalidDevice)
	}
	return nil
}

// ValidateDUID checks a device unique id.
func ValidateDUID(duid string) error {
	switch {
	case duid == "":
		return fmt.Errorf("%w: %w: empty", ErrInvalidDevice, ErrInvalidDUID)
	case len(duid) > maxDUIDLength:
		return fmt.Errorf("%w: %w: exceeds %d characters", ErrInvalidDevice, ErrInvalidDUID, maxDUIDLength)
	case !duidRegex.MatchString(duid):
		return fmt.Errorf("%w: %w: %q has invalid characters", ErrInvalidDevice, ErrInvalidDUID, duid)
	}
	return nil
}

// ValidateLocalKey checks a local key against the needs of version.
// The legacy cipher hashes the key so any non-empty value works; the CBC
// ciphers use it directly as an AES-128 key.
func ValidateLocalKey(version protocol.Version, key string) error {
	if key == "" {
		return fmt.Errorf("%w: %w: empty", ErrInvalidDevice, ErrInvalidLocalKey)
	}
	switch version {
	case protocol.VersionA01, protocol.VersionB01:
		if len(key) != aesKeyLength {
			return fmt.Errorf("%w: %w: version %s needs %d bytes, got %d",
				ErrInvalidDevice, ErrInvalidLocalKey, version, aesKeyLength, len(key))
		}
	}
	return nil
}

// IsValidationError reports whether err came from device validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDevice)
}
