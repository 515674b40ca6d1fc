package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a duid does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidDUID is returned when a duid is empty or malformed.
	ErrInvalidDUID = errors.New("device: invalid duid")

	// ErrInvalidLocalKey is returned when a local key is missing or has the wrong length.
	ErrInvalidLocalKey = errors.New("device: invalid local key")

	// ErrInvalidVersion is returned when a protocol version is not recognised.
	ErrInvalidVersion = errors.New("device: invalid protocol version")

	// ErrInvalidTransport is returned when a transport value is not recognised.
	ErrInvalidTransport = errors.New("device: invalid transport")
)
