package protocol

import "errors"

// Domain errors for frame encoding and decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnsupportedVersion is returned when a frame or device uses a
	// version tag that is not in the version table.
	ErrUnsupportedVersion = errors.New("protocol: unsupported protocol version")

	// ErrCipherUnavailable is returned for a recognised version tag whose
	// cipher parameters are not known.
	ErrCipherUnavailable = errors.New("protocol: no cipher for protocol version")

	// ErrUnknownDevice is returned when serializing for a duid that has not
	// been registered with the message context.
	ErrUnknownDevice = errors.New("protocol: device not registered")

	// ErrIntegrity is returned when a frame fails the CRC32 check or its
	// declared payload length does not match the frame size.
	ErrIntegrity = errors.New("protocol: frame integrity check failed")

	// ErrShortFrame is returned when a frame is shorter than its fixed header.
	ErrShortFrame = errors.New("protocol: frame too short")

	// ErrPayloadTooLarge is returned when an encrypted payload does not fit
	// the 16-bit length field.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds 65535 bytes")

	// ErrDecryptFailed is returned when a payload cannot be decrypted.
	ErrDecryptFailed = errors.New("protocol: payload decryption failed")

	// ErrEncryptFailed is returned when a payload cannot be encrypted.
	ErrEncryptFailed = errors.New("protocol: payload encryption failed")

	// ErrInvalidKey is returned when a device secret key is empty.
	ErrInvalidKey = errors.New("protocol: invalid device secret key")
)

// RPCError is the error object a device returns in place of a result.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return "device rpc error " + itoa(e.Code) + ": " + e.Message
}
