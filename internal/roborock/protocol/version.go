package protocol

import "fmt"

// Version is the 3-character tag at the start of every frame.
type Version string

// Known version tags.
const (
	// Version10 is the legacy scheme: AES-128-ECB with a timestamp-derived key.
	Version10 Version = "1.0"

	// VersionA01 uses AES-128-CBC with an IV derived from the frame nonce.
	VersionA01 Version = "A01"

	// VersionB01 is A01 with a different IV magic and slice offset.
	VersionB01 Version = "B01"

	// VersionL01 is recognised on the wire but has no cipher implementation.
	VersionL01 Version = "L01"
)

// versionTagLen is the number of bytes the version occupies in the header.
const versionTagLen = 3

// strategy pairs the payload builder and cipher for one protocol version.
type strategy struct {
	builder payloadBuilder
	cipher  payloadCipher
}

// strategies is the closed version table. A tag mapped to a zero strategy is
// recognised but cannot be encrypted or decrypted.
var strategies = map[Version]strategy{
	Version10:  {builder: dpsBuilder{}, cipher: legacyCipher{}},
	VersionA01: {builder: dpsBuilder{}, cipher: cbcCipher{magic: a01Magic, ivOffset: 8}},
	VersionB01: {builder: dpsBuilder{}, cipher: cbcCipher{magic: b01Magic, ivOffset: 9}},
	VersionL01: {},
}

// ParseVersion validates a version tag.
//
// Returns ErrUnsupportedVersion for tags outside the version table.
func ParseVersion(s string) (Version, error) {
	v := Version(s)
	if _, ok := strategies[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
	return v, nil
}

// Validate reports whether frames of this version can be built and decoded.
//
// Returns ErrUnsupportedVersion for unknown tags and ErrCipherUnavailable for
// recognised tags without a cipher.
func (v Version) Validate() error {
	_, err := v.strategy()
	return err
}

func (v Version) strategy() (strategy, error) {
	s, ok := strategies[v]
	if !ok {
		return strategy{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, string(v))
	}
	if s.cipher == nil {
		return strategy{}, fmt.Errorf("%w: %q", ErrCipherUnavailable, string(v))
	}
	return s, nil
}
