package protocol

import (
	"crypto/md5" //nolint:gosec // endpoint derivation is fixed by the cloud service
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"
)

// Connect nonce range.
const (
	minConnectNonce = 1000
	maxConnectNonce = 1000000
)

// DeviceCredentials is the per-device state needed to encrypt and decrypt.
type DeviceCredentials struct {
	SecretKey string
	Version   Version
	Nonce     uint32
}

// MessageContext is the per-session state shared by both transports.
//
// One context is created per authenticated session and handed by pointer to
// every client. Device entries are added with RegisterDevice and never
// expire. All access goes through methods so a nonce written by one
// transport is visible to the other before its next frame is built.
//
// Thread Safety: All methods are safe for concurrent use.
type MessageContext struct {
	mu             sync.RWMutex
	nonce          uint32
	serializeNonce [16]byte
	endpoint       string
	devices        map[string]*DeviceCredentials
}

// NewMessageContext creates a session context. accountKey is the account's
// rriot "k" secret and is used to derive the endpoint id; it may be empty for
// local-only sessions.
func NewMessageContext(accountKey string) (*MessageContext, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxConnectNonce-minConnectNonce))
	if err != nil {
		return nil, fmt.Errorf("generating connect nonce: %w", err)
	}

	c := &MessageContext{
		nonce:    uint32(minConnectNonce + n.Int64()), // #nosec G115 -- bounded by maxConnectNonce
		endpoint: deriveEndpoint(accountKey),
		devices:  make(map[string]*DeviceCredentials),
	}
	if _, err := rand.Read(c.serializeNonce[:]); err != nil {
		return nil, fmt.Errorf("generating serialize nonce: %w", err)
	}
	return c, nil
}

// deriveEndpoint returns base64(md5(k)[8:14]).
func deriveEndpoint(accountKey string) string {
	sum := md5.Sum([]byte(accountKey)) //nolint:gosec // protocol requirement
	return base64.StdEncoding.EncodeToString(sum[8:14])
}

// RegisterDevice stores the secret key, protocol version and initial nonce
// for a device, replacing any previous entry.
//
// Returns ErrInvalidKey for an empty key, and the version's validation error
// for unknown tags or tags without a cipher.
func (c *MessageContext) RegisterDevice(duid, secretKey string, version Version, nonce uint32) error {
	if secretKey == "" {
		return fmt.Errorf("%w: device %s", ErrInvalidKey, duid)
	}
	if err := version.Validate(); err != nil {
		return fmt.Errorf("registering device %s: %w", duid, err)
	}

	c.mu.Lock()
	c.devices[duid] = &DeviceCredentials{
		SecretKey: secretKey,
		Version:   version,
		Nonce:     nonce,
	}
	c.mu.Unlock()
	return nil
}

// Device returns a copy of a device's credentials.
func (c *MessageContext) Device(duid string) (DeviceCredentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[duid]
	if !ok {
		return DeviceCredentials{}, false
	}
	return *d, true
}

// SecretKey returns a device's secret key.
func (c *MessageContext) SecretKey(duid string) (string, bool) {
	d, ok := c.Device(duid)
	return d.SecretKey, ok
}

// ProtocolVersion returns a device's registered protocol version.
func (c *MessageContext) ProtocolVersion(duid string) (Version, bool) {
	d, ok := c.Device(duid)
	return d.Version, ok
}

// UpdateDeviceNonce records the latest nonce acknowledged by a device.
// Returns false when the device is not registered or the nonce is unchanged.
func (c *MessageContext) UpdateDeviceNonce(duid string, nonce uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[duid]
	if !ok || d.Nonce == nonce {
		return false
	}
	d.Nonce = nonce
	return true
}

// DeviceIDs returns the registered duids in sorted order.
func (c *MessageContext) DeviceIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Nonce returns this client's connect nonce.
func (c *MessageContext) Nonce() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonce
}

// SerializeNonce returns the 16-byte session nonce as lower-case hex.
func (c *MessageContext) SerializeNonce() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return hex.EncodeToString(c.serializeNonce[:])
}

// Endpoint returns the derived transport endpoint id.
func (c *MessageContext) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}
