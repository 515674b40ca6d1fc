package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// Transport selects how the bridge reaches a device.
type Transport string

// Transport constants.
const (
	// TransportAuto uses the local socket when a LAN address is known, otherwise the cloud.
	TransportAuto Transport = "auto"

	// TransportLocal always uses the LAN socket on port 58867.
	TransportLocal Transport = "local"

	// TransportCloud always uses the account's MQTT broker.
	TransportCloud Transport = "cloud"
)

// AllTransports returns every recognised transport.
func AllTransports() []Transport {
	return []Transport{TransportAuto, TransportLocal, TransportCloud}
}

// Device is one Roborock device the bridge can talk to.
//
// LocalKey is the per-device secret used to encrypt payloads. It must never
// be logged; String masks it.
type Device struct {
	DUID            string    `json:"duid"`
	Name            string    `json:"name"`
	Model           string    `json:"model,omitempty"`
	LocalKey        string    `json:"-"`
	ProtocolVersion string    `json:"protocol_version"`
	LocalIP         string    `json:"local_ip,omitempty"`
	Transport       Transport `json:"transport"`

	// Nonce is the value the device returned in its last hello reply.
	Nonce *uint32 `json:"nonce,omitempty"`

	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FromConfig builds a Device from a config seed, applying defaults.
func FromConfig(c config.DeviceConfig) *Device {
	d := &Device{
		DUID:            c.DUID,
		Name:            c.Name,
		Model:           c.Model,
		LocalKey:        c.LocalKey,
		ProtocolVersion: c.ProtocolVersion,
		LocalIP:         c.LocalIP,
		Transport:       Transport(c.Transport),
	}
	d.applyDefaults()
	return d
}

func (d *Device) applyDefaults() {
	if d.ProtocolVersion == "" {
		d.ProtocolVersion = string(protocol.Version10)
	}
	if d.Transport == "" {
		d.Transport = TransportAuto
	}
	if d.Name == "" {
		d.Name = d.DUID
	}
}

// Version returns the parsed protocol version.
func (d *Device) Version() (protocol.Version, error) {
	return protocol.ParseVersion(d.ProtocolVersion)
}

// UsesLocal reports whether the bridge should reach this device over the LAN.
func (d *Device) UsesLocal() bool {
	switch d.Transport {
	case TransportLocal:
		return true
	case TransportCloud:
		return false
	default:
		return d.LocalIP != ""
	}
}

// NonceValue returns the stored hello nonce, or zero when none is recorded.
func (d *Device) NonceValue() uint32 {
	if d.Nonce == nil {
		return 0
	}
	return *d.Nonce
}

// DeepCopy returns a copy that shares no pointers with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Nonce != nil {
		n := *d.Nonce
		cp.Nonce = &n
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		cp.LastSeen = &t
	}
	return &cp
}

// String returns a representation with the local key masked.
func (d *Device) String() string {
	key := ""
	if d.LocalKey != "" {
		key = "[REDACTED]"
	}
	return fmt.Sprintf("Device{DUID:%q, Name:%q, Version:%s, Transport:%s, LocalIP:%q, LocalKey:%s}",
		d.DUID, d.Name, d.ProtocolVersion, d.Transport, d.LocalIP, key)
}
