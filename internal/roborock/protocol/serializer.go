package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Header nonce range for outgoing frames.
const (
	minFrameNonce = 10000
	maxFrameNonce = 100000
)

// SerializedMessage is a frame ready to be written to a transport.
type SerializedMessage struct {
	// MessageID is the id a reply will carry. For hello and ping requests,
	// which have no payload, it is the frame sequence number.
	MessageID int

	// Bytes is the complete wire frame.
	Bytes []byte
}

// Serializer builds wire frames.
//
// A Serializer owns the client-wide sequence counter: it starts at 1,
// increases on every Serialize call regardless of device or transport, and
// wraps at 2^32. Share one Serializer between the local and cloud clients of
// a session.
//
// Thread Safety: All methods are safe for concurrent use.
type Serializer struct {
	ctx *MessageContext
	seq atomic.Uint32

	now       func() time.Time
	nextNonce func() uint32
}

// NewSerializer creates a serializer bound to a session context.
func NewSerializer(ctx *MessageContext) *Serializer {
	return &Serializer{
		ctx: ctx,
		now: time.Now,
		nextNonce: func() uint32 {
			return uint32(minFrameNonce + rand.IntN(maxFrameNonce-minFrameNonce)) //nolint:gosec // not a secret
		},
	}
}

// Serialize encodes req as a frame addressed to duid.
//
// The version is req.Version when set, otherwise the device's registered
// version. Hello and ping requests are sent with an empty payload; every
// other protocol needs the device's secret key.
//
// Returns:
//   - ErrUnsupportedVersion / ErrCipherUnavailable for unusable versions
//   - ErrUnknownDevice when the device is not registered
//   - ErrPayloadTooLarge when the encrypted payload overflows the length field
func (s *Serializer) Serialize(duid string, req RequestMessage) (SerializedMessage, error) {
	seq := s.seq.Add(1)

	creds, registered := s.ctx.Device(duid)
	version := req.Version
	if version == "" {
		if !registered {
			return SerializedMessage{}, fmt.Errorf("%w: %s", ErrUnknownDevice, duid)
		}
		version = creds.Version
	}

	strat, err := version.strategy()
	if err != nil {
		return SerializedMessage{}, err
	}

	header := HeaderMessage{
		Version:   version,
		Sequence:  seq,
		Nonce:     s.nextNonce(),
		Timestamp: uint32(s.now().Unix()), // #nosec G115 -- wire format is 32-bit seconds
		Protocol:  req.Protocol,
	}

	var payload []byte
	messageID := req.MessageID
	if req.Protocol.HasPayload() {
		if !registered {
			return SerializedMessage{}, fmt.Errorf("%w: %s", ErrUnknownDevice, duid)
		}
		payload, err = s.encrypt(strat, req, header, creds)
		if err != nil {
			return SerializedMessage{}, err
		}
	} else {
		messageID = int(seq)
	}

	if len(payload) > maxPayloadLen {
		return SerializedMessage{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	return SerializedMessage{
		MessageID: messageID,
		Bytes:     encodeFrame(header, payload),
	}, nil
}

// encrypt builds and encrypts the plaintext payload.
func (s *Serializer) encrypt(strat strategy, req RequestMessage, h HeaderMessage, creds DeviceCredentials) ([]byte, error) {
	sec := securityInfo{
		Endpoint: s.ctx.Endpoint(),
		Nonce:    s.ctx.SerializeNonce(),
	}

	plain, err := builderFor(strat, req).Build(req, sec, h.Timestamp)
	if err != nil {
		return nil, err
	}

	return strat.cipher.Encrypt(plain, creds.SecretKey, cipherParams{
		Timestamp:    h.Timestamp,
		Sequence:     h.Sequence,
		Nonce:        h.Nonce,
		ConnectNonce: s.ctx.Nonce(),
		AckNonce:     creds.Nonce,
	})
}

// encodeFrame lays out header | len | payload | crc32.
func encodeFrame(h HeaderMessage, payload []byte) []byte {
	frame := make([]byte, FrameOverhead+len(payload))
	h.put(frame)
	binary.BigEndian.PutUint16(frame[HeaderSize:], uint16(len(payload))) // #nosec G115 -- checked against maxPayloadLen

	copy(frame[HeaderSize+lengthFieldSize:], payload)

	crcOffset := len(frame) - crcSize
	binary.BigEndian.PutUint32(frame[crcOffset:], crc32.ChecksumIEEE(frame[:crcOffset]))
	return frame
}
