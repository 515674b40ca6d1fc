package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// Frame layout sizes.
const (
	// HeaderSize is version(3) + seq(4) + nonce(4) + timestamp(4) + protocol(2).
	HeaderSize = 17

	// lengthFieldSize is the 2-byte payload length that follows the header.
	lengthFieldSize = 2

	// crcSize is the CRC32 trailer.
	crcSize = 4

	// FrameOverhead is the size of a frame with an empty payload.
	FrameOverhead = HeaderSize + lengthFieldSize + crcSize

	// maxPayloadLen is the largest payload the length field can describe.
	maxPayloadLen = 0xFFFF
)

// Message id range for requests that do not set one explicitly.
const (
	minMessageID = 10000
	maxMessageID = 32767
)

// RequestMessage is an outgoing request. It is a value type; the With*
// methods return modified copies.
type RequestMessage struct {
	// MessageID correlates the device reply with the request.
	MessageID int

	// Protocol is the frame protocol id. Defaults to RPCRequest.
	Protocol Protocol

	// Method is the device RPC method, e.g. "get_status".
	Method string

	// Params is marshalled to JSON; nil is sent as [].
	Params any

	// Secure attaches the session endpoint and serialize nonce.
	Secure bool

	// Body, when non-nil, is sent as the plaintext payload unchanged.
	Body []byte

	// Version overrides the device's registered protocol version.
	Version Version
}

// NewRequest creates an rpc_request with a random message id.
func NewRequest(method string, params any) RequestMessage {
	return RequestMessage{
		MessageID: randomMessageID(),
		Protocol:  RPCRequest,
		Method:    method,
		Params:    params,
	}
}

// NewHello creates the handshake request sent when a local connection opens.
func NewHello() RequestMessage {
	return RequestMessage{MessageID: randomMessageID(), Protocol: HelloRequest}
}

// NewPing creates a keep-alive request.
func NewPing() RequestMessage {
	return RequestMessage{MessageID: randomMessageID(), Protocol: PingRequest}
}

func randomMessageID() int {
	return minMessageID + rand.IntN(maxMessageID-minMessageID) //nolint:gosec // correlation id, not a secret
}

// WithMessageID returns a copy with an explicit message id.
func (r RequestMessage) WithMessageID(id int) RequestMessage {
	r.MessageID = id
	return r
}

// WithProtocol returns a copy with a different protocol id.
func (r RequestMessage) WithProtocol(p Protocol) RequestMessage {
	r.Protocol = p
	return r
}

// WithSecure returns a copy with the security block enabled.
func (r RequestMessage) WithSecure() RequestMessage {
	r.Secure = true
	return r
}

// WithBody returns a copy that sends body as the raw payload.
func (r RequestMessage) WithBody(body []byte) RequestMessage {
	r.Body = body
	return r
}

// WithVersion returns a copy pinned to a protocol version.
func (r RequestMessage) WithVersion(v Version) RequestMessage {
	r.Version = v
	return r
}

// ForCloud returns the broker variant of the request, which is unchanged.
func (r RequestMessage) ForCloud() RequestMessage {
	return r
}

// ForLocal returns the local socket variant: rpc_request becomes
// general_request, everything else passes through.
func (r RequestMessage) ForLocal() RequestMessage {
	if r.Protocol == RPCRequest {
		r.Protocol = GeneralRequest
	}
	return r
}

// HeaderMessage is the fixed 17-byte frame header.
type HeaderMessage struct {
	Version   Version
	Sequence  uint32
	Nonce     uint32
	Timestamp uint32
	Protocol  Protocol
}

// put writes the header into the first HeaderSize bytes of dst.
func (h HeaderMessage) put(dst []byte) {
	copy(dst[0:versionTagLen], h.Version)
	binary.BigEndian.PutUint32(dst[3:7], h.Sequence)
	binary.BigEndian.PutUint32(dst[7:11], h.Nonce)
	binary.BigEndian.PutUint32(dst[11:15], h.Timestamp)
	binary.BigEndian.PutUint16(dst[15:17], uint16(h.Protocol))
}

// parseHeader reads the header fields without validating the version.
func parseHeader(data []byte) (HeaderMessage, error) {
	if len(data) < HeaderSize {
		return HeaderMessage{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortFrame, len(data), HeaderSize)
	}
	return HeaderMessage{
		Version:   Version(data[0:versionTagLen]),
		Sequence:  binary.BigEndian.Uint32(data[3:7]),
		Nonce:     binary.BigEndian.Uint32(data[7:11]),
		Timestamp: binary.BigEndian.Uint32(data[11:15]),
		Protocol:  Protocol(binary.BigEndian.Uint16(data[15:17])),
	}, nil
}

// ContentMessage is the length-prefixed payload and CRC32 trailer.
type ContentMessage struct {
	Payload []byte
	CRC32   uint32
}

// DataPoint is one decoded entry of a response's dps map.
//
// Nested rpc replies fill ID and Result (or Error); plain status values
// such as battery level only fill Result.
type DataPoint struct {
	ID     int             `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Decode unmarshals the data point result into v.
func (d DataPoint) Decode(v any) error {
	if len(d.Result) == 0 {
		return fmt.Errorf("data point %d has no result", d.ID)
	}
	if err := json.Unmarshal(d.Result, v); err != nil {
		return fmt.Errorf("decoding data point %d: %w", d.ID, err)
	}
	return nil
}

// HelloResult is the synthesized result of hello and ping replies.
type HelloResult struct {
	Version Version `json:"version"`
	Nonce   uint32  `json:"nonce"`
}

// ResponseMessage is a decoded inbound frame. A response with a nil DPS
// map is a placeholder for a frame that was ignored.
type ResponseMessage struct {
	DUID   string
	Header HeaderMessage
	DPS    map[string]DataPoint
}

// IsEmpty reports whether the response is a null-result placeholder.
func (r *ResponseMessage) IsEmpty() bool {
	return r == nil || len(r.DPS) == 0
}

// Get returns the data point stored under a protocol id.
func (r *ResponseMessage) Get(p Protocol) (DataPoint, bool) {
	if r == nil {
		return DataPoint{}, false
	}
	dp, ok := r.DPS[p.Key()]
	return dp, ok
}

// Hello returns the handshake result of a hello or ping reply.
func (r *ResponseMessage) Hello() (HelloResult, bool) {
	for _, p := range []Protocol{HelloResponse, PingResponse} {
		if dp, ok := r.Get(p); ok {
			var h HelloResult
			if err := json.Unmarshal(dp.Result, &h); err == nil {
				return h, true
			}
		}
	}
	return HelloResult{}, false
}

func placeholder(duid string, h HeaderMessage) *ResponseMessage {
	return &ResponseMessage{DUID: duid, Header: h}
}
