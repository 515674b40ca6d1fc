package protocol

import "strconv"

// Protocol identifies the kind of a frame. The numeric values are part of
// the wire contract and must not be renumbered.
type Protocol uint16

// Protocol ids as carried in the 2-byte header field.
const (
	HelloRequest    Protocol = 0
	HelloResponse   Protocol = 1
	PingRequest     Protocol = 2
	PingResponse    Protocol = 3
	GeneralRequest  Protocol = 4
	GeneralResponse Protocol = 5
	RPCRequest      Protocol = 101
	RPCResponse     Protocol = 102
	ErrorCode       Protocol = 120
	StatusUpdate    Protocol = 121
	Battery         Protocol = 122
	SuctionPower    Protocol = 123
	WaterBoxMode    Protocol = 124
	AdditionalProps Protocol = 128
	MapResponse     Protocol = 301
)

var protocolNames = map[Protocol]string{
	HelloRequest:    "hello_request",
	HelloResponse:   "hello_response",
	PingRequest:     "ping_request",
	PingResponse:    "ping_response",
	GeneralRequest:  "general_request",
	GeneralResponse: "general_response",
	RPCRequest:      "rpc_request",
	RPCResponse:     "rpc_response",
	ErrorCode:       "error",
	StatusUpdate:    "status_update",
	Battery:         "battery",
	SuctionPower:    "suction_power",
	WaterBoxMode:    "water_box_mode",
	AdditionalProps: "additional_props",
	MapResponse:     "map_response",
}

// String returns the protocol name, or "unknown(N)".
func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(p)) + ")"
}

// Key returns the protocol id formatted as a dps key ("102").
func (p Protocol) Key() string {
	return strconv.Itoa(int(p))
}

// HasPayload reports whether frames of this protocol carry encrypted content.
// Hello and ping requests are sent with an empty payload.
func (p Protocol) HasPayload() bool {
	return p != HelloRequest && p != PingRequest
}

// isHandshakeResponse reports whether p is a hello or ping reply, which the
// device sends without content.
func (p Protocol) isHandshakeResponse() bool {
	return p == HelloResponse || p == PingResponse
}

func itoa(n int) string { return strconv.Itoa(n) }
