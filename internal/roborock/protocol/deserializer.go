package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// Deserializer decodes wire frames into responses.
//
// Only version errors, integrity failures and decryption failures are
// returned as errors. Frames for unregistered devices, map responses and
// unknown protocol ids yield a placeholder response so one odd frame cannot
// stop a transport's read loop.
type Deserializer struct {
	ctx    *MessageContext
	logger Logger
}

// NewDeserializer creates a deserializer bound to a session context.
// logger may be nil.
func NewDeserializer(ctx *MessageContext, logger Logger) *Deserializer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Deserializer{ctx: ctx, logger: logger}
}

// Deserialize decodes one frame received for duid.
func (d *Deserializer) Deserialize(duid string, data []byte) (*ResponseMessage, error) {
	header, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	if header.Protocol.isHandshakeResponse() {
		if _, err := ParseVersion(string(header.Version)); err != nil {
			return nil, err
		}
		return handshakeResponse(duid, header)
	}

	content, err := parseContent(data)
	if err != nil {
		return nil, err
	}

	strat, err := header.Version.strategy()
	if err != nil {
		return nil, err
	}

	creds, ok := d.ctx.Device(duid)
	if !ok {
		d.logger.Notice("ignoring frame for device outside this account",
			"duid", duid,
			"protocol", header.Protocol.String(),
		)
		return placeholder(duid, header), nil
	}

	switch header.Protocol {
	case MapResponse:
		d.logger.Debug("map responses are not supported", "duid", duid)
		return placeholder(duid, header), nil

	case RPCResponse, GeneralRequest, GeneralResponse:
		plain, err := strat.cipher.Decrypt(content.Payload, creds.SecretKey, cipherParams{
			Timestamp:    header.Timestamp,
			Sequence:     header.Sequence,
			Nonce:        header.Nonce,
			ConnectNonce: d.ctx.Nonce(),
			AckNonce:     creds.Nonce,
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", duid, err)
		}
		return d.extractDPS(duid, header, plain), nil

	default:
		d.logger.Error("unknown protocol in frame",
			"duid", duid,
			"protocol", header.Protocol.String(),
		)
		return placeholder(duid, header), nil
	}
}

// parseContent validates the length field and CRC32 trailer.
// The frame must be exactly FrameOverhead + payload length bytes.
func parseContent(data []byte) (ContentMessage, error) {
	if len(data) < FrameOverhead {
		return ContentMessage{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrIntegrity, len(data), FrameOverhead)
	}

	payloadLen := int(binary.BigEndian.Uint16(data[HeaderSize:]))
	if len(data) != FrameOverhead+payloadLen {
		return ContentMessage{}, fmt.Errorf("%w: declared payload %d bytes, frame holds %d",
			ErrIntegrity, payloadLen, len(data)-FrameOverhead)
	}

	crcOffset := len(data) - crcSize
	want := binary.BigEndian.Uint32(data[crcOffset:])
	if got := crc32.ChecksumIEEE(data[:crcOffset]); got != want {
		return ContentMessage{}, fmt.Errorf("%w: crc32 0x%08X, trailer 0x%08X", ErrIntegrity, got, want)
	}

	start := HeaderSize + lengthFieldSize
	return ContentMessage{
		Payload: data[start : start+payloadLen],
		CRC32:   want,
	}, nil
}

// handshakeResponse synthesizes the data point for hello and ping replies,
// which carry the device's version and nonce in the header only.
func handshakeResponse(duid string, h HeaderMessage) (*ResponseMessage, error) {
	result, err := json.Marshal(HelloResult{Version: h.Version, Nonce: h.Nonce})
	if err != nil {
		return nil, fmt.Errorf("encoding handshake result: %w", err)
	}
	return &ResponseMessage{
		DUID:   duid,
		Header: h,
		DPS: map[string]DataPoint{
			h.Protocol.Key(): {ID: int(h.Sequence), Result: result},
		},
	}, nil
}

// nestedKeys are dps entries whose values are JSON documents encoded as strings.
var nestedKeys = map[string]bool{
	GeneralRequest.Key(): true,
	RPCResponse.Key():    true,
}

// extractDPS parses the decrypted payload into data points. Malformed JSON is
// logged and yields a placeholder or skips the affected entry.
func (d *Deserializer) extractDPS(duid string, h HeaderMessage, plain []byte) *ResponseMessage {
	var envelope struct {
		DPS map[string]json.RawMessage `json:"dps"`
	}
	if err := json.Unmarshal(plain, &envelope); err != nil {
		d.logger.Error("malformed payload JSON", "duid", duid, "error", err)
		return placeholder(duid, h)
	}

	resp := placeholder(duid, h)
	for key, raw := range envelope.DPS {
		if !nestedKeys[key] {
			if resp.DPS == nil {
				resp.DPS = make(map[string]DataPoint, len(envelope.DPS))
			}
			resp.DPS[key] = DataPoint{Result: raw}
			continue
		}

		dp, err := parseNested(raw)
		if err != nil {
			d.logger.Error("malformed data point JSON", "duid", duid, "key", key, "error", err)
			continue
		}
		if resp.DPS == nil {
			resp.DPS = make(map[string]DataPoint, len(envelope.DPS))
		}
		resp.DPS[key] = dp
	}
	return resp
}

// parseNested decodes a dps value that is either a JSON string holding a
// document or the document itself.
func parseNested(raw json.RawMessage) (DataPoint, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}

	var dp DataPoint
	if err := json.Unmarshal(raw, &dp); err != nil {
		return DataPoint{}, fmt.Errorf("decoding nested data point: %w", err)
	}
	return dp, nil
}
