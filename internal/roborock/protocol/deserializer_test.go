package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// recordingLogger captures log calls by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any)  { l.record("debug", msg) }
func (l *recordingLogger) Notice(msg string, _ ...any) { l.record("notice", msg) }
func (l *recordingLogger) Error(msg string, _ ...any)  { l.record("error", msg) }

func (l *recordingLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

func TestRoundTripPerVersion(t *testing.T) {
	for _, version := range []Version{Version10, VersionA01, VersionB01} {
		t.Run(string(version), func(t *testing.T) {
			ctx := newTestContext(t, version)
			s := NewSerializer(ctx)
			d := NewDeserializer(ctx, nil)

			req := NewRequest("get_status", []string{"state"}).
				WithProtocol(RPCResponse).
				WithMessageID(20001)

			msg, err := s.Serialize(testDUID, req)
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}

			resp, err := d.Deserialize(testDUID, msg.Bytes)
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			dp, ok := resp.Get(RPCResponse)
			if !ok {
				t.Fatalf("response has no rpc_response data point: %+v", resp.DPS)
			}
			if dp.ID != 20001 {
				t.Errorf("ID = %d, want 20001", dp.ID)
			}
			if dp.Method != "get_status" {
				t.Errorf("Method = %q, want get_status", dp.Method)
			}
			var params []string
			if err := json.Unmarshal(dp.Params, &params); err != nil {
				t.Fatalf("params decode error = %v", err)
			}
			if len(params) != 1 || params[0] != "state" {
				t.Errorf("Params = %v, want [state]", params)
			}
			if resp.Header.Version != version {
				t.Errorf("Header.Version = %q, want %q", resp.Header.Version, version)
			}
		})
	}
}

func TestRoundTripGeneralRequest(t *testing.T) {
	ctx := newTestContext(t, Version10)
	s := NewSerializer(ctx)
	d := NewDeserializer(ctx, nil)

	msg, err := s.Serialize(testDUID, NewRequest("get_prop", []string{"get_status"}).ForLocal())
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	resp, err := d.Deserialize(testDUID, msg.Bytes)
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	dp, ok := resp.Get(GeneralRequest)
	if !ok {
		t.Fatalf("missing general_request data point: %+v", resp.DPS)
	}
	if dp.ID != msg.MessageID {
		t.Errorf("ID = %d, want %d", dp.ID, msg.MessageID)
	}
}

func TestSecureRequestCarriesSecurityBlock(t *testing.T) {
	ctx := newTestContext(t, Version10)
	s := newFixedSerializer(ctx)

	msg, err := s.Serialize(testDUID, NewRequest("get_map_v1", nil).WithSecure())
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	content, err := parseContent(msg.Bytes)
	if err != nil {
		t.Fatalf("parseContent() error = %v", err)
	}
	plain, err := legacyCipher{}.Decrypt(content.Payload, testKey, cipherParams{Timestamp: 1700000000})
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	var envelope struct {
		DPS map[string]string `json:"dps"`
		T   uint32            `json:"t"`
	}
	if err := json.Unmarshal(plain, &envelope); err != nil {
		t.Fatalf("payload decode error = %v", err)
	}
	if envelope.T != 1700000000 {
		t.Errorf("t = %d, want 1700000000", envelope.T)
	}

	var body rpcBody
	if err := json.Unmarshal([]byte(envelope.DPS["101"]), &body); err != nil {
		t.Fatalf("rpc body decode error = %v", err)
	}
	if body.Security == nil {
		t.Fatal("security block missing")
	}
	if body.Security.Endpoint != ctx.Endpoint() {
		t.Errorf("endpoint = %q, want %q", body.Security.Endpoint, ctx.Endpoint())
	}
	if body.Security.Nonce != ctx.SerializeNonce() {
		t.Errorf("nonce = %q, want %q", body.Security.Nonce, ctx.SerializeNonce())
	}
}

func TestPassthroughBody(t *testing.T) {
	ctx := newTestContext(t, VersionB01)
	s := NewSerializer(ctx)
	d := NewDeserializer(ctx, nil)

	raw := []byte(`{"dps":{"121":8,"122":95}}`)
	msg, err := s.Serialize(testDUID, NewRequest("", nil).WithProtocol(RPCResponse).WithBody(raw))
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	resp, err := d.Deserialize(testDUID, msg.Bytes)
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}

	var battery int
	dp, ok := resp.Get(Battery)
	if !ok {
		t.Fatalf("missing battery data point: %+v", resp.DPS)
	}
	if err := dp.Decode(&battery); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if battery != 95 {
		t.Errorf("battery = %d, want 95", battery)
	}
}

func TestDeserializeBitFlipFailsIntegrity(t *testing.T) {
	ctx := newTestContext(t, Version10)
	s := NewSerializer(ctx)
	d := NewDeserializer(ctx, nil)

	msg, err := s.Serialize(testDUID, NewRequest("get_status", nil).WithProtocol(RPCResponse))
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	for i := range len(msg.Bytes) * 8 {
		corrupted := append([]byte(nil), msg.Bytes...)
		corrupted[i/8] ^= 1 << (i % 8)

		if _, err := d.Deserialize(testDUID, corrupted); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("bit %d: Deserialize() error = %v, want ErrIntegrity", i, err)
		}
	}
}

func TestDeserializeUnknownDevice(t *testing.T) {
	ctx := newTestContext(t, Version10)
	s := NewSerializer(ctx)
	logger := &recordingLogger{}

	msg, err := s.Serialize(testDUID, NewRequest("get_status", nil).WithProtocol(RPCResponse))
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	other, err := NewMessageContext("")
	if err != nil {
		t.Fatalf("NewMessageContext() error = %v", err)
	}
	resp, err := NewDeserializer(other, logger).Deserialize(testDUID, msg.Bytes)
	if err != nil {
		t.Fatalf("Deserialize() error = %v, want nil", err)
	}
	if !resp.IsEmpty() {
		t.Errorf("expected placeholder, got %+v", resp.DPS)
	}
	if !logger.has("notice") {
		t.Error("expected a notice log entry")
	}
}

func TestDeserializeHandshakeResponses(t *testing.T) {
	ctx := newTestContext(t, Version10)
	d := NewDeserializer(ctx, nil)

	for _, p := range []Protocol{HelloResponse, PingResponse} {
		t.Run(p.String(), func(t *testing.T) {
			frame := make([]byte, HeaderSize)
			HeaderMessage{Version: Version10, Sequence: 7, Nonce: 99887, Timestamp: 1, Protocol: p}.put(frame)

			resp, err := d.Deserialize(testDUID, frame)
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			dp, ok := resp.Get(p)
			if !ok {
				t.Fatalf("missing %s data point", p)
			}
			if dp.ID != 7 {
				t.Errorf("ID = %d, want 7", dp.ID)
			}
			hello, ok := resp.Hello()
			if !ok {
				t.Fatal("Hello() = false")
			}
			if hello.Nonce != 99887 || hello.Version != Version10 {
				t.Errorf("Hello() = %+v, want nonce 99887 version 1.0", hello)
			}
		})
	}
}

func TestDeserializePlaceholders(t *testing.T) {
	ctx := newTestContext(t, Version10)
	logger := &recordingLogger{}
	d := NewDeserializer(ctx, logger)

	tests := []struct {
		name     string
		protocol Protocol
		logLevel string
	}{
		{name: "map response", protocol: MapResponse, logLevel: "debug"},
		{name: "unknown protocol", protocol: Protocol(999), logLevel: "error"},
		{name: "status update frame", protocol: StatusUpdate, logLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodeFrame(HeaderMessage{Version: Version10, Protocol: tt.protocol}, []byte("0123456789abcdef"))
			resp, err := d.Deserialize(testDUID, frame)
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if !resp.IsEmpty() {
				t.Errorf("expected placeholder, got %+v", resp.DPS)
			}
			if !logger.has(tt.logLevel) {
				t.Errorf("expected a %s log entry", tt.logLevel)
			}
		})
	}
}

func TestDeserializeErrors(t *testing.T) {
	ctx := newTestContext(t, Version10)
	d := NewDeserializer(ctx, nil)

	unknownVersion := encodeFrame(HeaderMessage{Version: "Z99", Protocol: RPCResponse}, []byte("x"))
	l01 := encodeFrame(HeaderMessage{Version: VersionL01, Protocol: RPCResponse}, []byte("x"))
	badHello := make([]byte, HeaderSize)
	HeaderMessage{Version: "Z99", Protocol: HelloResponse}.put(badHello)
	badCipher := encodeFrame(HeaderMessage{Version: Version10, Protocol: RPCResponse}, []byte("not-a-block"))

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "short frame", data: []byte("1.0"), wantErr: ErrShortFrame},
		{name: "header only", data: l01[:HeaderSize], wantErr: ErrIntegrity},
		{name: "unknown version", data: unknownVersion, wantErr: ErrUnsupportedVersion},
		{name: "version without cipher", data: l01, wantErr: ErrCipherUnavailable},
		{name: "unknown version hello", data: badHello, wantErr: ErrUnsupportedVersion},
		{name: "undecryptable payload", data: badCipher, wantErr: ErrDecryptFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Deserialize(testDUID, tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("Deserialize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractDPSMalformed(t *testing.T) {
	ctx := newTestContext(t, Version10)
	logger := &recordingLogger{}
	d := NewDeserializer(ctx, logger)

	resp := d.extractDPS(testDUID, HeaderMessage{}, []byte(`{not json`))
	if !resp.IsEmpty() {
		t.Error("malformed payload should yield a placeholder")
	}

	resp = d.extractDPS(testDUID, HeaderMessage{}, []byte(`{"dps":{"102":"{broken","122":50}}`))
	if _, ok := resp.Get(RPCResponse); ok {
		t.Error("malformed nested entry should be skipped")
	}
	if _, ok := resp.Get(Battery); !ok {
		t.Error("sibling entries should survive a malformed nested entry")
	}
	if !logger.has("error") {
		t.Error("expected an error log entry")
	}
}

func TestExtractDPSRPCError(t *testing.T) {
	ctx := newTestContext(t, Version10)
	d := NewDeserializer(ctx, nil)

	resp := d.extractDPS(testDUID, HeaderMessage{},
		[]byte(`{"dps":{"102":"{\"id\":11000,\"error\":{\"code\":-10000,\"message\":\"method not found\"}}"}}`))

	dp, ok := resp.Get(RPCResponse)
	if !ok {
		t.Fatal("missing rpc_response data point")
	}
	if dp.Error == nil || dp.Error.Code != -10000 {
		t.Errorf("Error = %+v, want code -10000", dp.Error)
	}
}
