package protocol

import (
	"encoding/json"
	"fmt"
)

// securityInfo is attached to secure requests so the device can encrypt
// large replies for this session.
type securityInfo struct {
	Endpoint string `json:"endpoint"`
	Nonce    string `json:"nonce"`
}

// payloadBuilder shapes the plaintext JSON for one version.
type payloadBuilder interface {
	Build(req RequestMessage, sec securityInfo, timestamp uint32) ([]byte, error)
}

// rpcBody is the inner object carried as a JSON string under the dps key.
type rpcBody struct {
	ID       int           `json:"id"`
	Method   string        `json:"method"`
	Params   any           `json:"params"`
	Security *securityInfo `json:"security,omitempty"`
}

// dpsEnvelope is the outer payload object.
type dpsEnvelope struct {
	DPS map[string]string `json:"dps"`
	T   uint32            `json:"t"`
}

// dpsBuilder produces {"dps":{"<protocol>":"<rpc JSON>"},"t":ts}.
type dpsBuilder struct{}

func (dpsBuilder) Build(req RequestMessage, sec securityInfo, timestamp uint32) ([]byte, error) {
	params := req.Params
	if params == nil {
		params = []any{}
	}

	body := rpcBody{
		ID:     req.MessageID,
		Method: req.Method,
		Params: params,
	}
	if req.Secure {
		body.Security = &sec
	}

	inner, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding rpc body: %w", err)
	}

	out, err := json.Marshal(dpsEnvelope{
		DPS: map[string]string{req.Protocol.Key(): string(inner)},
		T:   timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return out, nil
}

// passthroughBuilder sends a caller-supplied body unchanged.
type passthroughBuilder struct{}

func (passthroughBuilder) Build(req RequestMessage, _ securityInfo, _ uint32) ([]byte, error) {
	return req.Body, nil
}

// builderFor picks the pass-through builder when the request carries a raw body.
func builderFor(s strategy, req RequestMessage) payloadBuilder {
	if req.Body != nil {
		return passthroughBuilder{}
	}
	return s.builder
}
