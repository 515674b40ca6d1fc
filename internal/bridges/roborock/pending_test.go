package roborock

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// await reads one result or fails after a second.
func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
		return callResult{}
	}
}

func TestPendingCalls_Resolve(t *testing.T) {
	p := newPendingCalls(time.Minute)

	ch, err := p.register(rpcCall(12345))
	if err != nil {
		t.Fatalf("register() error = %v", err)
	}

	dp := protocol.DataPoint{ID: 12345, Result: json.RawMessage(`["ok"]`)}
	if !p.resolve(rpcCall(12345), dp) {
		t.Fatal("resolve() = false, want true")
	}

	r := await(t, ch)
	if r.err != nil {
		t.Errorf("err = %v, want nil", r.err)
	}
	if string(r.dp.Result) != `["ok"]` {
		t.Errorf("result = %s, want [\"ok\"]", r.dp.Result)
	}
	if p.len() != 0 {
		t.Errorf("len() = %d after resolve, want 0", p.len())
	}
	if p.resolve(rpcCall(12345), dp) {
		t.Error("second resolve() = true, want false")
	}
}

func TestPendingCalls_RPCError(t *testing.T) {
	p := newPendingCalls(time.Minute)
	ch, _ := p.register(rpcCall(7))

	p.resolve(rpcCall(7), protocol.DataPoint{ID: 7, Error: &protocol.RPCError{Code: -10007, Message: "invalid status"}})

	r := await(t, ch)
	var rpcErr *protocol.RPCError
	if !errors.As(r.err, &rpcErr) {
		t.Fatalf("err = %v, want *protocol.RPCError", r.err)
	}
	if rpcErr.Code != -10007 {
		t.Errorf("Code = %d, want -10007", rpcErr.Code)
	}
}

func TestPendingCalls_Timeout(t *testing.T) {
	p := newPendingCalls(20 * time.Millisecond)
	ch, _ := p.register(rpcCall(99))

	r := await(t, ch)
	if !errors.Is(r.err, ErrRequestTimeout) {
		t.Errorf("err = %v, want ErrRequestTimeout", r.err)
	}
	if p.len() != 0 {
		t.Errorf("len() = %d after timeout, want 0", p.len())
	}
}

func TestPendingCalls_Duplicate(t *testing.T) {
	p := newPendingCalls(time.Minute)
	if _, err := p.register(rpcCall(5)); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if _, err := p.register(rpcCall(5)); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("second register() error = %v, want ErrDuplicateRequest", err)
	}
}

func TestPendingCalls_CancelAndRejectAll(t *testing.T) {
	p := newPendingCalls(time.Minute)
	p.register(rpcCall(1))
	ch2, _ := p.register(rpcCall(2))
	ch3, _ := p.register(rpcCall(3))

	p.cancel(rpcCall(1))
	if p.len() != 2 {
		t.Fatalf("len() = %d after cancel, want 2", p.len())
	}

	p.rejectAll(ErrClientClosed)
	for _, ch := range []<-chan callResult{ch2, ch3} {
		if r := await(t, ch); !errors.Is(r.err, ErrClientClosed) {
			t.Errorf("err = %v, want ErrClientClosed", r.err)
		}
	}
	if p.len() != 0 {
		t.Errorf("len() = %d after rejectAll, want 0", p.len())
	}
}

func TestPendingCalls_OnMessage(t *testing.T) {
	p := newPendingCalls(time.Minute)
	ch, _ := p.register(rpcCall(4242))

	p.OnMessage(&protocol.ResponseMessage{DUID: "d1"})
	p.OnMessage(&protocol.ResponseMessage{
		DUID: "d1",
		DPS: map[string]protocol.DataPoint{
			protocol.Battery.Key():     {Result: json.RawMessage(`87`)},
			protocol.RPCResponse.Key(): {ID: 4242, Result: json.RawMessage(`0`)},
		},
	})

	r := await(t, ch)
	if r.err != nil || r.dp.ID != 4242 {
		t.Errorf("result = %+v, want id 4242 without error", r)
	}
}

func TestPendingCalls_HandshakeKeysAreSeparate(t *testing.T) {
	p := newPendingCalls(time.Minute)
	rpc, _ := p.register(rpcCall(12345))
	ping, _ := p.register(handshakeCall(12345))

	p.OnMessage(&protocol.ResponseMessage{
		DUID: "d1",
		DPS: map[string]protocol.DataPoint{
			protocol.PingResponse.Key(): {ID: 12345, Result: json.RawMessage(`{"version":"1.0","nonce":4242}`)},
		},
	})

	if r := await(t, ping); r.err != nil || r.dp.ID != 12345 {
		t.Errorf("ping result = %+v, want id 12345", r)
	}
	select {
	case r := <-rpc:
		t.Fatalf("rpc call resolved by ping reply: %+v", r)
	default:
	}
	if p.len() != 1 {
		t.Errorf("len() = %d, want 1", p.len())
	}
}

func TestCallKeyFor(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.RequestMessage
		want callKey
	}{
		{"rpc", protocol.NewRequest("get_status", nil), rpcCall(7)},
		{"hello", protocol.NewHello(), handshakeCall(7)},
		{"ping", protocol.NewPing(), handshakeCall(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := callKeyFor(tt.req, 7); got != tt.want {
				t.Errorf("callKeyFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultRequestTimeout(t *testing.T) {
	if p := newPendingCalls(0); p.timeout != DefaultRequestTimeout {
		t.Errorf("timeout = %v, want %v", p.timeout, DefaultRequestTimeout)
	}
}
