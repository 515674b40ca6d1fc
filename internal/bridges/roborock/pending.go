package roborock

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// DefaultRequestTimeout bounds how long Get waits for a reply.
const DefaultRequestTimeout = 10 * time.Second

type callResult struct {
	dp  protocol.DataPoint
	err error
}

type pendingCall struct {
	ch    chan callResult
	timer *time.Timer
}

// callKey identifies an outstanding Get. Hello and ping replies are
// correlated by frame sequence, which shares its range with RPC message
// ids, so the two kinds live in separate key spaces.
type callKey struct {
	handshake bool
	id        int
}

func rpcCall(id int) callKey       { return callKey{id: id} }
func handshakeCall(id int) callKey { return callKey{handshake: true, id: id} }

// callKeyFor returns the key the reply to req will be matched on.
func callKeyFor(req protocol.RequestMessage, messageID int) callKey {
	if req.Protocol.HasPayload() {
		return rpcCall(messageID)
	}
	return handshakeCall(messageID)
}

// pendingCalls correlates replies with outstanding Get calls by message id.
//
// Every entry carries its own deadline timer, so an unanswered request is
// removed and rejected with ErrRequestTimeout even when the caller's context
// has no deadline.
type pendingCalls struct {
	mu      sync.Mutex
	calls   map[callKey]*pendingCall
	timeout time.Duration
}

func newPendingCalls(timeout time.Duration) *pendingCalls {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &pendingCalls{
		calls:   make(map[callKey]*pendingCall),
		timeout: timeout,
	}
}

// register adds id and returns the channel its result is delivered on.
// The channel is buffered so resolving never blocks.
func (p *pendingCalls) register(id callKey) (<-chan callResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.calls[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateRequest, id.id)
	}

	call := &pendingCall{ch: make(chan callResult, 1)}
	call.timer = time.AfterFunc(p.timeout, func() {
		p.reject(id, fmt.Errorf("%w: message %d after %s", ErrRequestTimeout, id.id, p.timeout))
	})
	p.calls[id] = call
	return call.ch, nil
}

// take removes id and stops its timer.
func (p *pendingCalls) take(id callKey) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[id]
	if !ok {
		return nil, false
	}
	delete(p.calls, id)
	call.timer.Stop()
	return call, true
}

// resolve completes id with a reply data point. A data point carrying an
// RPC error object rejects the call with that error instead.
func (p *pendingCalls) resolve(id callKey, dp protocol.DataPoint) bool {
	call, ok := p.take(id)
	if !ok {
		return false
	}
	if dp.Error != nil {
		call.ch <- callResult{dp: dp, err: dp.Error}
		return true
	}
	call.ch <- callResult{dp: dp}
	return true
}

// reject completes id with err.
func (p *pendingCalls) reject(id callKey, err error) bool {
	call, ok := p.take(id)
	if !ok {
		return false
	}
	call.ch <- callResult{err: err}
	return true
}

// cancel drops id without delivering a result.
func (p *pendingCalls) cancel(id callKey) {
	p.take(id)
}

// rejectAll fails every outstanding call with err.
func (p *pendingCalls) rejectAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[callKey]*pendingCall)
	p.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.ch <- callResult{err: err}
	}
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// OnMessage resolves any pending call whose id appears in the message.
// Hello and ping replies only resolve handshake calls.
func (p *pendingCalls) OnMessage(msg *protocol.ResponseMessage) {
	if msg.IsEmpty() {
		return
	}
	for key, dp := range msg.DPS {
		if dp.ID == 0 {
			continue
		}
		switch key {
		case protocol.HelloResponse.Key(), protocol.PingResponse.Key():
			p.resolve(handshakeCall(dp.ID), dp)
		default:
			p.resolve(rpcCall(dp.ID), dp)
		}
	}
}
