package roborock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// Logger is the logging interface used by the transport clients.
// Satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Notice(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any)  {}
func (noopLogger) Info(string, ...any)   {}
func (noopLogger) Notice(string, ...any) {}
func (noopLogger) Warn(string, ...any)   {}
func (noopLogger) Error(string, ...any)  {}

// State is the connection state of a client.
type State int32

// Client states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client is the transport-agnostic contract shared by the local and cloud
// clients.
//
// Listeners run on the transport's receive goroutine. They must return
// quickly and must not call Get on the same client.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(duid string, req protocol.RequestMessage)
	Get(ctx context.Context, duid string, req protocol.RequestMessage) (protocol.DataPoint, error)
	RegisterDevice(duid, secretKey string, version protocol.Version, nonce uint32) error
	RegisterConnectionListener(l ConnectionListener)
	RegisterMessageListener(l MessageListener)
	IsConnected() bool
	State() State
	Stats() ClientStats
}

// Ensure both transports implement Client.
var (
	_ Client = (*LocalClient)(nil)
	_ Client = (*CloudClient)(nil)
)

// ClientOptions holds the session state shared between clients.
type ClientOptions struct {
	// Context is the session's message context. Required.
	Context *protocol.MessageContext

	// Serializer owns the session sequence counter. Share one between the
	// clients of a session. Created from Context when nil.
	Serializer *protocol.Serializer

	// Logger is optional.
	Logger Logger

	// RequestTimeout bounds Get. Default: 10 seconds.
	RequestTimeout time.Duration
}

// ClientStats holds operational statistics.
type ClientStats struct {
	FramesTx        uint64
	FramesRx        uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	PendingRequests int
	LastActivity    time.Time
	State           State
}

// frameWriter is the part of a client that owns the physical channel.
type frameWriter interface {
	// wireRequest returns the transport's variant of req.
	wireRequest(req protocol.RequestMessage) protocol.RequestMessage

	// writeFrame puts one serialized frame on the wire.
	writeFrame(duid string, frame []byte) error
}

// baseClient implements the transport-independent half of Client: device
// registration, Send/Get, listener chains and statistics.
type baseClient struct {
	name         string
	msgCtx       *protocol.MessageContext
	serializer   *protocol.Serializer
	deserializer *protocol.Deserializer
	pending      *pendingCalls
	writer       frameWriter
	logger       Logger

	connListeners listenerChain[ConnectionListener]
	msgListeners  listenerChain[MessageListener]

	state atomic.Int32

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

func newBaseClient(name string, opts ClientOptions, w frameWriter) (*baseClient, error) {
	if opts.Context == nil {
		return nil, errors.New("roborock: message context is required")
	}
	if opts.Serializer == nil {
		opts.Serializer = protocol.NewSerializer(opts.Context)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	b := &baseClient{
		name:         name,
		msgCtx:       opts.Context,
		serializer:   opts.Serializer,
		deserializer: protocol.NewDeserializer(opts.Context, opts.Logger),
		pending:      newPendingCalls(opts.RequestTimeout),
		writer:       w,
		logger:       opts.Logger,
	}

	// The correlation table sees every message before any other observer.
	b.msgListeners.add(b.pending)
	return b, nil
}

// RegisterDevice stores a device's secret key and protocol version in the
// shared message context.
func (b *baseClient) RegisterDevice(duid, secretKey string, version protocol.Version, nonce uint32) error {
	if err := b.msgCtx.RegisterDevice(duid, secretKey, version, nonce); err != nil {
		return fmt.Errorf("registering device %s: %w", duid, err)
	}
	return nil
}

// RegisterConnectionListener adds an observer for connection events.
func (b *baseClient) RegisterConnectionListener(l ConnectionListener) {
	b.connListeners.add(l)
}

// RegisterMessageListener adds an observer for inbound messages.
func (b *baseClient) RegisterMessageListener(l MessageListener) {
	b.msgListeners.add(l)
}

// IsConnected returns true if the transport is connected.
func (b *baseClient) IsConnected() bool {
	return b.State() == StateConnected
}

// State returns the current connection state.
func (b *baseClient) State() State {
	return State(b.state.Load())
}

func (b *baseClient) setState(s State) State {
	return State(b.state.Swap(int32(s)))
}

// Send writes req without waiting for a reply. Failures are logged, never
// returned.
func (b *baseClient) Send(duid string, req protocol.RequestMessage) {
	msg, err := b.prepare(duid, req)
	if err == nil {
		err = b.writeFrame(duid, msg.Bytes)
	}
	if err != nil {
		b.logger.Warn("dropping request",
			"client", b.name,
			"duid", duid,
			"protocol", req.Protocol.String(),
			"method", req.Method,
			"error", err,
		)
	}
}

// Get writes req and waits for the reply carrying its message id.
//
// Returns:
//   - the reply data point on success
//   - *protocol.RPCError when the device answered with an error object
//   - ErrRequestTimeout when no reply arrived within the request timeout
//   - ErrNotConnected / write errors from the transport
//   - ctx.Err() wrapped when ctx ends first
func (b *baseClient) Get(ctx context.Context, duid string, req protocol.RequestMessage) (protocol.DataPoint, error) {
	msg, err := b.prepare(duid, req)
	if err != nil {
		return protocol.DataPoint{}, err
	}

	key := callKeyFor(req, msg.MessageID)
	result, err := b.pending.register(key)
	if err != nil {
		return protocol.DataPoint{}, err
	}

	if err := b.writeFrame(duid, msg.Bytes); err != nil {
		b.pending.cancel(key)
		return protocol.DataPoint{}, err
	}

	select {
	case r := <-result:
		return r.dp, r.err
	case <-ctx.Done():
		b.pending.cancel(key)
		return protocol.DataPoint{}, fmt.Errorf("waiting for message %d: %w", msg.MessageID, ctx.Err())
	}
}

// GetAs calls c.Get and decodes the reply result into T.
func GetAs[T any](ctx context.Context, c Client, duid string, req protocol.RequestMessage) (T, error) {
	var out T
	dp, err := c.Get(ctx, duid, req)
	if err != nil {
		return out, err
	}
	if err := dp.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func (b *baseClient) prepare(duid string, req protocol.RequestMessage) (protocol.SerializedMessage, error) {
	msg, err := b.serializer.Serialize(duid, b.writer.wireRequest(req))
	if err != nil {
		return protocol.SerializedMessage{}, fmt.Errorf("serializing %s for %s: %w", req.Protocol, duid, err)
	}
	return msg, nil
}

func (b *baseClient) writeFrame(duid string, frame []byte) error {
	if err := b.writer.writeFrame(duid, frame); err != nil {
		b.errorsTotal.Add(1)
		return err
	}
	b.framesTx.Add(1)
	b.lastActivity.Store(time.Now().Unix())
	return nil
}

// handleFrame decodes one inbound frame and fans it out to the message
// listeners. Decode errors are logged and the frame is dropped.
func (b *baseClient) handleFrame(duid string, data []byte) {
	msg, err := b.deserializer.Deserialize(duid, data)
	if err != nil {
		b.errorsTotal.Add(1)
		b.logger.Error("dropping undecodable frame",
			"client", b.name,
			"duid", duid,
			"bytes", len(data),
			"error", err,
		)
		return
	}

	b.framesRx.Add(1)
	b.lastActivity.Store(time.Now().Unix())

	if hello, ok := msg.Hello(); ok {
		b.msgCtx.UpdateDeviceNonce(duid, hello.Nonce)
	}

	if msg.IsEmpty() {
		b.logger.Debug("ignored frame",
			"client", b.name,
			"duid", duid,
			"protocol", msg.Header.Protocol.String(),
		)
		return
	}

	b.msgListeners.each(b.logger, "message", func(l MessageListener) {
		l.OnMessage(msg)
	})
}

func (b *baseClient) notifyConnected() {
	b.connListeners.each(b.logger, "connected", func(l ConnectionListener) {
		l.OnConnected(b.name)
	})
}

func (b *baseClient) notifyDisconnected(err error) {
	b.connListeners.each(b.logger, "disconnected", func(l ConnectionListener) {
		l.OnDisconnected(b.name, err)
	})
}

func (b *baseClient) notifyError(err error) {
	b.connListeners.each(b.logger, "error", func(l ConnectionListener) {
		l.OnError(b.name, err)
	})
}

// Stats returns current operational statistics.
func (b *baseClient) Stats() ClientStats {
	var last time.Time
	if ts := b.lastActivity.Load(); ts != 0 {
		last = time.Unix(ts, 0)
	}
	return ClientStats{
		FramesTx:        b.framesTx.Load(),
		FramesRx:        b.framesRx.Load(),
		ErrorsTotal:     b.errorsTotal.Load(),
		ReconnectsTotal: b.reconnectsTotal.Load(),
		PendingRequests: b.pending.len(),
		LastActivity:    last,
		State:           b.State(),
	}
}
