package roborock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

const (
	testDUID     = "duid-test-1"
	testLocalKey = "0123456789abcdef"
	waitTimeout  = 2 * time.Second
)

// recordingLogger captures log messages.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any)  { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)   { l.add("INFO", msg) }
func (l *recordingLogger) Notice(msg string, _ ...any) { l.add("NOTICE", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)   { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any)  { l.add("ERROR", msg) }

func (l *recordingLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if strings.HasSuffix(e, ": "+msg) {
			n++
		}
	}
	return n
}

type connEvent struct {
	kind   string
	source string
	err    error
}

// connRecorder is a ConnectionListener that queues events.
type connRecorder struct {
	events chan connEvent
}

func newConnRecorder() *connRecorder {
	return &connRecorder{events: make(chan connEvent, 64)}
}

func (r *connRecorder) OnConnected(source string) {
	r.events <- connEvent{kind: "connected", source: source}
}

func (r *connRecorder) OnDisconnected(source string, err error) {
	r.events <- connEvent{kind: "disconnected", source: source, err: err}
}

func (r *connRecorder) OnError(source string, err error) {
	r.events <- connEvent{kind: "error", source: source, err: err}
}

// wait returns the next event of kind, discarding others.
func (r *connRecorder) wait(t *testing.T, kind string) connEvent {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.events:
			if ev.kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event within %v", kind, waitTimeout)
			return connEvent{}
		}
	}
}

// newSession returns a message context with testDUID registered.
func newSession(t *testing.T) *protocol.MessageContext {
	t.Helper()
	ctx, err := protocol.NewMessageContext("account-k")
	if err != nil {
		t.Fatalf("NewMessageContext() error = %v", err)
	}
	if err := ctx.RegisterDevice(testDUID, testLocalKey, protocol.Version10, 0); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	return ctx
}

// deviceFrame builds a frame as the device would send it, carrying dps.
func deviceFrame(t *testing.T, dps string) []byte {
	t.Helper()
	body := fmt.Sprintf(`{"dps":%s,"t":%d}`, dps, time.Now().Unix())
	msg, err := protocol.NewSerializer(newSession(t)).Serialize(testDUID, protocol.RequestMessage{
		MessageID: 1,
		Protocol:  protocol.RPCResponse,
		Body:      []byte(body),
	})
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return msg.Bytes
}

// replyFrame builds an rpc reply for message id with a JSON result.
func replyFrame(t *testing.T, id int, result string) []byte {
	t.Helper()
	inner := fmt.Sprintf(`{"id":%d,"result":%s}`, id, result)
	return deviceFrame(t, fmt.Sprintf(`{"102":%q}`, inner))
}

// handshakeFrame builds a header-only hello or ping reply with sequence seq.
func handshakeFrame(p protocol.Protocol, seq, nonce uint32) []byte {
	frame := make([]byte, protocol.HeaderSize)
	copy(frame, string(protocol.Version10))
	binary.BigEndian.PutUint32(frame[3:7], seq)
	binary.BigEndian.PutUint32(frame[7:11], nonce)
	binary.BigEndian.PutUint32(frame[11:15], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint16(frame[15:17], uint16(p))
	return frame
}

// fakeBroker implements Broker in memory.
type fakeBroker struct {
	mu           sync.Mutex
	opts         mqtt.Options
	subscribeErr error
	published    chan publishedMsg
	handler      mqtt.MessageHandler
	subTopic     string
	connected    bool
	closed       bool

	onConnect        func()
	onDisconnect     func(error)
	onSubscribeError func(string, error)
}

type publishedMsg struct {
	topic   string
	payload []byte
	qos     byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(chan publishedMsg, 16), connected: true}
}

func (b *fakeBroker) dialer() BrokerDialer {
	return func(opts mqtt.Options) (Broker, error) {
		b.mu.Lock()
		b.opts = opts
		b.mu.Unlock()
		return b, nil
	}
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, _ bool) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return errors.New("fake broker offline")
	}
	b.published <- publishedMsg{topic: topic, payload: payload, qos: qos}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.subTopic = topic
	b.handler = handler
	return nil
}

func (b *fakeBroker) SetOnConnect(cb func())                     { b.mu.Lock(); b.onConnect = cb; b.mu.Unlock() }
func (b *fakeBroker) SetOnDisconnect(cb func(error))             { b.mu.Lock(); b.onDisconnect = cb; b.mu.Unlock() }
func (b *fakeBroker) SetOnSubscribeError(cb func(string, error)) { b.mu.Lock(); b.onSubscribeError = cb; b.mu.Unlock() }

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected && !b.closed
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// deliver hands an inbound message to the subscription handler.
func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		_ = h(topic, payload)
	}
}

// nextPublish waits for one published message.
func (b *fakeBroker) nextPublish(t *testing.T) publishedMsg {
	t.Helper()
	select {
	case m := <-b.published:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("nothing published")
		return publishedMsg{}
	}
}
