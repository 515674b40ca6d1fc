package roborock

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/audit"
	"github.com/nerrad567/gray-logic-roborock/internal/device"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

type fakeStore struct {
	mu      sync.Mutex
	devices []device.Device
	nonces  map[string]uint32
	seen    map[string]int
}

func newFakeStore(devices ...device.Device) *fakeStore {
	return &fakeStore{devices: devices, nonces: make(map[string]uint32), seen: make(map[string]int)}
}

func (s *fakeStore) ListDevices(context.Context) ([]device.Device, error) {
	return s.devices, nil
}

func (s *fakeStore) RecordNonce(_ context.Context, duid string, nonce uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[duid] = nonce
	return nil
}

func (s *fakeStore) MarkSeen(_ context.Context, duid string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[duid]++
	return nil
}

type linkEvent struct {
	duid, transport string
	connected       bool
}

type fakeTelemetry struct {
	mu     sync.Mutex
	states []map[string]interface{}
	links  []linkEvent
}

func (f *fakeTelemetry) WriteState(_ string, fields map[string]interface{}) {
	f.mu.Lock()
	f.states = append(f.states, fields)
	f.mu.Unlock()
}

func (f *fakeTelemetry) WriteLinkEvent(duid, transport string, connected bool) {
	f.mu.Lock()
	f.links = append(f.links, linkEvent{duid, transport, connected})
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.CommandLog
}

func (r *fakeRecorder) Create(_ context.Context, log *audit.CommandLog) error {
	r.mu.Lock()
	r.entries = append(r.entries, *log)
	r.mu.Unlock()
	return nil
}

func testDevice(duid string, transport device.Transport, ip string) device.Device {
	return device.Device{
		DUID:            duid,
		Name:            duid,
		LocalKey:        testLocalKey,
		ProtocolVersion: "1.0",
		LocalIP:         ip,
		Transport:       transport,
	}
}

func testBridgeConfig(localPort int, withAccount bool) *config.Config {
	cfg := &config.Config{
		MQTT:     config.MQTTConfig{QoS: 1},
		Local:    config.LocalConfig{Port: localPort, ConnectTimeout: 1, WriteTimeout: 1, PingInterval: 3600, WatchdogInterval: 3600},
		Requests: config.RequestsConfig{Timeout: 1},
	}
	if withAccount {
		cfg.Account = config.AccountConfig{
			UserID:  "user-1",
			Secret:  "secret-s",
			Key:     "key-k",
			MQTTURL: "ssl://mqtt-eu-3.roborock.com:8883",
		}
	}
	return cfg
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNewBridge_Validation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{Devices: newFakeStore()}); err == nil {
		t.Error("NewBridge() without config error = nil")
	}
	if _, err := NewBridge(BridgeOptions{Config: testBridgeConfig(0, false)}); err == nil {
		t.Error("NewBridge() without device store error = nil")
	}
}

func TestBridge_RoutesAndFallsBackToCloud(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(
		testDevice(testDUID, device.TransportAuto, "127.0.0.1"),
		testDevice("duid-cloud", device.TransportCloud, ""),
		device.Device{DUID: "duid-bad", LocalKey: testLocalKey, ProtocolVersion: "X99", Transport: device.TransportCloud},
	)
	telemetry := &fakeTelemetry{}
	recorder := &fakeRecorder{}

	b, err := NewBridge(BridgeOptions{
		Config:       testBridgeConfig(closedPort(t), true),
		Devices:      store,
		Telemetry:    telemetry,
		Audit:        recorder,
		Logger:       &recordingLogger{},
		BrokerDialer: broker.dialer(),
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	devices := b.Devices()
	if len(devices) != 2 || devices[0].DUID != "duid-cloud" || devices[1].DUID != testDUID {
		t.Fatalf("Devices() = %v, want duid-cloud and %s", devices, testDUID)
	}

	// The local socket is down, so the auto device goes through the cloud.
	c, err := b.clientFor(testDUID)
	if err != nil {
		t.Fatalf("clientFor() error = %v", err)
	}
	if c != b.cloud {
		t.Errorf("clientFor(%s) = %T, want the cloud client", testDUID, c)
	}

	go func() {
		msg := broker.nextPublish(t)
		if msg.topic == b.cloud.RequestTopic(testDUID) {
			broker.deliver("rr/m/o/user-1/709950c9/"+testDUID, replyFrame(t, 32000, `"ok"`))
		}
	}()
	dp, err := b.Get(context.Background(), testDUID, protocol.NewRequest("find_me", nil).WithMessageID(32000))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(dp.Result) != `"ok"` {
		t.Errorf("result = %s, want \"ok\"", dp.Result)
	}

	if _, err := b.Get(context.Background(), "unknown", protocol.NewRequest("find_me", nil)); !errors.Is(err, ErrNoRoute) {
		t.Errorf("Get(unknown) error = %v, want ErrNoRoute", err)
	}
	if err := b.Send("unknown", protocol.NewRequest("find_me", nil)); !errors.Is(err, ErrNoRoute) {
		t.Errorf("Send(unknown) error = %v, want ErrNoRoute", err)
	}

	if len(recorder.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1 (routing failures are not recorded)", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.DUID != testDUID || entry.Method != "find_me" || entry.Transport != "cloud" ||
		entry.MessageID != 32000 || entry.Outcome != audit.OutcomeOK {
		t.Errorf("audit entry = %+v", entry)
	}

	telemetry.mu.Lock()
	links := append([]linkEvent(nil), telemetry.links...)
	telemetry.mu.Unlock()
	if len(links) == 0 || links[0] != (linkEvent{transport: "cloud", connected: true}) {
		t.Errorf("link events = %+v, want cloud connected first", links)
	}

	stats := b.Stats()
	if stats.Cloud == nil || stats.Cloud.FramesTx != 1 {
		t.Errorf("cloud stats = %+v, want one frame sent", stats.Cloud)
	}
	if _, ok := stats.Local[testDUID]; !ok {
		t.Errorf("local stats missing %s", testDUID)
	}
}

func TestBridge_LocalDevice(t *testing.T) {
	dev := newFakeDevice(t)
	store := newFakeStore(
		testDevice(testDUID, device.TransportLocal, "127.0.0.1"),
		testDevice("duid-cloud", device.TransportCloud, ""),
	)

	b, err := NewBridge(BridgeOptions{
		Config:  testBridgeConfig(dev.port(), false),
		Devices: store,
		Logger:  &recordingLogger{},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	if got := len(b.Devices()); got != 1 {
		t.Errorf("Devices() = %d, want 1 (cloud device has no route without an account)", got)
	}

	conn := dev.accept(t)
	readSegment(t, conn) // hello

	if err := b.Send(testDUID, protocol.NewRequest("app_charge", nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if p := frameProtocol(readSegment(t, conn)); p != protocol.GeneralRequest {
		t.Errorf("protocol = %s, want general_request", p)
	}
}

func TestBridge_HandleMessage(t *testing.T) {
	store := newFakeStore(testDevice(testDUID, device.TransportLocal, "127.0.0.1"))
	telemetry := &fakeTelemetry{}
	b, err := NewBridge(BridgeOptions{
		Config:    testBridgeConfig(0, false),
		Devices:   store,
		Telemetry: telemetry,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	b.handleMessage(&protocol.ResponseMessage{
		DUID: testDUID,
		DPS: map[string]protocol.DataPoint{
			protocol.HelloResponse.Key(): {ID: 3, Result: json.RawMessage(`{"version":"1.0","nonce":4321}`)},
		},
	})
	b.handleMessage(&protocol.ResponseMessage{
		DUID: testDUID,
		DPS: map[string]protocol.DataPoint{
			protocol.Battery.Key():      {Result: json.RawMessage(`87`)},
			protocol.StatusUpdate.Key(): {Result: json.RawMessage(`8`)},
			protocol.RPCResponse.Key():  {ID: 10, Result: json.RawMessage(`["ok"]`)},
		},
	})

	if store.nonces[testDUID] != 4321 {
		t.Errorf("recorded nonce = %d, want 4321", store.nonces[testDUID])
	}
	if store.seen[testDUID] != 1 {
		t.Errorf("MarkSeen calls = %d, want 1 (throttled)", store.seen[testDUID])
	}

	if len(telemetry.states) != 1 {
		t.Fatalf("state writes = %d, want 1", len(telemetry.states))
	}
	got := telemetry.states[0]
	if got["battery"] != int64(87) || got["state"] != int64(8) || len(got) != 2 {
		t.Errorf("fields = %v, want battery 87 and state 8", got)
	}
}

func TestBridge_RecordLink(t *testing.T) {
	telemetry := &fakeTelemetry{}
	b, err := NewBridge(BridgeOptions{
		Config:    testBridgeConfig(0, false),
		Devices:   newFakeStore(),
		Telemetry: telemetry,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	b.recordLink("local:"+testDUID, true)
	b.recordLink("cloud", false)

	want := []linkEvent{
		{duid: testDUID, transport: "local", connected: true},
		{transport: "cloud", connected: false},
	}
	if len(telemetry.links) != len(want) {
		t.Fatalf("links = %+v, want %+v", telemetry.links, want)
	}
	for i := range want {
		if telemetry.links[i] != want[i] {
			t.Errorf("links[%d] = %+v, want %+v", i, telemetry.links[i], want[i])
		}
	}
}

func TestCommandOutcome(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		fireAndForget bool
		want          string
	}{
		{"sent", nil, true, audit.OutcomeSent},
		{"reply", nil, false, audit.OutcomeOK},
		{"timeout", ErrRequestTimeout, false, audit.OutcomeTimeout},
		{"rpc error", &protocol.RPCError{Code: -10007, Message: "invalid status"}, false, audit.OutcomeRPCError},
		{"transport", ErrNotConnected, false, audit.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commandOutcome(tt.err, tt.fireAndForget); got != tt.want {
				t.Errorf("commandOutcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
