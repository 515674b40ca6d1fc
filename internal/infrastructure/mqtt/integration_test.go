//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationOptions(clientID string) Options {
	return Options{
		BrokerURL:    "tcp://127.0.0.1:1883",
		ClientID:     clientID,
		QoS:          1,
		ReconnectMin: time.Second,
		ReconnectMax: 5 * time.Second,
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationOptions("roborock-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		Topics{}.DeviceResponses("int-user", "int-a"),
		Topics{}.DeviceResponses("int-user", "int-b"),
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	pub, err := Connect(integrationOptions("roborock-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationOptions("roborock-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(Topics{}.DeviceResponses("int-user", "int-name"), 1, func(topic string, _ []byte) error {
		once.Do(func() { received <- Topics{}.DeviceIDFromTopic(topic) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishDefault("rr/m/o/int-user/int-name/duid-7", []byte{0x01}); err != nil {
		t.Fatalf("PublishDefault() error = %v", err)
	}

	select {
	case duid := <-received:
		if duid != "duid-7" {
			t.Errorf("duid = %q, want duid-7", duid)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}
