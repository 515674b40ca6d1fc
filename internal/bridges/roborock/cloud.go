package roborock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// Broker is the subset of the MQTT client the cloud transport uses.
// Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetOnSubscribeError(callback func(topic string, err error))
	IsConnected() bool
	Close() error
}

// Ensure the infrastructure client satisfies Broker.
var _ Broker = (*mqtt.Client)(nil)

// BrokerDialer opens a broker session.
type BrokerDialer func(opts mqtt.Options) (Broker, error)

func dialBroker(opts mqtt.Options) (Broker, error) {
	client, err := mqtt.Connect(opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// CloudConfig holds the account secrets and broker tuning for the cloud
// transport.
type CloudConfig struct {
	// UserID, Secret and Key are the account's rriot u, s and k values.
	UserID string
	Secret string
	Key    string

	// BrokerURL is the account's broker address (rriot r.m).
	BrokerURL string

	// MQTT carries keep-alive, timeouts, reconnect backoff and QoS.
	// Address and credentials are filled in by the client. A zero QoS is
	// raised to 1.
	MQTT mqtt.Options

	// Dialer opens the broker session. Defaults to mqtt.Connect.
	Dialer BrokerDialer
}

// CloudConfigFromConfig builds a CloudConfig from the account and mqtt
// configuration sections.
func CloudConfigFromConfig(account config.AccountConfig, m config.MQTTConfig) CloudConfig {
	return CloudConfig{
		UserID:    account.UserID,
		Secret:    account.Secret,
		Key:       account.Key,
		BrokerURL: account.MQTTURL,
		MQTT:      mqtt.OptionsFromConfig(m),
	}
}

// CloudClient reaches every device on an account through the cloud broker.
//
// One broker session serves all devices. Requests are published to the
// device's request topic; a single wildcard subscription receives every
// reply and the duid is read from the last topic segment. The subscription
// is restored by the broker wrapper after every reconnect.
//
// Thread Safety: All methods are safe for concurrent use.
type CloudClient struct {
	*baseClient

	cfg    CloudConfig
	creds  Credentials
	topics mqtt.Topics

	lifecycleMu sync.Mutex

	brokerMu sync.RWMutex
	broker   Broker
}

// NewCloudClient creates an unconnected cloud client.
func NewCloudClient(cfg CloudConfig, opts ClientOptions) (*CloudClient, error) {
	if cfg.UserID == "" || cfg.Secret == "" || cfg.Key == "" {
		return nil, errors.New("roborock: cloud client requires account user id, secret and key")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("roborock: cloud client requires a broker URL")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = dialBroker
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}

	c := &CloudClient{
		cfg:   cfg,
		creds: DeriveCredentials(cfg.UserID, cfg.Secret, cfg.Key),
	}
	base, err := newBaseClient("cloud", opts, c)
	if err != nil {
		return nil, err
	}
	c.baseClient = base
	return c, nil
}

// Username returns the derived broker username.
func (c *CloudClient) Username() string {
	return c.creds.Username
}

// RequestTopic returns the topic requests to duid are published on.
func (c *CloudClient) RequestTopic(duid string) string {
	return c.topics.DeviceRequest(c.cfg.UserID, c.creds.Username, duid)
}

// ResponseTopic returns the wildcard topic replies arrive on.
func (c *CloudClient) ResponseTopic() string {
	return c.topics.DeviceResponses(c.cfg.UserID, c.creds.Username)
}

// Connect opens the broker session and subscribes to replies. A failed
// subscription closes the session and is reported to listeners.
func (c *CloudClient) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.IsConnected() {
		return nil
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}

	c.setState(StateConnecting)

	opts := c.cfg.MQTT
	opts.BrokerURL = c.cfg.BrokerURL
	opts.ClientID = c.creds.Username + "_" + uuid.NewString()[:8]
	opts.Username = c.creds.Username
	opts.Password = c.creds.Password

	broker, err := c.cfg.Dialer(opts)
	if err != nil {
		return c.failConnect(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}

	if l, ok := broker.(interface{ SetLogger(mqtt.Logger) }); ok {
		l.SetLogger(c.logger)
	}
	broker.SetOnConnect(c.handleBrokerConnect)
	broker.SetOnDisconnect(c.handleBrokerDisconnect)
	broker.SetOnSubscribeError(c.handleSubscribeError)

	topic := c.ResponseTopic()
	if err := broker.Subscribe(topic, c.cfg.MQTT.QoS, c.handleMessage); err != nil {
		broker.Close()
		return c.failConnect(fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err))
	}

	c.brokerMu.Lock()
	c.broker = broker
	c.brokerMu.Unlock()

	c.setState(StateConnected)
	c.logger.Info("cloud connection established",
		"broker", c.cfg.BrokerURL,
		"username", c.creds.Username,
		"topic", topic,
	)
	c.notifyConnected()
	return nil
}

func (c *CloudClient) failConnect(err error) error {
	c.setState(StateDisconnected)
	c.errorsTotal.Add(1)
	c.logger.Error("cloud connection failed", "broker", c.cfg.BrokerURL, "error", err)
	c.notifyError(err)
	return err
}

// Disconnect closes the broker session and fails every pending Get with
// ErrClientClosed.
func (c *CloudClient) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.brokerMu.Lock()
	broker := c.broker
	c.broker = nil
	c.brokerMu.Unlock()

	wasConnected := c.setState(StateDisconnected) == StateConnected
	if broker != nil {
		broker.Close()
	}
	c.pending.rejectAll(ErrClientClosed)

	if wasConnected {
		c.logger.Info("cloud connection closed", "broker", c.cfg.BrokerURL)
		c.notifyDisconnected(nil)
	}
	return nil
}

func (c *CloudClient) hasBroker() bool {
	c.brokerMu.RLock()
	defer c.brokerMu.RUnlock()
	return c.broker != nil
}

// handleBrokerConnect runs after every broker reconnect.
func (c *CloudClient) handleBrokerConnect() {
	if !c.hasBroker() {
		return
	}
	if c.setState(StateConnected) == StateConnected {
		return
	}
	c.reconnectsTotal.Add(1)
	c.logger.Info("cloud connection restored", "broker", c.cfg.BrokerURL)
	c.notifyConnected()
}

func (c *CloudClient) handleBrokerDisconnect(err error) {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	c.logger.Warn("cloud connection lost", "broker", c.cfg.BrokerURL, "error", err)
	c.notifyDisconnected(err)
}

// handleSubscribeError runs when the reply subscription could not be
// restored. Replies can no longer arrive, so the client counts as down.
func (c *CloudClient) handleSubscribeError(topic string, err error) {
	prev := c.setState(StateDisconnected)
	c.errorsTotal.Add(1)
	err = fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	c.logger.Error("cloud subscription lost", "topic", topic, "error", err)
	c.notifyError(err)
	if prev == StateConnected {
		c.notifyDisconnected(err)
	}
}

// handleMessage decodes one broker message. Empty and undecodable messages
// are logged and skipped.
func (c *CloudClient) handleMessage(topic string, payload []byte) error {
	duid := c.topics.DeviceIDFromTopic(topic)
	if len(payload) == 0 {
		c.logger.Debug("skipping empty cloud message", "topic", topic)
		return nil
	}
	c.handleFrame(duid, payload)
	return nil
}

func (c *CloudClient) wireRequest(req protocol.RequestMessage) protocol.RequestMessage {
	return req.ForCloud()
}

func (c *CloudClient) writeFrame(duid string, frame []byte) error {
	c.brokerMu.RLock()
	broker := c.broker
	c.brokerMu.RUnlock()

	if broker == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	topic := c.RequestTopic(duid)
	if err := broker.Publish(topic, frame, c.cfg.MQTT.QoS, false); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
