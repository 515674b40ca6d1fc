package mqtt

import (
	"crypto/tls"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes one broker session. The Roborock cloud hands out a
// broker URL per account and the credentials are derived per session, so
// these are assembled at runtime rather than read verbatim from config.
type Options struct {
	// BrokerURL is the full broker address, e.g. "ssl://mqtt-eu-3.roborock.com:8883".
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// QoS is the default level used by PublishDefault.
	QoS byte

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

// OptionsFromConfig fills session tuning from cfg. Address and credentials
// are left to the caller.
func OptionsFromConfig(cfg config.MQTTConfig) Options {
	return Options{
		QoS:            byte(cfg.QoS),
		KeepAlive:      time.Duration(cfg.KeepAlive) * time.Second,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
		ReconnectMin:   time.Duration(cfg.Reconnect.InitialDelay) * time.Second,
		ReconnectMax:   time.Duration(cfg.Reconnect.MaxDelay) * time.Second,
	}
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return defaultConnectTimeout
}

// usesTLS reports whether the broker URL selects a TLS transport.
func (o Options) usesTLS() bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "tcps://"} {
		if strings.HasPrefix(o.BrokerURL, scheme) {
			return true
		}
	}
	return false
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker URL (TLS when the scheme asks for it)
//   - Client ID and credentials
//   - Auto-reconnect with exponential backoff
//   - Clean session mode
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.BrokerURL)
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	if o.ReconnectMin > 0 {
		opts.SetConnectRetryInterval(o.ReconnectMin)
	}
	if o.ReconnectMax > 0 {
		opts.SetMaxReconnectInterval(o.ReconnectMax)
	}

	opts.SetConnectTimeout(o.connectTimeout())

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if o.usesTLS() {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
