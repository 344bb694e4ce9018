package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vdba/internal/infrastructure/config"
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

	// maxReconnectInterval caps the backoff between reconnect attempts.
	maxReconnectInterval = time.Minute

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the events config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Auto-reconnect after the first successful connection
//   - TLS configuration (if enabled)
func buildClientOptions(cfg config.EventsConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// The first connection must succeed; later drops reconnect in the background.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(maxReconnectInterval)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament so subscribers see the
// publisher go offline if it disconnects unexpectedly.
//
// Topic: <prefix>/status
// QoS: 1, retained.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.Status(), string(statusPayload("offline", clientID, "unexpected_disconnect")), 1, true)
}

// statusMessage is the retained payload on the status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) []byte {
	b, _ := json.Marshal(statusMessage{ //nolint:errcheck // Plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
