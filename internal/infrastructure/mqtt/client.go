package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/vdba/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for publishing vdba events.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.EventsConfig
	topics Topics

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// logger for connection-state logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Attempts initial connection with timeout
//  4. Publishes online status to <prefix>/status
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If initial connection fails within timeout
func Connect(cfg config.EventsConfig) (*Client, error) {
	topics := NewTopics(cfg.TopicPrefix)
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{
		cfg:    cfg,
		topics: topics,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnectHandler runs asynchronously and may not have executed yet.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.client.Publish(c.topics.Status(), 1, true, statusPayload("online", c.cfg.Broker.ClientID, ""))
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), 1, true, statusPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetLogger sets a logger for connection-state logging.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
