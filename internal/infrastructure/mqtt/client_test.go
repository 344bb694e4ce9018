package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/vdba/internal/infrastructure/config"
)

func testConfig() config.EventsConfig {
	return config.EventsConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "vdba-test",
		},
		QoS:         1,
		TopicPrefix: "vdba-test",
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "vdba", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "vdba-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "vdba" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want initial connect to fail fast")
	}

	configureLWT(opts, NewTopics(cfg.TopicPrefix), cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "vdba-test/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectPublishClose(t *testing.T) {
	skipIfNoBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	topic := client.Topics().Event("memory", "test", "opened")
	if err := client.Publish(topic, []byte(`{}`), client.QoS(), false); err != nil {
		t.Errorf("Publish() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.Publish(topic, nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}
