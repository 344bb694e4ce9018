package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/vdba/internal/infrastructure/config"
	"github.com/nerrad567/vdba/internal/infrastructure/logging"
	"github.com/nerrad567/vdba/internal/infrastructure/metrics"
	"github.com/nerrad567/vdba/internal/infrastructure/mqtt"
	"github.com/nerrad567/vdba/internal/vdba"
)

// app is the wiring shared by the commands: configuration, logging, the
// driver registry and its observers.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	registry *vdba.Registry
	gatherer *prometheus.Registry
	metrics  *metrics.Collector

	mqttClient *mqtt.Client
	events     *mqtt.EventPublisher
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(collectors.NewGoCollector())
	collector, err := metrics.NewCollector(gatherer)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: vdba.Default(),
		gatherer: gatherer,
		metrics:  collector,
	}

	observers := []vdba.Observer{collector}
	if cfg.Events.Enabled {
		client, err := mqtt.Connect(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		a.mqttClient = client
		a.events = mqtt.NewEventPublisher(client, client.Topics(), client.QoS(), log.With("component", "events"))
		observers = append(observers, a.events)
		log.Info("publishing connection events",
			"broker", fmt.Sprintf("%s:%d", cfg.Events.Broker.Host, cfg.Events.Broker.Port),
			"prefix", client.Topics().Prefix(),
		)
	}

	a.registry.SetLogger(log.With("component", "vdba"))
	a.registry.SetObserver(vdba.Observers(observers...))
	return a, nil
}

// Close flushes queued events and disconnects from the broker.
func (a *app) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.mqttClient != nil {
		if err := a.mqttClient.Close(); err != nil {
			a.log.Error("error closing MQTT", "error", err)
		}
	}
}

// connect creates and opens the named connection.
func (a *app) connect(ctx context.Context, name string) (*vdba.Connection, error) {
	cfg, err := a.cfg.ConnectionConfig(name)
	if err != nil {
		return nil, err
	}
	conn, err := a.registry.NewConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	if _, err := conn.Open(ctx); err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	return conn, nil
}

// probeResult is the outcome of one probe, as printed by check.
type probeResult struct {
	Name       string    `json:"name"`
	Driver     string    `json:"driver"`
	Mode       vdba.Mode `json:"mode"`
	Address    string    `json:"address,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
}

// probe pings the server and runs an empty read-only transaction.
func probe(ctx context.Context, conn *vdba.Connection) (string, error) {
	server, err := conn.Server()
	if err != nil {
		return "", err
	}
	if err := server.Ping(ctx); err != nil {
		return server.Address(), fmt.Errorf("ping: %w", err)
	}
	err = conn.RunTransaction(ctx, vdba.ReadOnly, func(_ context.Context, db vdba.Database) error {
		if db.Name() == "" {
			return fmt.Errorf("%s handle has no name", conn.Driver().Name())
		}
		return nil
	})
	if err != nil {
		return server.Address(), fmt.Errorf("probe transaction: %w", err)
	}
	return server.Address(), nil
}

// checkOne opens, probes and closes the named connection.
func (a *app) checkOne(ctx context.Context, name string, timeout time.Duration) probeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	entry := a.cfg.Connections[name]
	res := probeResult{Name: name, Driver: entry.Driver, Mode: vdba.Mode(entry.Mode)}
	if cfg, err := a.cfg.ConnectionConfig(name); err == nil {
		res.Mode = cfg.Mode()
	}

	conn, err := a.connect(ctx, name)
	if err == nil {
		res.Address, err = probe(ctx, conn)
		if closeErr := conn.Close(ctx); err == nil && closeErr != nil {
			err = fmt.Errorf("close: %w", closeErr)
		}
	}

	res.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
	res.OK = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	a.metrics.SetUp(name, entry.Driver, res.OK)
	return res
}
