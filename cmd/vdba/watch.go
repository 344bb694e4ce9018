package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vdba/internal/vdba"
)

// shutdownTimeout bounds the metrics server shutdown and the final closes.
const shutdownTimeout = 5 * time.Second

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep connections open and probe them periodically",
		Long: `Open every configured connection and probe each one at the configured
watch interval, recording the results as Prometheus metrics. Connections that
fail to open are retried on the next tick.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen != "" {
				a.cfg.Metrics.Enabled = true
				a.cfg.Metrics.Listen = listen
			}
			return a.watch(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "serve metrics on this address (overrides metrics.listen)")
	return cmd
}

// watch runs until ctx is cancelled.
func (a *app) watch(ctx context.Context) error {
	if a.cfg.Metrics.Enabled {
		defer a.serveMetrics(ctx)()
	}

	conns := make(map[string]*vdba.Connection)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		for name, conn := range conns {
			if err := conn.Close(closeCtx); err != nil {
				a.log.Error("error closing connection", "connection", name, "error", err)
			}
		}
	}()

	ticker := time.NewTicker(a.cfg.Watch.Interval)
	defer ticker.Stop()

	for {
		a.tick(ctx, conns)
		select {
		case <-ctx.Done():
			a.log.Info("watch stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// tick probes every configured connection, opening those not yet open.
func (a *app) tick(ctx context.Context, conns map[string]*vdba.Connection) {
	for _, name := range a.cfg.Names() {
		if ctx.Err() != nil {
			return
		}
		driver := a.cfg.Connections[name].Driver

		conn, ok := conns[name]
		if !ok {
			var err error
			if conn, err = a.connect(ctx, name); err != nil {
				a.log.Warn("connection unavailable", "connection", name, "error", err)
				a.metrics.SetUp(name, driver, false)
				continue
			}
			conns[name] = conn
		}

		probeCtx, cancel := context.WithTimeout(ctx, a.cfg.Watch.Interval)
		_, err := probe(probeCtx, conn)
		cancel()
		if err != nil {
			a.log.Warn("probe failed", "connection", name, "error", err)
		}
		a.metrics.SetUp(name, driver, err == nil)
	}
}
