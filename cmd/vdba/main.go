// vdba opens, probes and watches the database connections described in a
// vdba configuration file.
//
// Every configured connection goes through the same lifecycle the library
// offers applications: open, a read-only probe transaction, close. The
// drivers compiled in are sqlite3, sqlite, kv, postgres, influxdb and memory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/vdba/internal/drivers/influxdb"
	_ "github.com/nerrad567/vdba/internal/drivers/kv"
	_ "github.com/nerrad567/vdba/internal/drivers/memory"
	_ "github.com/nerrad567/vdba/internal/drivers/postgres"
	_ "github.com/nerrad567/vdba/internal/drivers/sqlite"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

// Default configuration file path, overridden by VDBA_CONFIG or --config.
const defaultConfigPath = "configs/vdba.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func getConfigPath() string {
	if path := os.Getenv("VDBA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
