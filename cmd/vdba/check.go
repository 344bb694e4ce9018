package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// errCheckFailed is returned when at least one connection fails its probe.
var errCheckFailed = errors.New("one or more connections failed")

func newCheckCommand(rootOpts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check [connection...]",
		Short: "Open, probe and close configured connections",
		Long: `Open each configured connection (or only the named ones), ping its
server, run an empty read-only transaction and close it again.

Exits non-zero if any connection fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			names := args
			if len(names) == 0 {
				names = a.cfg.Names()
			}
			for _, name := range names {
				if _, ok := a.cfg.Connections[name]; !ok {
					return fmt.Errorf("connection %q is not configured", name)
				}
			}

			results := make([]probeResult, 0, len(names))
			for _, name := range names {
				results = append(results, a.checkOne(cmd.Context(), name, timeout))
			}

			if err := printResults(cmd.OutOrStdout(), rootOpts.format, results); err != nil {
				return err
			}
			for _, r := range results {
				if !r.OK {
					return errCheckFailed
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-connection timeout")
	return cmd
}

func printResults(w io.Writer, format string, results []probeResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDRIVER\tMODE\tADDRESS\tSTATUS")
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "FAIL: " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Driver, r.Mode, r.Address, status)
	}
	return tw.Flush()
}
