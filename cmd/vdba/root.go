package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	format     string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "vdba",
		Short:         "Open, probe and watch configured database connections",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", getConfigPath(), "configuration file")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newDriversCommand())

	return cmd
}
