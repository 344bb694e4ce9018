package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vdba/internal/vdba"
)

func newDriversCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the compiled-in drivers and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := vdba.Default()
			for _, name := range r.Drivers() {
				d, err := r.Driver(name)
				if err != nil {
					return err
				}
				caps := d.Capabilities()
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s kind=%s transactions=%t nested=%t\n",
					name, caps.Kind, caps.Transactions, caps.NestedTransactions)
			}
			return nil
		},
	}
}
