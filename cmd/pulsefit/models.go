package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newModelsCmd(a *app) *cobra.Command {
	var names bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the registered fit models",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			reg := a.engine.Registry()
			if names {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(reg.List(), "\n"))
				return err
			}
			return a.writeJSON(cmd, reg.Describe())
		}),
	}
	cmd.Flags().BoolVar(&names, "names", false, "print model names only, one per line")
	return cmd
}
