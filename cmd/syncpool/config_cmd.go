package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxorio/syncpool/pkg/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			return config.WriteYAML(cmd.OutOrStdout(), c.cfg)
		},
	}
}
