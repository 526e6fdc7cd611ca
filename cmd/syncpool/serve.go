package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
)

type serveFlags struct {
	workers      int
	timeAddr     string
	adminAddr    string
	natsURL      string
	embeddedNATS bool
	noNATS       bool
	tracing      bool
}

func newServeCmd(c *cli) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the TCP time server, the NATS responder and the admin endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cfg := c.cfg
			if fs.Changed("workers") {
				cfg.Pool.Workers = f.workers
			}
			if fs.Changed("addr") {
				cfg.TimeServer.Addr = f.timeAddr
			}
			if fs.Changed("admin-addr") {
				cfg.Admin.Addr = f.adminAddr
			}
			if fs.Changed("nats-url") {
				cfg.NATS.Enabled = true
				cfg.NATS.URL = f.natsURL
			}
			if f.embeddedNATS {
				cfg.NATS.Enabled = true
				cfg.NATS.Embedded = true
			}
			if f.noNATS {
				cfg.NATS.Enabled = false
			}
			if fs.Changed("tracing") {
				cfg.Tracing.Enabled = f.tracing
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := newApp(cfg, c.logger)
			if err != nil {
				return err
			}
			return a.run(cmd.Context())
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.workers, "workers", concurrency.DefaultWorkers, "worker pool size, clamped to 1..10 (default from config)")
	fl.StringVar(&f.timeAddr, "addr", "", "time server listen address")
	fl.StringVar(&f.adminAddr, "admin-addr", "", "admin endpoint listen address")
	fl.StringVar(&f.natsURL, "nats-url", "", "NATS server URL; enables the NATS responder")
	fl.BoolVar(&f.embeddedNATS, "embedded-nats", false, "run an in-process NATS server")
	fl.BoolVar(&f.noNATS, "no-nats", false, "disable the NATS responder")
	fl.BoolVar(&f.tracing, "tracing", false, "export job spans to stdout")
	cmd.MarkFlagsMutuallyExclusive("embedded-nats", "nats-url")
	cmd.MarkFlagsMutuallyExclusive("embedded-nats", "no-nats")
	return cmd
}
