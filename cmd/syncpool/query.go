package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fluxorio/syncpool/pkg/timebus"
	"github.com/fluxorio/syncpool/pkg/timeserver"
)

type queryFlags struct {
	addr    string
	natsURL string
	subject string
	count   int
	timeout time.Duration
}

func newQueryCmd(c *cli) *cobra.Command {
	f := &queryFlags{}

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Ask a time server for the time over TCP or NATS",
		Long: `query sends "query system time" (or the given text) to a time server
and prints each answer. With --nats-url the request goes over NATS to a
responder instead of TCP.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := timeserver.Query
			if len(args) == 1 {
				text = args[0]
			}
			if f.count < 1 {
				f.count = 1
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			ask, closeFn, err := c.dialer(ctx, cmd, f)
			if err != nil {
				return err
			}
			defer closeFn()

			for i := 0; i < f.count; i++ {
				answer, err := ask(ctx, text)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "time server address (default from config)")
	fl.StringVar(&f.natsURL, "nats-url", "", "query over NATS at this URL instead of TCP (each request bounded by nats.request_timeout)")
	fl.StringVar(&f.subject, "subject", "", "NATS subject (default <prefix>.time from config)")
	fl.IntVarP(&f.count, "count", "n", 1, "number of queries to send on one session")
	fl.DurationVar(&f.timeout, "timeout", 5*time.Second, "overall timeout")
	return cmd
}

type askFunc func(ctx context.Context, text string) (string, error)

func (c *cli) dialer(ctx context.Context, cmd *cobra.Command, f *queryFlags) (askFunc, func(), error) {
	if cmd.Flags().Changed("nats-url") {
		nc, err := nats.Connect(f.natsURL, nats.Name("syncpool-query"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats %s: %w", f.natsURL, err)
		}
		subject := f.subject
		if subject == "" {
			subject = timebus.Subject(c.cfg.NATS.SubjectPrefix)
		}
		ask := func(ctx context.Context, text string) (string, error) {
			if d := c.cfg.NATS.RequestTimeout; d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			reply, err := timebus.Request(ctx, nc, subject, text)
			if err != nil {
				return "", err
			}
			c.logger.Debugf("request %s answered", reply.RequestID)
			return reply.Answer, nil
		}
		return ask, nc.Close, nil
	}

	addr := f.addr
	if addr == "" {
		addr = c.cfg.TimeServer.Addr
	}
	client, err := timeserver.Dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	ask := func(ctx context.Context, text string) (string, error) {
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("empty query ends the session")
		}
		return client.Query(ctx, text)
	}
	return ask, func() { _ = client.Close() }, nil
}
