package main

import (
	"fmt"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fluxorio/syncpool/pkg/config"
	"github.com/fluxorio/syncpool/pkg/core"
)

const envPrefix = "SYNCPOOL"

// cli carries state shared by every subcommand.
type cli struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    *config.AppConfig
	logger *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "syncpool",
		Short: "Time service and demos for the bounded buffer and worker pool",
		Long: `syncpool answers "query system time" over TCP and NATS, running each
NATS request as a job on a fixed worker pool. The demo commands exercise the
bounded buffer and the worker pool directly.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config-file", "", "YAML or JSON config file")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.logFormat, "log-format", "", "log format: console, json")

	root.AddCommand(
		newServeCmd(c),
		newQueryCmd(c),
		newDemoCmd(c),
		newConfigCmd(c),
	)
	return root
}

// init loads the config file and environment, applies flags that were set
// explicitly, and installs the process logger.
func (c *cli) init(flags *flag.FlagSet) error {
	cfg := config.DefaultAppConfig()
	if err := config.LoadWithEnv(c.configFile, envPrefix, cfg); err != nil {
		return err
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = c.logFormat
	}

	logger, err := core.NewLogger(core.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}
