package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
	dev        bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "webfetch",
		Short:         "Policy-checked web page retrieval as token-bounded Markdown",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv(config.FileEnv), "configuration file (.toml, .yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "human-readable development logging")

	cmd.AddCommand(newServeCmd(opts), newFetchCmd(opts))
	return cmd
}

// load reads configuration and builds the logger it describes.
func (o *rootOptions) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.dev {
		cfg.Logging.Development = true
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}
