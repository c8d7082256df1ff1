package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "wirechat",
		Short:         "Terminal chat client and development server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to wirechat.yaml")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newChatCmd(flags),
		newHistoryCmd(flags),
		newDevServerCmd(flags),
		newTokenCmd(flags),
	)
	return cmd
}

// load resolves configuration and builds the logger for a subcommand.
func (f *rootFlags) load() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New(f.logLevel)
	cfg, path, err := config.Load(bootstrap, f.configPath)
	if err != nil {
		return cfg, bootstrap, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}
