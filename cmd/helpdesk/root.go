package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"helpdeskagent/internal/config"
	"helpdeskagent/internal/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "helpdesk",
		Short:         "Role-based ServiceNow helpdesk agent",
		Long:          "helpdesk talks to the ServiceNow helpdesk agent from the terminal and manages its knowledge corpus. The HTTP server is the main package at the module root.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.json (default: $HELPDESK_CONFIG or ./config.json)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(
		newChatCmd(opts),
		newIngestCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("HELPDESK_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// the REPL owns stdout, so logs go to stderr and stay quiet by default
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logger.NewTraceHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))
	return cfg, nil
}
