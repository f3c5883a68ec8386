// Package cli implements the ampd command line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ampd/internal/config"
	"ampd/pkg/logger"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitConfig   = 2
	ExitInternal = 70
)

// ErrConfig marks configuration failures so Execute can map them to
// exit code 2.
var ErrConfig = errors.New("configuration error")

// GlobalFlags holds flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// loadedConfig is populated by the root PersistentPreRunE for commands
// that need settings.
var loadedConfig *config.Config

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ampd",
		Short: "ampd - local agent session daemon",
		Long: `ampd is a long-running local daemon that hosts agent sessions:
LLM-driven conversations executed through a pluggable pipeline of
providers, tools, hooks and an orchestrator loop. Clients talk to it
over HTTP and receive streaming results via Server-Sent Events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "init" {
				return nil
			}

			cfg, err := config.Load(globalFlags.ConfigPath)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}

			level := cfg.Log.Level
			if globalFlags.Verbose {
				level = "debug"
			}
			if globalFlags.Quiet {
				level = "error"
			}
			if err := logger.Init(logger.Config{
				Level:  level,
				Format: logFormat(cfg.Log.Format),
				File:   cfg.Log.File,
			}); err != nil {
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}

			loadedConfig = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "settings file (default: ~/.ampd/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "error-only logging")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// logFormat resolves "auto" to console on a terminal, json otherwise.
func logFormat(format string) string {
	if format != "" && format != "auto" {
		return format
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return "console"
	}
	return "json"
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.Is(err, ErrConfig) {
		return ExitConfig
	}
	return ExitInternal
}
