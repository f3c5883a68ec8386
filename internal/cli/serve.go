package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ampd/internal/server"
	"ampd/pkg/logger"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ampd daemon",
		Long: `Start the ampd daemon.

The daemon serves the REST and SSE API on the configured host and
port (default: 127.0.0.1:7433), runs the automation scheduler and
discovers session profiles from the data directory.`,
		Example: `  # Start with default settings
  ampd serve

  # Start on a custom port
  ampd serve --port 8080`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}

	daemon, err := server.New(cfg, Version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", cfg.Server.Addr()).Str("data_dir", cfg.Storage.DataDir).Msg("ampd starting")
	return daemon.Run(ctx)
}
