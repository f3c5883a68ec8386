package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ampd/internal/config"
)

// NewInitCmd creates the init command, which writes a default settings
// file for editing.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
}
