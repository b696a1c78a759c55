package main

import (
	"github.com/spf13/cobra"

	"github.com/vext01/pizauth/internal/daemon"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pizauth",
		Short:         "Acquire, cache and refresh OAuth2 tokens for clients that can't do it themselves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default $HOME/.config/pizauth.conf)")

	root.AddCommand(
		newServerCmd(),
		newShowCmd(),
		newRefreshCmd(),
		newReloadCmd(),
		newShutdownCmd(),
		newVerifyCmd(),
	)
	return root
}

// resolveConfigPath honors -c/--config when given, else spec.md §6's
// default $HOME/.config/pizauth.conf.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return daemon.DefaultConfigPath()
}
