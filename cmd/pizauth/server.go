package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vext01/pizauth/internal/daemon"
)

func newServerCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the pizauth daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := resolveConfigPath()
			if err != nil {
				return cliError(err)
			}

			d, err := daemon.New(daemon.Options{
				ConfigPath: cfgPath,
				SocketPath: daemon.DefaultSocketPath(),
				Debug:      debug,
			})
			if err != nil {
				return cliError(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Run(ctx); err != nil {
				return cliError(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	return cmd
}
