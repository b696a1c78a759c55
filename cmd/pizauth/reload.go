package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vext01/pizauth/internal/daemon"
	"github.com/vext01/pizauth/internal/ipc"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to reload its configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(daemon.DefaultSocketPath())
			reply, err := client.Reload()
			if err != nil {
				return unreachableError(err)
			}
			if !reply.OK {
				return cliError(fmt.Errorf("%s: %s", reply.ErrKind, reply.ErrMsg))
			}
			return nil
		},
	}
}
