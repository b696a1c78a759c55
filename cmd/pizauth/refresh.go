package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vext01/pizauth/internal/daemon"
	"github.com/vext01/pizauth/internal/ipc"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <account>...",
		Short: "Force a refresh of one or more accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(daemon.DefaultSocketPath())
			reply, err := client.Refresh(args...)
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
