package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vext01/pizauth/internal/daemon"
	"github.com/vext01/pizauth/internal/ipc"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <account>",
		Short: "Print the cached access token for account, or authorization status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ipc.NewClient(daemon.DefaultSocketPath())
			reply, err := client.Show(args[0])
			if err != nil {
				return unreachableError(err)
			}
			switch {
			case reply.Token != "":
				fmt.Println(reply.Token)
				return nil
			case reply.Pending:
				return cliError(fmt.Errorf("authorization pending for %q: no token available yet", args[0]))
			default:
				return cliError(fmt.Errorf("%s: %s", reply.ErrKind, reply.ErrMsg))
			}
		},
	}
}
