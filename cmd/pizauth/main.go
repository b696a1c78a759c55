// Command pizauth is the daemon and CLI client described by spec.md: a
// long-lived local process that acquires, caches, and refreshes OAuth2
// access tokens on behalf of programs that cannot drive an interactive
// "authorization code" flow themselves, plus a thin client that talks to
// it over a Unix socket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
