package ipc

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// dialTimeout bounds the connection attempt only; the exchange itself
// relies on the server-side half of the half-close protocol to signal
// "response fully written".
const dialTimeout = 5 * time.Second

// Client talks to a running daemon's Server over its Unix socket
// (spec.md §6: exit code 2 "daemon-unreachable" when dialing fails).
type Client struct {
	path string
}

// NewClient returns a Client bound to the daemon's socket path. Dialing
// is deferred to each call, so a transient daemon restart between calls
// is tolerated the same way _examples/original_source/src/user_sender.rs
// reconnects per command.
func NewClient(path string) *Client {
	return &Client{path: path}
}

func (c *Client) roundTrip(verb string, args ...string) (Reply, error) {
	conn, err := net.DialTimeout("unix", c.path, dialTimeout)
	if err != nil {
		return Reply{}, fmt.Errorf("pizauth daemon not running or not responding: %w", err)
	}
	defer conn.Close()

	req := verb
	if len(args) > 0 {
		req = verb + " " + strings.Join(args, " ")
	}
	if _, err := conn.Write([]byte(req + "\n")); err != nil {
		return Reply{}, fmt.Errorf("writing ipc request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return Reply{}, fmt.Errorf("reading ipc response: %w", err)
	}
	return parseReply(string(raw))
}

// Show implements the CLI `show <account>` command.
func (c *Client) Show(accountName string) (Reply, error) {
	return c.roundTrip(verbShow, accountName)
}

// Refresh implements the CLI `refresh <account>...` command.
func (c *Client) Refresh(accounts ...string) (Reply, error) {
	return c.roundTrip(verbRefresh, accounts...)
}

// Reload implements the CLI `reload` command.
func (c *Client) Reload() (Reply, error) {
	return c.roundTrip(verbReload)
}

// Shutdown implements the CLI `shutdown` command.
func (c *Client) Shutdown() (Reply, error) {
	return c.roundTrip(verbShutdown)
}
