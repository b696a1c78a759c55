// Package ipc is pizauth's C6: the Unix-domain socket endpoint the CLI
// talks to (spec.md §4.4). Framing, grounded on
// _examples/original_source/src/user_sender.rs's request/response shape:
// one request per connection, the client half-closes its write side once
// the request is sent, the server writes a single response and closes.
package ipc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vext01/pizauth/internal/apperr"
)

// request verbs, per spec.md §4.4.
const (
	verbShow     = "show"
	verbRefresh  = "refresh"
	verbReload   = "reload"
	verbShutdown = "shutdown"
)

type request struct {
	verb string
	args []string
}

func parseRequest(line string) (request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return request{}, fmt.Errorf("empty request")
	}
	return request{verb: fields[0], args: fields[1:]}, nil
}

// formatToken builds the `TOKEN <access_token>` reply.
func formatToken(token string) string {
	return "TOKEN " + token + "\n"
}

// formatPending builds the `PENDING` reply.
func formatPending() string {
	return "PENDING\n"
}

// formatOK builds the `OK` reply.
func formatOK() string {
	return "OK\n"
}

// formatError builds the `ERROR <kind> <message>` reply (spec.md §7's
// error kinds, §4.4's wire format). The message is flattened to a single
// line: embedded newlines would desync the client's framing.
func formatError(err error) string {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = apperr.KindTransport
	}
	msg := strings.ReplaceAll(errMessage(err), "\n", " ")
	return fmt.Sprintf("ERROR %s %s\n", kind, msg)
}

// errMessage prefers the underlying *apperr.Error's own Msg (and any
// wrapped cause) over its full Error() string, which would otherwise
// repeat the kind that formatError already puts on the wire.
func errMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s", e.Msg, e.Err)
		}
		return e.Msg
	}
	return err.Error()
}

// parsed reply, used by the client to turn the wire format back into a
// Go value.
type Reply struct {
	Token   string
	Pending bool
	OK      bool
	ErrKind apperr.Kind
	ErrMsg  string
}

func parseReply(raw string) (Reply, error) {
	line := strings.TrimRight(raw, "\n")
	fields := strings.SplitN(line, " ", 2)
	switch fields[0] {
	case "TOKEN":
		if len(fields) != 2 {
			return Reply{}, fmt.Errorf("malformed TOKEN reply %q", raw)
		}
		return Reply{Token: fields[1]}, nil
	case "PENDING":
		return Reply{Pending: true}, nil
	case "OK":
		return Reply{OK: true}, nil
	case "ERROR":
		rest := ""
		if len(fields) == 2 {
			rest = fields[1]
		}
		kindAndMsg := strings.SplitN(rest, " ", 2)
		reply := Reply{ErrKind: apperr.Kind(kindAndMsg[0])}
		if len(kindAndMsg) == 2 {
			reply.ErrMsg = kindAndMsg[1]
		}
		return reply, nil
	default:
		return Reply{}, fmt.Errorf("malformed response %q", raw)
	}
}
