package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vext01/pizauth/internal/account"
	"github.com/vext01/pizauth/internal/apperr"
)

// Handler is implemented by the scheduler (C5): it is the single point
// where IPC requests get turned into account.Table decisions, so the
// single-owner-goroutine rule in internal/account/table.go still holds —
// this package never touches a Table directly.
type Handler interface {
	Show(ctx context.Context, account string) (account.RequestResult, error)
	Refresh(ctx context.Context, accounts []string) error
	Reload(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// acceptDeadline bounds how long a single connection's request/response
// exchange may take, so a stuck client can't wedge the accept loop.
const acceptDeadline = 10 * time.Second

// Server is the C6 Unix-domain socket endpoint (spec.md §4.4, §6).
type Server struct {
	ln      net.Listener
	path    string
	handler Handler
	log     *zap.SugaredLogger

	shuttingDown chan struct{}
}

// Listen binds a Unix-domain stream socket at path with mode 0600,
// removing a stale socket file left behind by an unclean previous exit
// (spec.md §6: "the socket file is unlinked on clean shutdown and on
// startup if stale").
func Listen(path string, handler Handler, log *zap.SugaredLogger) (*Server, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding ipc socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("setting permissions on ipc socket %s: %w", path, err)
	}
	return &Server{ln: ln, path: path, handler: handler, log: log, shuttingDown: make(chan struct{})}, nil
}

// removeStaleSocket unlinks path if nothing is listening there already.
// A live daemon's socket is left alone: net.Listen itself will then fail
// with "address already in use", which the caller surfaces as a startup
// error instead of stealing another daemon's socket.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("pizauth is already running (socket %s is live)", path)
	}
	return os.Remove(path)
}

// Serve accepts connections until Shutdown is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shuttingDown:
				return nil
			default:
				return fmt.Errorf("accepting ipc connection: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting new connections and removes the socket file.
func (s *Server) Shutdown() error {
	close(s.shuttingDown)
	err := s.ln.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
		if err == nil {
			err = rmErr
		}
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(acceptDeadline))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	req, err := parseRequest(line)
	if err != nil {
		s.writeAndClose(conn, formatError(apperr.New(apperr.KindConfig, err.Error())))
		return
	}

	ctx := context.Background()
	reply := s.dispatch(ctx, req)
	s.writeAndClose(conn, reply)
}

func (s *Server) dispatch(ctx context.Context, req request) string {
	select {
	case <-s.shuttingDown:
		return formatError(apperr.New(apperr.KindShutdown, "daemon is shutting down"))
	default:
	}

	switch req.verb {
	case verbShow:
		if len(req.args) != 1 {
			return formatError(apperr.New(apperr.KindConfig, "show requires exactly one account"))
		}
		res, err := s.handler.Show(ctx, req.args[0])
		if err != nil {
			return formatError(err)
		}
		switch res.Status {
		case account.StatusValid, account.StatusStale:
			return formatToken(res.Token)
		case account.StatusAuthInProgress:
			return formatPending()
		default: // StatusUnavailable: no prior token to fall back on
			return formatError(apperr.New(apperr.KindNoToken, "no token available for this account"))
		}
	case verbRefresh:
		if len(req.args) == 0 {
			return formatError(apperr.New(apperr.KindConfig, "refresh requires at least one account"))
		}
		if err := s.handler.Refresh(ctx, req.args); err != nil {
			return formatError(err)
		}
		return formatOK()
	case verbReload:
		if err := s.handler.Reload(ctx); err != nil {
			return formatError(err)
		}
		return formatOK()
	case verbShutdown:
		if err := s.handler.Shutdown(ctx); err != nil {
			return formatError(err)
		}
		return formatOK()
	default:
		return formatError(apperr.New(apperr.KindConfig, fmt.Sprintf("unknown command %q", req.verb)))
	}
}

func (s *Server) writeAndClose(conn net.Conn, reply string) {
	if _, err := conn.Write([]byte(reply)); err != nil {
		if s.log != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warnw("failed writing ipc reply", "error", err)
		}
	}
}
