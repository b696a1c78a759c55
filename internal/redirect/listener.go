// Package redirect implements pizauth's C3: the loopback HTTP server that
// receives the OAuth2 authorization redirect and hands `code`/`state` to
// the scheduler (spec.md §4.3).
package redirect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Arrival is what the listener hands the scheduler for each redirect
// request, along with a channel to report back whether it was accepted
// (spec.md §4.3: "the listener posts RedirectArrived{code, state} onto the
// event loop and returns the HTTP response synchronously").
type Arrival struct {
	CorrelationID string
	Code          string
	State         string
	Result        chan<- error
}

// Listener binds an ephemeral loopback port at construction and serves a
// single `GET /` route via chi (spec.md §4.3: "Accept HTTP/1.0 or 1.1 GET
// requests on `/` only").
type Listener struct {
	ln     net.Listener
	srv    *http.Server
	events chan<- Arrival
	log    *zap.SugaredLogger
}

// New binds to 127.0.0.1:0 (an ephemeral port) and prepares (but does not
// yet start) the HTTP server. Call Port to discover the bound port and
// Serve to start accepting connections.
func New(events chan<- Arrival, log *zap.SugaredLogger) (*Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding redirect listener: %w", err)
	}
	l := &Listener{ln: ln, events: events, log: log}

	r := chi.NewRouter()
	r.Get("/", l.handleRedirect)
	l.srv = &http.Server{Handler: r}
	return l, nil
}

// Port returns the ephemeral TCP port the listener bound to.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Serve blocks accepting connections until Shutdown is called.
func (l *Listener) Serve() error {
	err := l.srv.Serve(l.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener (spec.md §5: "closes listeners"
// on daemon shutdown).
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

func (l *Listener) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	corrID := uuid.NewString()

	if code == "" || state == "" {
		l.log.Warnw("redirect missing code or state", "correlation_id", corrID, "query", q.Encode())
		http.Error(w, "missing code or state parameter", http.StatusBadRequest)
		return
	}

	result := make(chan error, 1)
	select {
	case l.events <- Arrival{CorrelationID: corrID, Code: code, State: state, Result: result}:
	case <-r.Context().Done():
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case err := <-result:
		if err != nil {
			l.log.Warnw("redirect rejected", "correlation_id", corrID, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Authorization received. You can close this window; pizauth is completing the exchange in the background.")
	case <-time.After(5 * time.Second):
		http.Error(w, "timed out waiting for the scheduler", http.StatusServiceUnavailable)
	}
}

// EffectiveRedirectURI implements spec.md §4.3's port-substitution rule:
// if redirectURI names host "localhost" with no explicit port, the bound
// ephemeral port is substituted in; otherwise redirectURI is honored
// verbatim.
func EffectiveRedirectURI(redirectURI *url.URL, boundPort int) *url.URL {
	if redirectURI.Hostname() != "localhost" || redirectURI.Port() != "" {
		return redirectURI
	}
	out := *redirectURI
	out.Host = net.JoinHostPort("localhost", strconv.Itoa(boundPort))
	return &out
}
