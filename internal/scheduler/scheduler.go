// Package scheduler is pizauth's C5: the single event loop that
// dispatches CLI requests, redirect arrivals, timer fires, and worker
// results to internal/account, the only consumer of its state mutations
// (spec.md §4.2, §5, §9).
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vext01/pizauth/internal/account"
	"github.com/vext01/pizauth/internal/apperr"
	"github.com/vext01/pizauth/internal/clock"
	"github.com/vext01/pizauth/internal/config"
	"github.com/vext01/pizauth/internal/notifier"
	"github.com/vext01/pizauth/internal/oauth"
	"github.com/vext01/pizauth/internal/redirect"
)

// maxConcurrentRequests bounds the worker pool offloading blocking HTTP
// calls (spec.md §4.2: "Single-threaded cooperative dispatcher with
// worker offload for blocking HTTP").
const maxConcurrentRequests = 8

// OAuthClient is the subset of *oauth.Client the scheduler drives;
// narrowed to an interface so tests can substitute a fake without
// standing up real HTTP servers for every scenario.
type OAuthClient interface {
	NewPending(act *config.Account, now time.Time) (account.Pending, error)
	Exchange(ctx context.Context, act *config.Account, code, codeVerifier string) account.ExchangeOutcome
	Refresh(ctx context.Context, act *config.Account, refreshToken string) account.ExchangeOutcome
}

var _ OAuthClient = (*oauth.Client)(nil)

// ConfigLoader reloads configuration from its backing file (spec.md
// §4.1's reload(new_config), driven by the `reload` IPC verb or an
// fsnotify event in internal/daemon).
type ConfigLoader func() (*config.Config, error)

// Scheduler owns the account.Table exclusively; every mutation happens
// on its loop goroutine via Run, reached only through the closures this
// package's own methods enqueue on cmds.
type Scheduler struct {
	table      *account.Table
	cfg        *config.Config
	loadConfig ConfigLoader
	clock      clock.Clock
	oauthC     OAuthClient
	backend    notifier.Backend
	log        *zap.SugaredLogger

	cmds      chan func()
	redirects <-chan redirect.Arrival
	workSem   chan struct{}

	queue  eventQueue
	epochs map[string]*epochPair

	done             chan struct{}
	shutdownRequested chan struct{}
	shutdownOnce      sync.Once
}

type epochPair struct {
	refresh uint64
	notify  uint64
}

// New builds a Scheduler. cfg is the initial configuration; loadConfig
// is invoked on every `reload`. redirects is owned by internal/redirect's
// Listener and fed into Run's select loop.
func New(cfg *config.Config, loadConfig ConfigLoader, clk clock.Clock, oauthC OAuthClient, backend notifier.Backend, redirects <-chan redirect.Arrival, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		table:      account.NewTable(cfg),
		cfg:        cfg,
		loadConfig: loadConfig,
		clock:      clk,
		oauthC:     oauthC,
		backend:    backend,
		log:        log,
		cmds:       make(chan func(), 16),
		redirects:  redirects,
		workSem:    make(chan struct{}, maxConcurrentRequests),
		epochs:     make(map[string]*epochPair),
		done:       make(chan struct{}),
		shutdownRequested: make(chan struct{}),
	}
}

// ShutdownRequested is closed the moment the `shutdown` IPC verb is
// handled. internal/daemon selects on it to start orderly teardown
// (spec.md §5): cancel Run's context, drain listeners, remove the socket
// file.
func (s *Scheduler) ShutdownRequested() <-chan struct{} {
	return s.shutdownRequested
}

func (s *Scheduler) epochFor(name string, k kind) *uint64 {
	ep, ok := s.epochs[name]
	if !ok {
		ep = &epochPair{}
		s.epochs[name] = ep
	}
	if k == kindRefresh {
		return &ep.refresh
	}
	return &ep.notify
}

func (s *Scheduler) schedule(name string, k kind, deadline time.Time) {
	e := s.epochFor(name, k)
	*e++
	heap.Push(&s.queue, &scheduledEvent{deadline: deadline, account: name, kind: k, epoch: *e})
}

// Run drives the event loop until ctx is cancelled. It is the sole
// goroutine that calls any account.Table method.
func (s *Scheduler) Run(ctx context.Context) error {
	s.scheduleAllFromTable()
	for {
		var timerC <-chan time.Time
		var timer clock.Timer
		if ev := s.queue.peek(); ev != nil {
			d := ev.deadline.Sub(s.clock.Now())
			timer = s.clock.NewTimer(d)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			close(s.done)
			return nil

		case cmd := <-s.cmds:
			if timer != nil {
				timer.Stop()
			}
			cmd()

		case arrival, ok := <-s.redirects:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				continue
			}
			s.handleArrival(arrival)

		case <-timerC:
			s.fireDue()
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.clock.Now()
	for {
		ev := s.queue.peek()
		if ev == nil || ev.deadline.After(now) {
			return
		}
		heap.Pop(&s.queue)
		if *s.epochFor(ev.account, ev.kind) != ev.epoch {
			continue // superseded by a later reschedule; drop
		}
		switch ev.kind {
		case kindRefresh:
			s.fireRefresh(ev.account, now)
		case kindNotify:
			s.fireNotify(ev.account, now)
		}
	}
}

func (s *Scheduler) scheduleAllFromTable() {
	now := s.clock.Now()
	for _, name := range s.table.Names() {
		s.rescheduleFor(name, now)
	}
}

// rescheduleFor (re)computes and pushes the next deadline for name based
// on its current state, replacing whatever was previously pending for
// that account+kind (the epoch bump makes the old entry inert). It also
// invalidates the OTHER kind's outstanding entry, if any: a state
// transition that makes refresh scheduling relevant (e.g. Pending ->
// Active) always makes notify scheduling irrelevant for that account,
// and vice versa, so a stale entry of the wrong kind must never win a
// queue.peek() race against the fresh one.
func (s *Scheduler) rescheduleFor(name string, now time.Time) {
	rec, ok := s.table.Get(name)
	if !ok {
		return
	}
	switch st := rec.State.(type) {
	case account.Active:
		s.invalidate(name, kindNotify)
		deadline := st.NextRefreshDeadline(now, rec.Config.RefreshBeforeExpiry, rec.Config.RefreshAtLeast)
		s.schedule(name, kindRefresh, deadline)
	case account.Empty:
		s.invalidate(name, kindRefresh)
		s.schedule(name, kindNotify, account.NextNotifyDeadline(st.LastNotified, s.cfg.NotifyInterval, now))
	case account.Pending:
		s.invalidate(name, kindRefresh)
		s.schedule(name, kindNotify, account.NextNotifyDeadline(st.LastNotified, s.cfg.NotifyInterval, now))
	case account.Refreshing:
		// No independent timer: the in-flight HTTP call's result drives the
		// next transition via onRefreshResult.
		s.invalidate(name, kindNotify)
		s.invalidate(name, kindRefresh)
	}
}

// invalidate bumps name's epoch for kind without scheduling a new entry,
// so any outstanding queue entry of that kind for name is dropped the
// next time fireDue pops it.
func (s *Scheduler) invalidate(name string, k kind) {
	e := s.epochFor(name, k)
	*e++
}

func (s *Scheduler) fireRefresh(name string, now time.Time) {
	rec, ok := s.table.Get(name)
	if !ok {
		return
	}
	active, isActive := rec.State.(account.Active)
	if !isActive {
		return // state moved on since this was scheduled
	}
	s.table.SetState(name, account.Refreshing{Prior: active, Started: now})
	s.dispatchRefresh(name, rec.Config, active.RefreshToken)
}

func (s *Scheduler) fireNotify(name string, now time.Time) {
	rec, ok := s.table.Get(name)
	if !ok {
		return
	}
	var authURL string
	switch st := rec.State.(type) {
	case account.Pending:
		authURL = st.AuthURL
	case account.Empty:
		// No pending flow yet; prompt the user to run `pizauth show` or
		// `refresh` again, since request() is what actually starts one.
	default:
		return
	}
	s.backend.Notify(name, authURL)
	s.table.MarkNotified(name, now)
	s.rescheduleFor(name, now)
}

// dispatchRefresh launches the refresh_token exchange on a bounded
// worker and posts the outcome back onto cmds for serialized handling.
func (s *Scheduler) dispatchRefresh(name string, act *config.Account, refreshToken *string) {
	if refreshToken == nil {
		s.cmds <- func() {
			s.onRefreshResult(name, account.ExchangeOutcome{
				Success: false,
				Err:     apperr.New(apperr.KindTransport, "no refresh token available"),
			})
		}
		return
	}
	rt := *refreshToken
	go func() {
		s.workSem <- struct{}{}
		defer func() { <-s.workSem }()
		ctx, cancel := context.WithTimeout(context.Background(), oauth.DefaultDeadline)
		defer cancel()
		outcome := s.oauthC.Refresh(ctx, act, rt)
		s.cmds <- func() { s.onRefreshResult(name, outcome) }
	}()
}

func (s *Scheduler) onRefreshResult(name string, outcome account.ExchangeOutcome) {
	rec, ok := s.table.Get(name)
	if !ok {
		return
	}
	now := s.clock.Now()
	if _, err := s.table.OnRefreshResult(name, now, rec.Config.RefreshAtLeast, outcome); err != nil {
		s.logErr("refresh result", name, err)
		return
	}
	rec, ok = s.table.Get(name)
	if !ok {
		return
	}
	switch rec.State.(type) {
	case account.Active:
		if outcome.Success {
			s.rescheduleFor(name, now)
		} else {
			s.schedule(name, kindRefresh, now.Add(s.cfg.RefreshRetryInterval))
		}
	case account.Empty:
		s.backend.Notify(name, "")
		s.table.MarkNotified(name, now)
		s.rescheduleFor(name, now)
	}
}

// dispatchExchange launches the authorization-code exchange on a bounded
// worker for a freshly matched Pending record.
func (s *Scheduler) dispatchExchange(name string, act *config.Account, code, verifier string) {
	go func() {
		s.workSem <- struct{}{}
		defer func() { <-s.workSem }()
		ctx, cancel := context.WithTimeout(context.Background(), oauth.DefaultDeadline)
		defer cancel()
		outcome := s.oauthC.Exchange(ctx, act, code, verifier)
		s.cmds <- func() { s.onExchangeResult(name, outcome) }
	}()
}

func (s *Scheduler) onExchangeResult(name string, outcome account.ExchangeOutcome) {
	rec, ok := s.table.Get(name)
	if !ok {
		return
	}
	now := s.clock.Now()
	notifyReq, err := s.table.OnExchangeResult(name, now, rec.Config.RefreshAtLeast, outcome)
	if err != nil {
		s.logErr("exchange result", name, err)
		return
	}
	if notifyReq != nil {
		s.backend.Notify(name, "")
		s.table.MarkNotified(name, now)
	}
	s.rescheduleFor(name, now)
}

// handleArrival implements on_redirect (spec.md §4.1) for a redirect
// delivered by internal/redirect's Listener.
func (s *Scheduler) handleArrival(a redirect.Arrival) {
	name, pending, err := s.table.ExchangeLookup(a.State)
	if err != nil {
		a.Result <- err
		return
	}
	rec, ok := s.table.Get(name)
	if !ok {
		a.Result <- apperr.New(apperr.KindUnknownAccount, name)
		return
	}
	a.Result <- nil
	s.dispatchExchange(name, rec.Config, a.Code, pending.CodeVerifier)
}

// handleRequest implements request(account) (spec.md §4.1).
func (s *Scheduler) handleRequest(name string) (account.RequestResult, error) {
	now := s.clock.Now()
	res, err := s.table.Request(name, now, s.mkPending)
	if err != nil {
		return account.RequestResult{}, err
	}
	s.afterRequest(name, now, res)
	return res, nil
}

// handleForceRefresh implements force_refresh(account) (spec.md §4.1).
func (s *Scheduler) handleForceRefresh(name string) (account.RequestResult, error) {
	now := s.clock.Now()
	res, err := s.table.ForceRefresh(name, now, s.mkPending)
	if err != nil {
		return account.RequestResult{}, err
	}
	s.afterRequest(name, now, res)
	return res, nil
}

func (s *Scheduler) afterRequest(name string, now time.Time, res account.RequestResult) {
	if res.Notify != nil {
		s.backend.Notify(name, res.Notify.AuthURL)
		s.table.MarkNotified(name, now)
		s.rescheduleFor(name, now)
	}
	if res.StartRefresh {
		rec, ok := s.table.Get(name)
		if !ok {
			return
		}
		refreshing, isRefreshing := rec.State.(account.Refreshing)
		if !isRefreshing {
			return
		}
		s.dispatchRefresh(name, rec.Config, refreshing.Prior.RefreshToken)
	}
}

func (s *Scheduler) mkPending(act *config.Account, now time.Time) (account.Pending, error) {
	return s.oauthC.NewPending(act, now)
}

func (s *Scheduler) logErr(op, account string, err error) {
	if s.log != nil {
		s.log.Warnw("scheduler error", "op", op, "account", account, "error", err)
	}
}

// --- ipc.Handler implementation -------------------------------------

type requestReply struct {
	res account.RequestResult
	err error
}

// Show implements ipc.Handler.
func (s *Scheduler) Show(ctx context.Context, name string) (account.RequestResult, error) {
	reply := make(chan requestReply, 1)
	select {
	case s.cmds <- func() {
		res, err := s.handleRequest(name)
		reply <- requestReply{res, err}
	}:
	case <-s.done:
		return account.RequestResult{}, apperr.New(apperr.KindShutdown, "daemon is shutting down")
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return account.RequestResult{}, ctx.Err()
	}
}

// Refresh implements ipc.Handler.
func (s *Scheduler) Refresh(ctx context.Context, accounts []string) error {
	type outcome struct {
		name string
		err  error
	}
	reply := make(chan outcome, len(accounts))
	select {
	case s.cmds <- func() {
		for _, name := range accounts {
			_, err := s.handleForceRefresh(name)
			reply <- outcome{name, err}
		}
	}:
	case <-s.done:
		return apperr.New(apperr.KindShutdown, "daemon is shutting down")
	}
	var errs []string
	for range accounts {
		select {
		case o := <-reply:
			if o.err != nil {
				errs = append(errs, fmt.Sprintf("%s: %s", o.name, o.err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(errs) > 0 {
		return apperr.New(apperr.KindUnknownAccount, joinLines(errs))
	}
	return nil
}

// Reload implements ipc.Handler.
func (s *Scheduler) Reload(ctx context.Context) error {
	newCfg, err := s.loadConfig()
	if err != nil {
		return apperr.Wrap(apperr.KindConfig, "loading configuration", err)
	}
	reply := make(chan error, 1)
	select {
	case s.cmds <- func() {
		res := s.table.Reload(newCfg)
		s.cfg = newCfg
		now := s.clock.Now()
		touched := make([]string, 0, len(res.Added)+len(res.Reset)+len(res.Kept))
		touched = append(touched, res.Added...)
		touched = append(touched, res.Reset...)
		touched = append(touched, res.Kept...)
		for _, name := range touched {
			s.rescheduleFor(name, now)
		}
		reply <- nil
	}:
	case <-s.done:
		return apperr.New(apperr.KindShutdown, "daemon is shutting down")
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown implements ipc.Handler. spec.md §4.4: "shutdown -> OK, then the
// loop begins orderly teardown and exits." It only signals intent here;
// the caller (internal/daemon) owns actually cancelling the context Run
// was given and tearing down listeners (spec.md §5), since Run itself
// must keep servicing in-flight requests until the process-level teardown
// decides to stop it.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownRequested) })
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "; "
		}
		out += l
	}
	return out
}
