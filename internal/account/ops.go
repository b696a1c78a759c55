package account

import (
	"time"

	"github.com/vext01/pizauth/internal/apperr"
	"github.com/vext01/pizauth/internal/config"
)

// Status classifies the outcome of Request/ForceRefresh for the IPC layer
// (spec.md §4.4's `show`/`refresh` verbs).
type Status int

const (
	// StatusValid: a token is available and comfortably unexpired.
	StatusValid Status = iota
	// StatusStale: a token is returned but a refresh has also been kicked
	// off because it is within refresh_before_expiry of expiring.
	StatusStale
	// StatusUnavailable: no usable token right now (NoToken, spec.md §7).
	StatusUnavailable
	// StatusAuthInProgress: Pending with no prior token to fall back on.
	StatusAuthInProgress
)

// NotifyRequest asks the caller to surface an authorization URL to the
// user (spec.md §4.1: "surface it to the user (via notification and/or
// IPC reply)").
type NotifyRequest struct {
	Account string
	AuthURL string
}

// RequestResult is the outcome of Request or ForceRefresh.
type RequestResult struct {
	Token        string
	Status       Status
	StartRefresh bool // caller must launch a refresh_token exchange for this account
	Notify       *NotifyRequest
}

// PendingFactory builds a fresh Pending state (new state token, PKCE
// verifier and authorization URL) for act. Implemented by
// internal/oauth, injected here so this package stays IO-free.
type PendingFactory func(act *config.Account, now time.Time) (Pending, error)

// Request implements spec.md §4.1's `request(account)` operation.
func (t *Table) Request(name string, now time.Time, mkPending PendingFactory) (RequestResult, error) {
	r, ok := t.Get(name)
	if !ok {
		return RequestResult{}, apperr.New(apperr.KindUnknownAccount, name)
	}
	switch s := r.State.(type) {
	case Active:
		return t.requestFromActive(name, r, s, now), nil
	case Refreshing:
		if s.Prior.Usable(now) {
			return RequestResult{Token: s.Prior.AccessToken, Status: StatusStale}, nil
		}
		return RequestResult{Status: StatusUnavailable}, nil
	case Pending:
		return RequestResult{Status: StatusAuthInProgress}, nil
	case Empty:
		return t.beginAuth(name, r, now, mkPending)
	default:
		return RequestResult{}, apperr.New(apperr.KindUnknownAccount, name)
	}
}

func (t *Table) requestFromActive(name string, r *Record, s Active, now time.Time) RequestResult {
	if now.Add(r.Config.RefreshBeforeExpiry).Before(s.Expiry) {
		return RequestResult{Token: s.AccessToken, Status: StatusValid}
	}
	t.SetState(name, Refreshing{Prior: s, Started: now})
	if s.Usable(now) {
		return RequestResult{Token: s.AccessToken, Status: StatusStale, StartRefresh: true}
	}
	return RequestResult{Status: StatusUnavailable, StartRefresh: true}
}

func (t *Table) beginAuth(name string, r *Record, now time.Time, mkPending PendingFactory) (RequestResult, error) {
	pending, err := mkPending(r.Config, now)
	if err != nil {
		return RequestResult{}, apperr.Wrap(apperr.KindTransport, "building authorization URL", err)
	}
	t.SetState(name, pending)
	return RequestResult{
		Status: StatusUnavailable,
		Notify: &NotifyRequest{Account: name, AuthURL: pending.AuthURL},
	}, nil
}

// ForceRefresh implements spec.md §4.1's `force_refresh(account)` operation
// (CLI `refresh`).
func (t *Table) ForceRefresh(name string, now time.Time, mkPending PendingFactory) (RequestResult, error) {
	r, ok := t.Get(name)
	if !ok {
		return RequestResult{}, apperr.New(apperr.KindUnknownAccount, name)
	}
	switch s := r.State.(type) {
	case Active:
		t.SetState(name, Refreshing{Prior: s, Started: now})
		return RequestResult{StartRefresh: true}, nil
	case Empty:
		return t.beginAuth(name, r, now, mkPending)
	default: // Pending, Refreshing: no-op
		return RequestResult{Status: StatusAuthInProgress}, nil
	}
}

// ExchangeLookup implements the account-matching half of spec.md §4.1's
// `on_redirect(code, state)`: finding the unique Pending record whose
// state token matches. It does not itself perform the exchange; the
// scheduler calls this synchronously to decide whether the redirect is
// even addressable (invariant 3), then drives the HTTP exchange
// separately via a worker.
func (t *Table) ExchangeLookup(state string) (string, Pending, error) {
	name, ok := t.FindPendingByState(state)
	if !ok {
		return "", Pending{}, apperr.New(apperr.KindUnknownState, "no pending authorization matches this state")
	}
	r, _ := t.Get(name)
	return name, r.State.(Pending), nil
}

// ExchangeOutcome is what a worker reports back after attempting the
// authorization-code exchange or a refresh-token exchange.
type ExchangeOutcome struct {
	Success      bool
	AccessToken  string
	RefreshToken *string // nil means "keep whatever the account already has", only meaningful for refreshes
	ExpiresIn    *time.Duration
	Err          error
}

// OnExchangeResult implements the resolution half of `on_redirect`: on
// success the account becomes Active; on failure it reverts Pending to
// Empty and a notification is scheduled.
func (t *Table) OnExchangeResult(name string, now time.Time, refreshAtLeast time.Duration, outcome ExchangeOutcome) (*NotifyRequest, error) {
	r, ok := t.Get(name)
	if !ok {
		return nil, apperr.New(apperr.KindUnknownAccount, name)
	}
	if _, isPending := r.State.(Pending); !isPending {
		// The account moved on (e.g. a reload reset it) while the exchange
		// was in flight; silently drop the stale result.
		return nil, nil
	}
	if !outcome.Success {
		t.SetState(name, Empty{LastNotified: nil})
		return &NotifyRequest{Account: name}, nil
	}
	expiry := now.Add(refreshAtLeast)
	if outcome.ExpiresIn != nil {
		expiry = now.Add(*outcome.ExpiresIn)
	}
	t.SetState(name, Active{
		AccessToken:  outcome.AccessToken,
		RefreshToken: outcome.RefreshToken,
		Expiry:       expiry,
		Acquired:     now,
	})
	return nil, nil
}

// OnRefreshResult implements spec.md §4.1's `on_refresh_result(account,
// result)`.
func (t *Table) OnRefreshResult(name string, now time.Time, refreshAtLeast time.Duration, outcome ExchangeOutcome) (*NotifyRequest, error) {
	r, ok := t.Get(name)
	if !ok {
		return nil, apperr.New(apperr.KindUnknownAccount, name)
	}
	refreshing, isRefreshing := r.State.(Refreshing)
	if !isRefreshing {
		return nil, nil
	}
	prior := refreshing.Prior
	if outcome.Success {
		refreshToken := prior.RefreshToken
		if outcome.RefreshToken != nil {
			refreshToken = outcome.RefreshToken
		}
		expiry := now.Add(refreshAtLeast)
		if outcome.ExpiresIn != nil {
			expiry = now.Add(*outcome.ExpiresIn)
		}
		t.SetState(name, Active{
			AccessToken:  outcome.AccessToken,
			RefreshToken: refreshToken,
			Expiry:       expiry,
			Acquired:     now,
		})
		return nil, nil
	}
	if prior.Expiry.After(now) {
		// Stay Active on the prior token; the scheduler re-schedules the
		// next attempt after refresh_retry_interval itself.
		t.SetState(name, prior)
		return nil, nil
	}
	t.SetState(name, Empty{LastNotified: nil})
	return &NotifyRequest{Account: name}, nil
}

// MarkNotified records that a reminder was just sent for name, whatever
// its current Empty/Pending state (spec.md §4.1's notify-debounce rule).
func (t *Table) MarkNotified(name string, now time.Time) {
	r, ok := t.Get(name)
	if !ok {
		return
	}
	switch s := r.State.(type) {
	case Empty:
		s.LastNotified = &now
		t.SetState(name, s)
	case Pending:
		s.LastNotified = &now
		t.SetState(name, s)
	}
}
