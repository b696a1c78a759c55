// Package config holds pizauth's typed configuration and the lexer/parser
// that produces it from the on-disk grammar described in spec.md §3/§6.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Defaults from spec.md §3.
const (
	DefaultRefreshBeforeExpiry = 90 * time.Second
	DefaultRefreshAtLeast      = 90 * time.Minute
	DefaultNotifyInterval      = 15 * time.Minute
	DefaultRefreshRetryInterval = 40 * time.Second
)

// Account is one account's immutable-per-reload configuration (spec.md §3).
type Account struct {
	Name                string
	AuthURI             *url.URL
	TokenURI            *url.URL
	RedirectURI         *url.URL
	ClientID            string
	ClientSecret        string
	Scopes              []string
	LoginHint           *string
	RefreshBeforeExpiry time.Duration
	RefreshAtLeast      time.Duration
}

// Equal reports whether two Accounts are materially identical, i.e. whether
// invariant 4 in spec.md §3 would consider them the "same" configuration
// across a reload. Scope order matters: spec.md §3 says scopes are an
// "ordered sequence ... duplicates preserved in request order".
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name ||
		a.ClientID != b.ClientID ||
		a.ClientSecret != b.ClientSecret ||
		a.RefreshBeforeExpiry != b.RefreshBeforeExpiry ||
		a.RefreshAtLeast != b.RefreshAtLeast {
		return false
	}
	if !uriEqual(a.AuthURI, b.AuthURI) || !uriEqual(a.TokenURI, b.TokenURI) || !uriEqual(a.RedirectURI, b.RedirectURI) {
		return false
	}
	if !stringPtrEqual(a.LoginHint, b.LoginHint) {
		return false
	}
	if len(a.Scopes) != len(b.Scopes) {
		return false
	}
	for i := range a.Scopes {
		if a.Scopes[i] != b.Scopes[i] {
			return false
		}
	}
	return true
}

func uriEqual(a, b *url.URL) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Config is pizauth's global configuration (spec.md §3).
type Config struct {
	NotifyInterval       time.Duration
	RefreshRetryInterval time.Duration
	Accounts             map[string]*Account
}

// Validate checks the mandatory-key and non-empty-scopes invariants from
// spec.md §3/§6, returning a *ParseError naming the first offending account
// so reload/startup diagnostics can point at it directly.
func (c *Config) Validate() error {
	for name, act := range c.Accounts {
		switch {
		case act.AuthURI == nil:
			return &ParseError{Msg: fmt.Sprintf("account %q: missing auth_uri", name)}
		case act.TokenURI == nil:
			return &ParseError{Msg: fmt.Sprintf("account %q: missing token_uri", name)}
		case act.RedirectURI == nil:
			return &ParseError{Msg: fmt.Sprintf("account %q: missing redirect_uri", name)}
		case act.ClientID == "":
			return &ParseError{Msg: fmt.Sprintf("account %q: missing client_id", name)}
		case act.ClientSecret == "":
			return &ParseError{Msg: fmt.Sprintf("account %q: missing client_secret", name)}
		case len(act.Scopes) == 0:
			return &ParseError{Msg: fmt.Sprintf("account %q: scopes must be non-empty", name)}
		}
	}
	return nil
}

// ParseError is a ConfigError (spec.md §7): a syntactic or semantic config
// failure naming the first offender, surfaced verbatim on `reload` replies
// and at startup.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}
