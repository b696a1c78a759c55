// Package oauth is pizauth's C2: the synchronous HTTP client that drives
// the authorization-code exchange and refresh-token POSTs against an
// account's token_uri (spec.md §4.1, §6). It also builds the
// authorization URL (including PKCE) that starts a Pending flow.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/vext01/pizauth/internal/account"
	"github.com/vext01/pizauth/internal/config"
)

// DefaultDeadline is the hard per-request timeout from spec.md §5.
const DefaultDeadline = 30 * time.Second

// stateTokenBytes gives 128 bits of entropy, satisfying invariant 3 in
// spec.md §3 ("at least 128 bits of entropy").
const stateTokenBytes = 16

// Client is pizauth's token-endpoint HTTP client. It is safe for
// concurrent use: the scheduler's worker pool (spec.md §4.2/§5) calls
// Exchange/Refresh from multiple goroutines, one per in-flight HTTP call.
type Client struct {
	httpClient *http.Client
	log        *zap.SugaredLogger
	deadline   time.Duration
}

// NewClient builds a Client using httpClient for all token-endpoint
// requests (tests substitute an httptest-backed client; production uses
// http.DefaultClient's equivalent with the deadline applied per call via
// context, matching spec.md §5: "each outbound HTTP request carries a
// hard deadline").
func NewClient(httpClient *http.Client, log *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, log: log, deadline: DefaultDeadline}
}

func (c *Client) endpoint(act *config.Account) oauth2.Config {
	return oauth2.Config{
		ClientID:     act.ClientID,
		ClientSecret: act.ClientSecret,
		RedirectURL:  act.RedirectURI.String(),
		Scopes:       act.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  act.AuthURI.String(),
			TokenURL: act.TokenURI.String(),
		},
	}
}

// NewPending implements account.PendingFactory: it mints a fresh CSPRNG
// state token and PKCE code verifier/challenge pair and builds the
// authorization URL from spec.md §4.1.
func (c *Client) NewPending(act *config.Account, now time.Time) (account.Pending, error) {
	stateToken, err := randomToken(stateTokenBytes)
	if err != nil {
		return account.Pending{}, err
	}
	verifier := oauth2.GenerateVerifier()

	conf := c.endpoint(act)
	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
	}
	if act.LoginHint != nil {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", *act.LoginHint))
	}
	authURL := conf.AuthCodeURL(stateToken, opts...)

	return account.Pending{
		StateToken:   stateToken,
		CodeVerifier: verifier,
		AuthURL:      authURL,
		Started:      now,
	}, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Exchange performs the authorization-code leg of spec.md §6's token
// endpoint request: `grant_type=authorization_code` with the PKCE
// `code_verifier`.
func (c *Client) Exchange(ctx context.Context, act *config.Account, code, codeVerifier string) account.ExchangeOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	conf := c.endpoint(act)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	return c.toOutcome(tok, err)
}

// Refresh performs the `grant_type=refresh_token` leg of spec.md §6's
// token endpoint request.
func (c *Client) Refresh(ctx context.Context, act *config.Account, refreshToken string) account.ExchangeOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	conf := c.endpoint(act)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	return c.toOutcome(tok, err)
}

func (c *Client) toOutcome(tok *oauth2.Token, err error) account.ExchangeOutcome {
	if err != nil {
		c.logOAuthError(err)
		return account.ExchangeOutcome{Success: false, Err: err}
	}

	out := account.ExchangeOutcome{Success: true, AccessToken: tok.AccessToken}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		out.RefreshToken = &rt
	}
	if raw, ok := tok.Extra("expires_in").(float64); ok {
		d := time.Duration(raw) * time.Second
		out.ExpiresIn = &d
	}
	return out
}

// logOAuthError implements spec.md §7's OAuthError handling: "a
// well-formed error JSON from the server ... the `error` code is
// logged". gjson is used here (rather than the struct-tag JSON the rest
// of the client relies on x/oauth2 for) because a failure body is
// adversarial input: it may be truncated, may not be JSON at all, or may
// omit `error_description`, and gjson degrades to an empty match instead
// of a decode error in all of those cases.
func (c *Client) logOAuthError(err error) {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || len(retrieveErr.Body) == 0 {
		return
	}
	code := gjson.GetBytes(retrieveErr.Body, "error").String()
	if code == "" {
		return
	}
	desc := gjson.GetBytes(retrieveErr.Body, "error_description").String()
	if c.log != nil {
		c.log.Warnw("oauth2 server returned an error", "error", code, "error_description", desc)
	}
}
