package config

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"
)

// Parse reads pizauth's config grammar from r and returns a validated
// Config, or a *ParseError naming the first offending key (spec.md §6:
// "All mandatory keys missing → reload fails with a diagnostic naming the
// first offender").
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	p := &parser{lex: newLexer(string(data))}
	if err := p.advance(); err != nil {
		return nil, err
	}
	cfg, err := p.parseConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errf(format string, args ...interface{}) error {
	return &ParseError{Line: p.tok.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectPunct(s string) error {
	if p.tok.kind != tokPunct || p.tok.text != s {
		return p.errf("expected %q, got %q", s, p.tok.text)
	}
	return p.advance()
}

func (p *parser) parseConfig() (*Config, error) {
	cfg := &Config{
		NotifyInterval:       DefaultNotifyInterval,
		RefreshRetryInterval: DefaultRefreshRetryInterval,
		Accounts:             make(map[string]*Account),
	}
	for p.tok.kind != tokEOF {
		if p.tok.kind != tokIdent {
			return nil, p.errf("expected a top-level key or 'account' block, got %q", p.tok.text)
		}
		switch p.tok.text {
		case "account":
			if err := p.advance(); err != nil {
				return nil, err
			}
			act, err := p.parseAccount()
			if err != nil {
				return nil, err
			}
			if _, dup := cfg.Accounts[act.Name]; dup {
				return nil, p.errf("duplicate account %q", act.Name)
			}
			cfg.Accounts[act.Name] = act
		case "notify_interval":
			d, err := p.parseKeyDuration()
			if err != nil {
				return nil, err
			}
			cfg.NotifyInterval = d
		case "refresh_retry_interval":
			d, err := p.parseKeyDuration()
			if err != nil {
				return nil, err
			}
			cfg.RefreshRetryInterval = d
		default:
			return nil, p.errf("unknown top-level key %q", p.tok.text)
		}
	}
	return cfg, nil
}

// parseKeyDuration consumes `<key> = <duration>;` having already matched
// the key identifier.
func (p *parser) parseKeyDuration() (time.Duration, error) {
	if err := p.advance(); err != nil {
		return 0, err
	}
	if err := p.expectPunct("="); err != nil {
		return 0, err
	}
	if p.tok.kind != tokDuration {
		return 0, p.errf("expected a duration literal, got %q", p.tok.text)
	}
	d, err := parseDurationLiteral(p.tok.text)
	if err != nil {
		return 0, p.errf("%s", err)
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	if err := p.expectPunct(";"); err != nil {
		return 0, err
	}
	return d, nil
}

func (p *parser) parseAccount() (*Account, error) {
	if p.tok.kind != tokString {
		return nil, p.errf("expected account name string, got %q", p.tok.text)
	}
	act := &Account{Name: p.tok.text}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for p.tok.kind != tokPunct || p.tok.text != "}" {
		if p.tok.kind != tokIdent {
			return nil, p.errf("expected an account key, got %q", p.tok.text)
		}
		key := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		switch key {
		case "auth_uri", "token_uri", "redirect_uri":
			u, err := p.parseURI()
			if err != nil {
				return nil, err
			}
			switch key {
			case "auth_uri":
				act.AuthURI = u
			case "token_uri":
				act.TokenURI = u
			case "redirect_uri":
				act.RedirectURI = u
			}
		case "client_id":
			s, err := p.parseString()
			if err != nil {
				return nil, err
			}
			act.ClientID = s
		case "client_secret":
			s, err := p.parseString()
			if err != nil {
				return nil, err
			}
			act.ClientSecret = s
		case "login_hint":
			s, err := p.parseString()
			if err != nil {
				return nil, err
			}
			act.LoginHint = &s
		case "scopes":
			scopes, err := p.parseStringList()
			if err != nil {
				return nil, err
			}
			act.Scopes = scopes
		case "refresh_before_expiry":
			if p.tok.kind != tokDuration {
				return nil, p.errf("expected a duration literal, got %q", p.tok.text)
			}
			d, err := parseDurationLiteral(p.tok.text)
			if err != nil {
				return nil, p.errf("%s", err)
			}
			act.RefreshBeforeExpiry = d
			if err := p.advance(); err != nil {
				return nil, err
			}
		case "refresh_at_least":
			if p.tok.kind != tokDuration {
				return nil, p.errf("expected a duration literal, got %q", p.tok.text)
			}
			d, err := parseDurationLiteral(p.tok.text)
			if err != nil {
				return nil, p.errf("%s", err)
			}
			act.RefreshAtLeast = d
			if err := p.advance(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown account key %q", key)
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
	}
	if err := p.advance(); err != nil { // consume '}'
		return nil, err
	}
	if act.RefreshBeforeExpiry == 0 {
		act.RefreshBeforeExpiry = DefaultRefreshBeforeExpiry
	}
	if act.RefreshAtLeast == 0 {
		act.RefreshAtLeast = DefaultRefreshAtLeast
	}
	return act, nil
}

func (p *parser) parseString() (string, error) {
	if p.tok.kind != tokString {
		return "", p.errf("expected a string, got %q", p.tok.text)
	}
	s := p.tok.text
	return s, p.advance()
}

func (p *parser) parseURI() (*url.URL, error) {
	s, err := p.parseString()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, p.errf("invalid URI %q: %s", s, err)
	}
	if !u.IsAbs() {
		return nil, p.errf("URI %q must be absolute", s)
	}
	return u, nil
}

func (p *parser) parseStringList() ([]string, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	var out []string
	for p.tok.kind != tokPunct || p.tok.text != "]" {
		s, err := p.parseString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if p.tok.kind == tokPunct && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return out, p.expectPunct("]")
}

// parseDurationLiteral converts a `<int>[smhd]` literal (spec.md §6) into a
// time.Duration; a bare integer with no unit suffix is interpreted as
// seconds.
func parseDurationLiteral(lit string) (time.Duration, error) {
	if lit == "" {
		return 0, fmt.Errorf("empty duration literal")
	}
	unit := time.Second
	numPart := lit
	switch lit[len(lit)-1] {
	case 's':
		unit, numPart = time.Second, lit[:len(lit)-1]
	case 'm':
		unit, numPart = time.Minute, lit[:len(lit)-1]
	case 'h':
		unit, numPart = time.Hour, lit[:len(lit)-1]
	case 'd':
		unit, numPart = 24*time.Hour, lit[:len(lit)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration literal %q", lit)
	}
	return time.Duration(n) * unit, nil
}
