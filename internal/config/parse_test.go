package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
notify_interval = 5m;
refresh_retry_interval = 30s;

account "work" {
    auth_uri = "https://accounts.example.com/auth";
    token_uri = "https://accounts.example.com/token";
    redirect_uri = "http://localhost/";
    client_id = "abc";
    client_secret = "xyz";
    scopes = ["mail.read", "mail.send"];
    login_hint = "me@example.com";
    refresh_before_expiry = 90s;
    refresh_at_least = 90m;
}
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.NotifyInterval)
	require.Equal(t, 30*time.Second, cfg.RefreshRetryInterval)
	require.Len(t, cfg.Accounts, 1)

	act := cfg.Accounts["work"]
	require.NotNil(t, act)
	require.Equal(t, "abc", act.ClientID)
	require.Equal(t, []string{"mail.read", "mail.send"}, act.Scopes)
	require.NotNil(t, act.LoginHint)
	require.Equal(t, "me@example.com", *act.LoginHint)
	require.Equal(t, 90*time.Second, act.RefreshBeforeExpiry)
	require.Equal(t, 90*time.Minute, act.RefreshAtLeast)
}

func TestParseDefaultsApplied(t *testing.T) {
	const noIntervals = `
account "x" {
    auth_uri = "http://a.com";
    token_uri = "http://b.com";
    redirect_uri = "http://localhost/";
    client_id = "c";
    client_secret = "d";
    scopes = ["s"];
}
`
	cfg, err := Parse(strings.NewReader(noIntervals))
	require.NoError(t, err)
	require.Equal(t, DefaultNotifyInterval, cfg.NotifyInterval)
	require.Equal(t, DefaultRefreshRetryInterval, cfg.RefreshRetryInterval)
	require.Equal(t, DefaultRefreshBeforeExpiry, cfg.Accounts["x"].RefreshBeforeExpiry)
	require.Equal(t, DefaultRefreshAtLeast, cfg.Accounts["x"].RefreshAtLeast)
}

func TestParseMissingMandatoryKeyNamesOffender(t *testing.T) {
	const missingClientSecret = `
account "x" {
    auth_uri = "http://a.com";
    token_uri = "http://b.com";
    redirect_uri = "http://localhost/";
    client_id = "c";
    scopes = ["s"];
}
`
	_, err := Parse(strings.NewReader(missingClientSecret))
	require.Error(t, err)
	require.Contains(t, err.Error(), `account "x"`)
	require.Contains(t, err.Error(), "client_secret")
}

func TestParseEmptyScopesRejected(t *testing.T) {
	const emptyScopes = `
account "x" {
    auth_uri = "http://a.com";
    token_uri = "http://b.com";
    redirect_uri = "http://localhost/";
    client_id = "c";
    client_secret = "d";
    scopes = [];
}
`
	_, err := Parse(strings.NewReader(emptyScopes))
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-empty")
}

func TestParseDuplicateAccountRejected(t *testing.T) {
	const dup = `
account "x" {
    auth_uri = "http://a.com"; token_uri = "http://b.com"; redirect_uri = "http://localhost/";
    client_id = "c"; client_secret = "d"; scopes = ["s"];
}
account "x" {
    auth_uri = "http://a.com"; token_uri = "http://b.com"; redirect_uri = "http://localhost/";
    client_id = "c"; client_secret = "d"; scopes = ["s"];
}
`
	_, err := Parse(strings.NewReader(dup))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestDurationLiteralUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"10s": 10 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"30":  30 * time.Second,
	}
	for lit, want := range cases {
		got, err := parseDurationLiteral(lit)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestYAMLRoundTrip exercises spec.md §8's round-trip property: serializing
// and parsing a valid config, then serializing again, yields a semantically
// equal configuration.
func TestYAMLRoundTrip(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	out1, err := cfg.ToYAML()
	require.NoError(t, err)

	reparsed, err := FromYAML(out1)
	require.NoError(t, err)

	out2, err := reparsed.ToYAML()
	require.NoError(t, err)

	require.Equal(t, out1, out2)
	require.Empty(t, cmp.Diff(cfg.Accounts["work"].Scopes, reparsed.Accounts["work"].Scopes))
	require.True(t, cfg.Accounts["work"].Equal(reparsed.Accounts["work"]))
}

func TestAccountEqualDetectsScopeOrderChange(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	a := cfg.Accounts["work"]
	b := *a
	b.Scopes = []string{"mail.send", "mail.read"}
	require.False(t, a.Equal(&b), "scope order is significant per spec.md §3")
}
