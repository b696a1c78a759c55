package account

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vext01/pizauth/internal/config"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		NotifyInterval:       15 * time.Minute,
		RefreshRetryInterval: 40 * time.Second,
		Accounts: map[string]*config.Account{
			"work": {
				Name:                "work",
				AuthURI:             mustURL(t, "https://example.com/auth"),
				TokenURI:            mustURL(t, "https://example.com/token"),
				RedirectURI:         mustURL(t, "http://localhost/"),
				ClientID:            "cid",
				ClientSecret:        "secret",
				Scopes:              []string{"scope"},
				RefreshBeforeExpiry: 90 * time.Second,
				RefreshAtLeast:      90 * time.Minute,
			},
		},
	}
}

func fakePendingFactory(stateToken string) PendingFactory {
	return func(act *config.Account, now time.Time) (Pending, error) {
		return Pending{
			StateToken:   stateToken,
			CodeVerifier: "verifier",
			AuthURL:      act.AuthURI.String() + "?state=" + stateToken,
			Started:      now,
		}, nil
	}
}

func TestRequestEmptyCreatesPendingAndNotifies(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)

	res, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, res.Status)
	require.Empty(t, res.Token)
	require.NotNil(t, res.Notify)
	require.Equal(t, "work", res.Notify.Account)

	rec, ok := tbl.Get("work")
	require.True(t, ok)
	pending, isPending := rec.State.(Pending)
	require.True(t, isPending)
	require.Equal(t, "tok1", pending.StateToken)
}

func TestRequestPendingReturnsAuthInProgress(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	_, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)

	res, err := tbl.Request("work", now.Add(time.Second), fakePendingFactory("tok2"))
	require.NoError(t, err)
	require.Equal(t, StatusAuthInProgress, res.Status)

	rec, _ := tbl.Get("work")
	pending := rec.State.(Pending)
	require.Equal(t, "tok1", pending.StateToken, "a second Request must not replace an existing Pending")
}

func TestRequestActiveWithinWindowReturnsTokenNoRefresh(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	tbl.SetState("work", Active{
		AccessToken: "AT1",
		Expiry:      now.Add(time.Hour),
		Acquired:    now,
	})

	res, err := tbl.Request("work", now, fakePendingFactory("unused"))
	require.NoError(t, err)
	require.Equal(t, StatusValid, res.Status)
	require.Equal(t, "AT1", res.Token)
	require.False(t, res.StartRefresh)
}

func TestRequestActiveNearExpiryStartsRefresh(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	expiry := now.Add(89 * time.Second) // inside refresh_before_expiry=90s
	tbl.SetState("work", Active{
		AccessToken: "AT1",
		Expiry:      expiry,
		Acquired:    now.Add(-time.Hour),
	})

	res, err := tbl.Request("work", now, fakePendingFactory("unused"))
	require.NoError(t, err)
	require.Equal(t, StatusStale, res.Status)
	require.Equal(t, "AT1", res.Token, "prior token still valid until expiry")
	require.True(t, res.StartRefresh)

	rec, _ := tbl.Get("work")
	_, isRefreshing := rec.State.(Refreshing)
	require.True(t, isRefreshing)
}

func TestRequestActiveAlreadyExpiredDuringRefreshReturnsNoToken(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	tbl.SetState("work", Active{
		AccessToken: "AT1",
		Expiry:      now.Add(-time.Second),
		Acquired:    now.Add(-time.Hour),
	})

	res, err := tbl.Request("work", now, fakePendingFactory("unused"))
	require.NoError(t, err)
	require.Equal(t, StatusUnavailable, res.Status)
	require.Empty(t, res.Token)
	require.True(t, res.StartRefresh)
}

func TestRequestRefreshingFallsBackToPriorIfUsable(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	tbl.SetState("work", Refreshing{
		Prior: Active{
			AccessToken: "AT1",
			Expiry:      now.Add(time.Minute),
			Acquired:    now.Add(-time.Hour),
		},
		Started: now,
	})

	res, err := tbl.Request("work", now, fakePendingFactory("unused"))
	require.NoError(t, err)
	require.Equal(t, StatusStale, res.Status)
	require.Equal(t, "AT1", res.Token)
	require.False(t, res.StartRefresh, "Request must never start a second concurrent refresh (invariant 2)")
}

func TestForceRefreshOnEmptyBehavesLikeFirstRequest(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	res, err := tbl.ForceRefresh("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)
	require.NotNil(t, res.Notify)
}

func TestForceRefreshOnPendingIsNoop(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	_, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)

	res, err := tbl.ForceRefresh("work", now, fakePendingFactory("tok2"))
	require.NoError(t, err)
	require.Equal(t, StatusAuthInProgress, res.Status)
	rec, _ := tbl.Get("work")
	require.Equal(t, "tok1", rec.State.(Pending).StateToken)
}

func TestForceRefreshOnActiveStartsRefreshImmediately(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	tbl.SetState("work", Active{AccessToken: "AT1", Expiry: now.Add(time.Hour), Acquired: now})

	res, err := tbl.ForceRefresh("work", now, fakePendingFactory("unused"))
	require.NoError(t, err)
	require.True(t, res.StartRefresh)
	rec, _ := tbl.Get("work")
	_, isRefreshing := rec.State.(Refreshing)
	require.True(t, isRefreshing)
}

func TestExchangeLookupRejectsUnknownState(t *testing.T) {
	tbl := NewTable(testConfig(t))
	_, _, err := tbl.ExchangeLookup("nonexistent")
	require.Error(t, err)
}

func TestExchangeLookupFindsUniquePending(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	_, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)

	name, pending, err := tbl.ExchangeLookup("tok1")
	require.NoError(t, err)
	require.Equal(t, "work", name)
	require.Equal(t, "tok1", pending.StateToken)
}

func TestOnExchangeResultSuccessTransitionsToActive(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	_, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)

	expiresIn := time.Hour
	notif, err := tbl.OnExchangeResult("work", now, 90*time.Minute, ExchangeOutcome{
		Success:     true,
		AccessToken: "AT1",
		ExpiresIn:   &expiresIn,
	})
	require.NoError(t, err)
	require.Nil(t, notif)

	rec, _ := tbl.Get("work")
	active, ok := rec.State.(Active)
	require.True(t, ok)
	require.Equal(t, "AT1", active.AccessToken)
	require.Equal(t, now.Add(time.Hour), active.Expiry)
}

func TestOnExchangeResultMissingExpiresInDefaultsToRefreshAtLeast(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	_, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)

	_, err = tbl.OnExchangeResult("work", now, 90*time.Minute, ExchangeOutcome{
		Success:     true,
		AccessToken: "AT1",
	})
	require.NoError(t, err)
	rec, _ := tbl.Get("work")
	active := rec.State.(Active)
	require.Equal(t, now.Add(90*time.Minute), active.Expiry)
}

func TestOnExchangeResultFailureRevertsToEmptyAndNotifies(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	_, err := tbl.Request("work", now, fakePendingFactory("tok1"))
	require.NoError(t, err)

	notif, err := tbl.OnExchangeResult("work", now, 90*time.Minute, ExchangeOutcome{Success: false})
	require.NoError(t, err)
	require.NotNil(t, notif)

	rec, _ := tbl.Get("work")
	_, isEmpty := rec.State.(Empty)
	require.True(t, isEmpty)
}

func TestOnRefreshResultSuccessKeepsPriorRefreshTokenIfOmitted(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	rt := "RT1"
	tbl.SetState("work", Refreshing{
		Prior:   Active{AccessToken: "AT1", RefreshToken: &rt, Expiry: now.Add(time.Minute), Acquired: now.Add(-time.Hour)},
		Started: now,
	})

	_, err := tbl.OnRefreshResult("work", now, 90*time.Minute, ExchangeOutcome{
		Success:     true,
		AccessToken: "AT2",
	})
	require.NoError(t, err)
	rec, _ := tbl.Get("work")
	active := rec.State.(Active)
	require.Equal(t, "AT2", active.AccessToken)
	require.NotNil(t, active.RefreshToken)
	require.Equal(t, "RT1", *active.RefreshToken)
}

func TestOnRefreshResultFailureKeepsPriorIfStillValid(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	prior := Active{AccessToken: "AT1", Expiry: now.Add(time.Hour), Acquired: now.Add(-time.Hour)}
	tbl.SetState("work", Refreshing{Prior: prior, Started: now})

	notif, err := tbl.OnRefreshResult("work", now, 90*time.Minute, ExchangeOutcome{Success: false})
	require.NoError(t, err)
	require.Nil(t, notif)

	rec, _ := tbl.Get("work")
	active, ok := rec.State.(Active)
	require.True(t, ok)
	require.Equal(t, "AT1", active.AccessToken)
}

func TestOnRefreshResultFailureAfterExpiryGoesEmpty(t *testing.T) {
	tbl := NewTable(testConfig(t))
	now := time.Unix(1000, 0)
	prior := Active{AccessToken: "AT1", Expiry: now.Add(-time.Second), Acquired: now.Add(-time.Hour)}
	tbl.SetState("work", Refreshing{Prior: prior, Started: now})

	notif, err := tbl.OnRefreshResult("work", now, 90*time.Minute, ExchangeOutcome{Success: false})
	require.NoError(t, err)
	require.NotNil(t, notif)

	rec, _ := tbl.Get("work")
	_, isEmpty := rec.State.(Empty)
	require.True(t, isEmpty)
}

func TestReloadKeepsStateForByteIdenticalAccount(t *testing.T) {
	cfg := testConfig(t)
	tbl := NewTable(cfg)
	now := time.Unix(1000, 0)
	tbl.SetState("work", Active{AccessToken: "AT1", Expiry: now.Add(time.Hour), Acquired: now})

	same := testConfig(t)
	res := tbl.Reload(same)
	require.Equal(t, []string{"work"}, res.Kept)

	rec, _ := tbl.Get("work")
	active, ok := rec.State.(Active)
	require.True(t, ok)
	require.Equal(t, "AT1", active.AccessToken)
}

func TestReloadResetsStateForChangedAccount(t *testing.T) {
	cfg := testConfig(t)
	tbl := NewTable(cfg)
	now := time.Unix(1000, 0)
	tbl.SetState("work", Active{AccessToken: "AT1", Expiry: now.Add(time.Hour), Acquired: now})

	changed := testConfig(t)
	changed.Accounts["work"].ClientSecret = "different"
	res := tbl.Reload(changed)
	require.Equal(t, []string{"work"}, res.Reset)

	rec, _ := tbl.Get("work")
	_, isEmpty := rec.State.(Empty)
	require.True(t, isEmpty)
}

func TestReloadDropsRemovedAndAddsNewAccounts(t *testing.T) {
	cfg := testConfig(t)
	tbl := NewTable(cfg)

	next := &config.Config{Accounts: map[string]*config.Account{
		"personal": {
			Name:                "personal",
			AuthURI:             mustURL(t, "https://example.com/auth"),
			TokenURI:            mustURL(t, "https://example.com/token"),
			RedirectURI:         mustURL(t, "http://localhost/"),
			ClientID:            "cid2",
			ClientSecret:        "secret2",
			Scopes:              []string{"scope"},
			RefreshBeforeExpiry: 90 * time.Second,
			RefreshAtLeast:      90 * time.Minute,
		},
	}}
	res := tbl.Reload(next)
	require.Equal(t, []string{"work"}, res.Removed)
	require.Equal(t, []string{"personal"}, res.Added)

	_, workStillThere := tbl.Get("work")
	require.False(t, workStillThere)
	_, personalThere := tbl.Get("personal")
	require.True(t, personalThere)
}
