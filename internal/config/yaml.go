package config

import (
	"net/url"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlAccount mirrors Account with plain string/duration fields so
// gopkg.in/yaml.v3 (the teacher's serialization library) can marshal it
// without custom url.URL encoding hooks.
type yamlAccount struct {
	Name                string   `yaml:"name"`
	AuthURI             string   `yaml:"auth_uri"`
	TokenURI            string   `yaml:"token_uri"`
	RedirectURI         string   `yaml:"redirect_uri"`
	ClientID            string   `yaml:"client_id"`
	ClientSecret        string   `yaml:"client_secret"`
	Scopes              []string `yaml:"scopes"`
	LoginHint           string   `yaml:"login_hint,omitempty"`
	RefreshBeforeExpiry string   `yaml:"refresh_before_expiry"`
	RefreshAtLeast      string   `yaml:"refresh_at_least"`
}

type yamlConfig struct {
	NotifyInterval       string        `yaml:"notify_interval"`
	RefreshRetryInterval string        `yaml:"refresh_retry_interval"`
	Accounts             []yamlAccount `yaml:"accounts"`
}

// ToYAML renders Config as YAML for the `pizauth config dump` debug command
// and for the structural round-trip property in spec.md §8. Accounts are
// emitted in name-sorted order so two calls on semantically equal configs
// always produce byte-identical output.
func (c *Config) ToYAML() ([]byte, error) {
	yc := yamlConfig{
		NotifyInterval:       c.NotifyInterval.String(),
		RefreshRetryInterval: c.RefreshRetryInterval.String(),
	}
	names := make([]string, 0, len(c.Accounts))
	for name := range c.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		act := c.Accounts[name]
		ya := yamlAccount{
			Name:                act.Name,
			AuthURI:             act.AuthURI.String(),
			TokenURI:            act.TokenURI.String(),
			RedirectURI:         act.RedirectURI.String(),
			ClientID:            act.ClientID,
			ClientSecret:        act.ClientSecret,
			Scopes:              act.Scopes,
			RefreshBeforeExpiry: act.RefreshBeforeExpiry.String(),
			RefreshAtLeast:      act.RefreshAtLeast.String(),
		}
		if act.LoginHint != nil {
			ya.LoginHint = *act.LoginHint
		}
		yc.Accounts = append(yc.Accounts, ya)
	}
	return yaml.Marshal(yc)
}

// FromYAML parses the representation produced by ToYAML back into a Config.
func FromYAML(data []byte) (*Config, error) {
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, err
	}
	notify, err := time.ParseDuration(yc.NotifyInterval)
	if err != nil {
		return nil, err
	}
	retry, err := time.ParseDuration(yc.RefreshRetryInterval)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		NotifyInterval:       notify,
		RefreshRetryInterval: retry,
		Accounts:             make(map[string]*Account),
	}
	for _, ya := range yc.Accounts {
		authURI, err := url.Parse(ya.AuthURI)
		if err != nil {
			return nil, err
		}
		tokenURI, err := url.Parse(ya.TokenURI)
		if err != nil {
			return nil, err
		}
		redirectURI, err := url.Parse(ya.RedirectURI)
		if err != nil {
			return nil, err
		}
		before, err := time.ParseDuration(ya.RefreshBeforeExpiry)
		if err != nil {
			return nil, err
		}
		atLeast, err := time.ParseDuration(ya.RefreshAtLeast)
		if err != nil {
			return nil, err
		}
		act := &Account{
			Name:                ya.Name,
			AuthURI:             authURI,
			TokenURI:            tokenURI,
			RedirectURI:         redirectURI,
			ClientID:            ya.ClientID,
			ClientSecret:        ya.ClientSecret,
			Scopes:              ya.Scopes,
			RefreshBeforeExpiry: before,
			RefreshAtLeast:      atLeast,
		}
		if ya.LoginHint != "" {
			hint := ya.LoginHint
			act.LoginHint = &hint
		}
		cfg.Accounts[act.Name] = act
	}
	return cfg, nil
}
