package daemon

import (
	"fmt"
	"os"

	"github.com/vext01/pizauth/internal/config"
	"github.com/vext01/pizauth/internal/redirect"
)

// loadConfigFile parses and validates configPath, then substitutes the
// redirect listener's bound ephemeral port into every account's
// redirect_uri that names host "localhost" with no explicit port
// (spec.md §4.3), so the same substitution applies identically on initial
// load and on every `reload`.
func loadConfigFile(configPath string, redirectPort int) (*config.Config, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", configPath, err)
	}
	defer f.Close()

	cfg, err := config.Parse(f)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, act := range cfg.Accounts {
		act.RedirectURI = redirect.EffectiveRedirectURI(act.RedirectURI, redirectPort)
	}
	return cfg, nil
}
