package account

import (
	"github.com/vext01/pizauth/internal/config"
)

// Record pairs an account's immutable-per-reload configuration with its
// current runtime TokenState (spec.md §3). Exactly one Record exists per
// configured account name (invariant 1).
type Record struct {
	Config *config.Account
	State  TokenState
}

// Table is the single in-memory map of account name to Record. It belongs
// exclusively to the scheduler's event-loop goroutine (spec.md §5: "one
// event-loop thread owns all Account runtime state"); Table itself does
// not lock because nothing outside that goroutine is permitted to touch
// it. This replaces the original Rust implementation's mutex-guarded
// CTGuard indirection (see _examples/original_source/src/server/state.rs)
// with the simpler guarantee a single-owner goroutine gives for free in
// Go.
type Table struct {
	records map[string]*Record
}

// NewTable builds a Table with every configured account starting Empty,
// the lifecycle rule from spec.md §3 ("An account record is created on
// first reference to its identifier after (re)load").
func NewTable(cfg *config.Config) *Table {
	t := &Table{records: make(map[string]*Record, len(cfg.Accounts))}
	for name, act := range cfg.Accounts {
		t.records[name] = &Record{Config: act, State: Empty{}}
	}
	return t
}

// Get returns the Record for name, or (nil, false) if name is not a
// currently configured account (the UnknownAccount error kind, spec.md §7).
func (t *Table) Get(name string) (*Record, bool) {
	r, ok := t.records[name]
	return r, ok
}

// Names returns every currently configured account name, in no particular
// order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.records))
	for name := range t.records {
		names = append(names, name)
	}
	return names
}

// SetState replaces the TokenState for name. The caller must already hold
// a valid Record for name (via Get).
func (t *Table) SetState(name string, s TokenState) {
	if r, ok := t.records[name]; ok {
		r.State = s
	}
}

// FindPendingByState returns the unique account whose Pending.StateToken
// equals state, implementing invariant 3: "state_token is ... the sole
// authority that binds a redirect arrival to a Pending record." Returns
// ("", false) if no account matches.
func (t *Table) FindPendingByState(state string) (string, bool) {
	for name, r := range t.records {
		if p, ok := r.State.(Pending); ok && p.StateToken == state {
			return name, true
		}
	}
	return "", false
}

// ReloadResult reports what Reload did to each previously-known account,
// for logging.
type ReloadResult struct {
	Added   []string
	Reset   []string
	Removed []string
	Kept    []string
}

// Reload applies invariant 4 from spec.md §3: accounts whose configuration
// is byte-identical to before keep their runtime state; accounts whose
// configuration changed materially reset to Empty; removed accounts are
// discarded; added accounts start Empty. This mirrors
// LockedState::update_conf in _examples/original_source/src/server/state.rs,
// minus that file's version-counter bookkeeping, which existed solely to
// invalidate CTGuardAccountId handles outstanding across threads — a
// concern that does not exist when the Table has exactly one owner.
func (t *Table) Reload(cfg *config.Config) ReloadResult {
	var res ReloadResult
	next := make(map[string]*Record, len(cfg.Accounts))

	for name, newAct := range cfg.Accounts {
		old, existed := t.records[name]
		switch {
		case !existed:
			next[name] = &Record{Config: newAct, State: Empty{}}
			res.Added = append(res.Added, name)
		case old.Config.Equal(newAct):
			next[name] = &Record{Config: newAct, State: old.State}
			res.Kept = append(res.Kept, name)
		default:
			next[name] = &Record{Config: newAct, State: Empty{}}
			res.Reset = append(res.Reset, name)
		}
	}
	for name := range t.records {
		if _, stillPresent := cfg.Accounts[name]; !stillPresent {
			res.Removed = append(res.Removed, name)
		}
	}

	t.records = next
	return res
}
