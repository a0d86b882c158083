package config

import (
	"sort"
	"strings"

	logx "oscrelay/pkg/logx"
)

// RelayChanges lists relay ids by how a reload affected them.
type RelayChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c RelayChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// SummarizeConfigChange returns the changed top-level sections, log fields
// describing them (secrets are reported only as set/unset) and the relay
// ids that were added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, RelayChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var sections []string
	var attrs []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		sections = append(sections, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		sections = append(sections, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.allow_insecure", newCfg.HTTP.AllowInsecure),
		)
	}

	if Hash(oldCfg.Storage) != Hash(newCfg.Storage) {
		sections = append(sections, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if oldCfg.Relay != newCfg.Relay {
		sections = append(sections, "relay")
		attrs = append(attrs,
			logx.Int("relay.workers", newCfg.Relay.Workers),
			logx.Int("relay.queue_size", newCfg.Relay.QueueSize),
			logx.Float64("relay.unmapped_rate_per_sec", newCfg.Relay.UnmappedRatePerSec),
		)
	}

	if Hash(oldCfg.LogExport) != Hash(newCfg.LogExport) {
		sections = append(sections, "log_export")
		if e := newCfg.LogExport; e != nil {
			attrs = append(attrs,
				logx.Bool("log_export.enabled", e.Enabled),
				logx.String("log_export.schedule", e.Schedule),
			)
		}
	}

	rc := diffRelays(oldCfg.Relays, newCfg.Relays)
	if !rc.Empty() {
		sections = append(sections, "relays")
		attrs = append(attrs,
			logx.Int("relays.added", len(rc.Added)),
			logx.Int("relays.removed", len(rc.Removed)),
			logx.Int("relays.changed", len(rc.Changed)),
		)
	}
	return sections, attrs, rc
}

func diffRelays(oldRelays, newRelays []RelayConfig) RelayChanges {
	oldByID := make(map[string]uint64, len(oldRelays))
	for _, r := range oldRelays {
		oldByID[r.ID] = Hash(r)
	}
	var rc RelayChanges
	seen := make(map[string]bool, len(newRelays))
	for _, r := range newRelays {
		seen[r.ID] = true
		h, ok := oldByID[r.ID]
		switch {
		case !ok:
			rc.Added = append(rc.Added, r.ID)
		case h != Hash(r):
			rc.Changed = append(rc.Changed, r.ID)
		}
	}
	for id := range oldByID {
		if !seen[id] {
			rc.Removed = append(rc.Removed, id)
		}
	}
	sort.Strings(rc.Added)
	sort.Strings(rc.Removed)
	sort.Strings(rc.Changed)
	return rc
}
