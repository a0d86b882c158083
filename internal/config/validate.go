package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "oscrelay/pkg/logx"
	"oscrelay/pkg/oscmatch"
)

// Validate checks a decoded config and reports every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			add("logging.level: unknown level %q", lvl)
		}
	}

	if cfg.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			add("http.addr: %v", err)
		}
		for path, raw := range map[string]string{
			"http.read_timeout":  cfg.HTTP.ReadTimeout,
			"http.write_timeout": cfg.HTTP.WriteTimeout,
			"http.idle_timeout":  cfg.HTTP.IdleTimeout,
		} {
			if _, err := ParseDuration(path, raw, 0); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path: required for driver %q", s.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDuration("storage.busy_timeout", s.BusyTimeout, 0); err != nil {
			errs = append(errs, err)
		}
	}

	r := cfg.Relay
	if r.Workers < 0 || r.QueueSize < 0 || r.LogCapacity < 0 || r.StatusTail < 0 || r.UnmappedRatePerSec < 0 {
		add("relay: values must be >= 0")
	}

	if e := cfg.LogExport; e != nil && e.Enabled {
		if _, err := cron.ParseStandard(e.Schedule); err != nil {
			add("log_export.schedule: %v", err)
		}
		if strings.TrimSpace(e.Dir) == "" {
			add("log_export.dir: required")
		}
		if tz := strings.TrimSpace(e.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("log_export.timezone: %v", err)
			}
		}
	}

	seen := map[string]bool{}
	for i, rc := range cfg.Relays {
		where := fmt.Sprintf("relays[%d]", i)
		if rc.ID == "" {
			add("%s.id: required", where)
		} else if seen[rc.ID] {
			add("%s.id: duplicate id %q", where, rc.ID)
		}
		seen[rc.ID] = true

		if net.ParseIP(rc.ListenIP) == nil {
			add("%s.listen_ip: %q is not an IP address", where, rc.ListenIP)
		}
		if rc.ListenPort < 1 || rc.ListenPort > 65535 {
			add("%s.listen_port: %d out of range", where, rc.ListenPort)
		}
		for j, m := range rc.Mappings {
			errs = append(errs, validateMapping(fmt.Sprintf("%s.mappings[%d]", where, j), m)...)
		}
	}
	return errors.Join(errs...)
}

func validateMapping(where string, m MappingConfig) []error {
	var errs []error
	// Disabled mappings never reach the dispatch table, so their pattern
	// may be left half-edited.
	if m.IsEnabled() {
		if _, err := oscmatch.Compile(m.Input); err != nil {
			errs = append(errs, fmt.Errorf("%s.input: %w", where, err))
		}
	}
	if !strings.HasPrefix(m.Output, "/") {
		errs = append(errs, fmt.Errorf("%s.output: %q must start with '/'", where, m.Output))
	}
	if net.ParseIP(m.DestIP) == nil && m.DestIP != "localhost" {
		errs = append(errs, fmt.Errorf("%s.dest_ip: %q is not an IP address", where, m.DestIP))
	}
	if m.DestPort < 1 || m.DestPort > 65535 {
		errs = append(errs, fmt.Errorf("%s.dest_port: %d out of range", where, m.DestPort))
	}
	return errs
}
