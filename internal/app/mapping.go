package app

import (
	"fmt"
	"strings"
	"time"

	"oscrelay/internal/config"
	"oscrelay/internal/httpapi"
	"oscrelay/internal/relay"
	"oscrelay/internal/scheduler"
	"oscrelay/internal/storage"
	logx "oscrelay/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDuration("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDuration("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDuration("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapExportConfig(cfg *config.Config) scheduler.Config {
	if cfg == nil || cfg.LogExport == nil {
		return scheduler.Config{}
	}
	e := cfg.LogExport
	return scheduler.Config{
		Enabled:  e.Enabled,
		Schedule: strings.TrimSpace(e.Schedule),
		Dir:      strings.TrimSpace(e.Dir),
		Timezone: strings.TrimSpace(e.Timezone),
		Keep:     e.Keep,
	}
}

func mapRegistryOptions(cfg *config.Config) relay.Options {
	return relay.Options{
		Workers:        cfg.Relay.Workers,
		QueueSize:      cfg.Relay.QueueSize,
		UnmappedPerSec: cfg.Relay.UnmappedRatePerSec,
		StatusTail:     cfg.Relay.StatusTail,
	}
}

// snapshotOf freezes one relay config for a registry run.
func snapshotOf(rc config.RelayConfig) relay.Snapshot {
	maps := make([]relay.Mapping, 0, len(rc.Mappings))
	for _, m := range rc.Mappings {
		maps = append(maps, relay.Mapping{
			Input:    m.Input,
			Output:   m.Output,
			DestIP:   m.DestIP,
			DestPort: m.DestPort,
			Enabled:  m.IsEnabled(),
		})
	}
	return relay.Snapshot{
		ID:           rc.ID,
		Name:         rc.DisplayName(),
		ListenIP:     rc.ListenIP,
		ListenPort:   rc.ListenPort,
		Mappings:     maps,
		AutoStart:    rc.AutoStart,
		HideUnmapped: rc.HideUnmapped,
	}
}

func displayNames(cfg *config.Config) map[string]string {
	out := map[string]string{}
	if cfg == nil {
		return out
	}
	for _, r := range cfg.Relays {
		out[r.ID] = r.DisplayName()
	}
	return out
}
