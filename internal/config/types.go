package config

import "strings"

// Config is the whole process configuration. It is loaded from a JSON or
// YAML file and hot-reloaded by ConfigManager.Watch.
type Config struct {
	Logging   LoggingConfig      `json:"logging"`
	HTTP      HTTPConfig         `json:"http"`
	Storage   *StorageConfig     `json:"storage,omitempty"`
	Relay     RelayRuntimeConfig `json:"relay"`
	LogExport *LogExportConfig   `json:"log_export,omitempty"`
	Relays    []RelayConfig      `json:"relays"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the control/status API.
//
// Binding a non-loopback address requires Token unless AllowInsecure is set.
// Timeouts are Go duration strings; empty picks the server default.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// StorageConfig selects the audit store. Driver is "none", "file" or "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RelayRuntimeConfig tunes every relay instance. Zero values pick defaults:
// 4 workers, queue of 1024, unlimited unmapped logging, 100 log entries per
// buffer, status tail of 20.
type RelayRuntimeConfig struct {
	Workers            int     `json:"workers,omitempty"`
	QueueSize          int     `json:"queue_size,omitempty"`
	UnmappedRatePerSec float64 `json:"unmapped_rate_per_sec,omitempty"`
	LogCapacity        int     `json:"log_capacity,omitempty"`
	StatusTail         int     `json:"status_tail,omitempty"`
}

// LogExportConfig writes the relay logs to Dir on a cron Schedule.
type LogExportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Dir      string `json:"dir"`
	Timezone string `json:"timezone,omitempty"`
	// Keep bounds the number of export files retained; 0 keeps all.
	Keep int `json:"keep,omitempty"`
}

// RelayConfig describes one listener and its ordered mappings.
type RelayConfig struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	ListenIP     string          `json:"listen_ip,omitempty"`
	ListenPort   int             `json:"listen_port,omitempty"`
	AutoStart    bool            `json:"auto_start,omitempty"`
	HideUnmapped bool            `json:"hide_unmapped,omitempty"`
	Mappings     []MappingConfig `json:"mappings"`
}

// MappingConfig routes an input pattern to an output topic on a destination.
// Enabled defaults to true when omitted.
type MappingConfig struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	DestIP   string `json:"dest_ip,omitempty"`
	DestPort int    `json:"dest_port"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

const (
	DefaultListenIP   = "0.0.0.0"
	DefaultListenPort = 9000
	DefaultDestIP     = "127.0.0.1"
	DefaultHTTPAddr   = "127.0.0.1:8080"
)

func (m MappingConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// DisplayName returns Name, falling back to ID.
func (r RelayConfig) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return r.ID
}

// RelayByID looks up a relay by id.
func (c *Config) RelayByID(id string) (RelayConfig, bool) {
	if c == nil {
		return RelayConfig{}, false
	}
	for _, r := range c.Relays {
		if r.ID == id {
			return r, true
		}
	}
	return RelayConfig{}, false
}

// applyDefaults fills omitted relay fields in place.
func (c *Config) applyDefaults() {
	for i := range c.Relays {
		r := &c.Relays[i]
		r.ID = strings.TrimSpace(r.ID)
		if strings.TrimSpace(r.ListenIP) == "" {
			r.ListenIP = DefaultListenIP
		}
		if r.ListenPort == 0 {
			r.ListenPort = DefaultListenPort
		}
		for j := range r.Mappings {
			if strings.TrimSpace(r.Mappings[j].DestIP) == "" {
				r.Mappings[j].DestIP = DefaultDestIP
			}
		}
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}
